package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/andydunstall/gossipd/pkg/peer"
	"github.com/andydunstall/gossipd/server/peers"
)

type Peers struct {
	client *Client
}

func NewPeers(client *Client) *Peers {
	return &Peers{
		client: client,
	}
}

func (c *Peers) List() ([]peer.Peer, error) {
	r, err := c.client.Request("/status/peers/")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var list []peer.Peer
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return list, nil
}

func (c *Peers) Local() (*peer.Peer, error) {
	return c.get("/status/peers/local")
}

func (c *Peers) Peer(endpoint string) (*peer.Peer, error) {
	return c.get("/status/peers/" + endpoint)
}

// Resync requests the node discards its known peers and rejoins the cluster.
// Returns the management endpoints of the joined nodes.
func (c *Peers) Resync() ([]string, error) {
	r, err := c.client.Do(http.MethodPost, "/status/peers/resync")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var resp peers.ResyncResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Joined, nil
}

func (c *Peers) get(path string) (*peer.Peer, error) {
	r, err := c.client.Request(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var p peer.Peer
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &p, nil
}
