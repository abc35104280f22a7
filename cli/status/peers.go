package status

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/andydunstall/gossipd/pkg/peer"
	"github.com/andydunstall/gossipd/server/status/client"
)

func newPeersCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "inspect known peers",
		Long: `Inspect known peers.

Queries the node for each known peer in the cluster, including the node
itself, sorted by management endpoint.

Examples:
  gossipd status peers
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showPeers(c)
	}

	return cmd
}

type peersOutput struct {
	Peers []peer.Peer `json:"peers"`
}

func showPeers(c *client.Client) {
	peers := client.NewPeers(c)

	list, err := peers.List()
	if err != nil {
		fmt.Printf("failed to get peers: %s\n", err.Error())
		os.Exit(1)
	}

	output := peersOutput{
		Peers: list,
	}
	b, _ := yaml.Marshal(output)
	fmt.Println(string(b))
}

func newPeerCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Args:  cobra.ExactArgs(1),
		Short: "inspect a peer",
		Long: `Inspect a peer.

Queries the node for the known record of the peer with the given management
endpoint.

Examples:
  gossipd status peer 10.26.104.14:8003
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showPeer(args[0], c)
	}

	return cmd
}

func showPeer(endpoint string, c *client.Client) {
	peers := client.NewPeers(c)

	p, err := peers.Peer(endpoint)
	if err != nil {
		fmt.Printf("failed to get peer: %s: %s\n", endpoint, err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(p)
	fmt.Println(string(b))
}

func newLocalCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "inspect the local peer",
		Long: `Inspect the local peer.

Queries the node for its own record.

Examples:
  gossipd status local
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		peers := client.NewPeers(c)

		p, err := peers.Local()
		if err != nil {
			fmt.Printf("failed to get local peer: %s\n", err.Error())
			os.Exit(1)
		}

		b, _ := yaml.Marshal(p)
		fmt.Println(string(b))
	}

	return cmd
}

type resyncOutput struct {
	Joined []string `json:"joined"`
}

func newResyncCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "resync the node with the cluster",
		Long: `Resync the node with the cluster.

Requests the node discards all known peers and rejoins the cluster using
its configured join addresses.

Examples:
  gossipd status resync
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		peers := client.NewPeers(c)

		joined, err := peers.Resync()
		if err != nil {
			fmt.Printf("failed to resync: %s\n", err.Error())
			os.Exit(1)
		}

		b, _ := yaml.Marshal(resyncOutput{
			Joined: joined,
		})
		fmt.Println(string(b))
	}

	return cmd
}
