package peers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
)

type fakeGossiper struct {
	local peer.Peer
	peers []peer.Peer

	resyncAddrs []string
	resyncErr   error
}

func (g *fakeGossiper) Peers() []peer.Peer {
	return g.peers
}

func (g *fakeGossiper) Peer(e peer.Endpoint) (peer.Peer, bool) {
	for _, p := range g.peers {
		if p.ManagementEndpoint == e {
			return p, true
		}
	}
	return peer.Peer{}, false
}

func (g *fakeGossiper) LocalPeer() peer.Peer {
	return g.local
}

func (g *fakeGossiper) Resync(addrs []string) ([]string, error) {
	g.resyncAddrs = addrs
	if g.resyncErr != nil {
		return nil, g.resyncErr
	}
	return []string{"10.26.104.3:8003"}, nil
}

func testPeer(host string, state peer.State) peer.Peer {
	return peer.Peer{
		ClientEndpoint:      peer.Endpoint{Host: host, Port: 8001},
		ManagementEndpoint:  peer.Endpoint{Host: host, Port: 8003},
		ReplicationEndpoint: peer.Endpoint{Host: host, Port: 8004},
		Heartbeat: peer.Heartbeat{
			Generation: 1000,
			Version:    5,
		},
		State:           state,
		ChangeStateTime: time.Unix(1700000000, 0).UTC(),
	}
}

func newTestRouter(gossiper Gossiper, join []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	NewStatus(gossiper, join, log.NewNopLogger()).Register(
		router.Group("/status").Group("/peers"),
	)
	return router
}

func request(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func newTestGossiper() *fakeGossiper {
	local := testPeer("10.26.104.2", peer.StateAlive)
	return &fakeGossiper{
		local: local,
		peers: []peer.Peer{
			local,
			testPeer("10.26.104.3", peer.StateAlive),
			testPeer("10.26.104.4", peer.StateSuspect),
		},
	}
}

func TestStatus_Peers(t *testing.T) {
	gossiper := newTestGossiper()
	router := newTestRouter(gossiper, nil)

	t.Run("list", func(t *testing.T) {
		w := request(router, http.MethodGet, "/status/peers/")
		require.Equal(t, http.StatusOK, w.Code)

		var peers []peer.Peer
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peers))
		assert.Equal(t, gossiper.peers, peers)
	})

	t.Run("local", func(t *testing.T) {
		w := request(router, http.MethodGet, "/status/peers/local")
		require.Equal(t, http.StatusOK, w.Code)

		var p peer.Peer
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		assert.Equal(t, gossiper.local, p)
	})

	t.Run("get", func(t *testing.T) {
		w := request(router, http.MethodGet, "/status/peers/10.26.104.4:8003")
		require.Equal(t, http.StatusOK, w.Code)

		var p peer.Peer
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		assert.Equal(t, gossiper.peers[2], p)
		assert.Equal(t, peer.StateSuspect, p.State)
	})

	t.Run("get not found", func(t *testing.T) {
		w := request(router, http.MethodGet, "/status/peers/10.26.104.9:8003")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("get invalid endpoint", func(t *testing.T) {
		w := request(router, http.MethodGet, "/status/peers/10.26.104.4")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStatus_Resync(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		gossiper := newTestGossiper()
		router := newTestRouter(gossiper, []string{"10.26.104.3", "10.26.104.4"})

		w := request(router, http.MethodPost, "/status/peers/resync")
		require.Equal(t, http.StatusOK, w.Code)

		var resp ResyncResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []string{"10.26.104.3:8003"}, resp.Joined)
		assert.Equal(t, []string{"10.26.104.3", "10.26.104.4"}, gossiper.resyncAddrs)
	})

	t.Run("no join addrs", func(t *testing.T) {
		gossiper := newTestGossiper()
		router := newTestRouter(gossiper, nil)

		w := request(router, http.MethodPost, "/status/peers/resync")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, gossiper.resyncAddrs)
	})

	t.Run("join failed", func(t *testing.T) {
		gossiper := newTestGossiper()
		gossiper.resyncErr = errors.New("connection refused")
		router := newTestRouter(gossiper, []string{"10.26.104.3"})

		w := request(router, http.MethodPost, "/status/peers/resync")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
