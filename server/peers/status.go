package peers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
	errstatus "github.com/andydunstall/gossipd/pkg/status"
	"github.com/andydunstall/gossipd/server/status"
)

// Gossiper is the subset of the gossip driver the status API reads.
type Gossiper interface {
	Peers() []peer.Peer
	Peer(e peer.Endpoint) (peer.Peer, bool)
	LocalPeer() peer.Peer
	Resync(addrs []string) ([]string, error)
}

type ResyncResponse struct {
	// Joined contains the management endpoints of the nodes joined.
	Joined []string `json:"joined"`
}

// Status exposes the known peers in the cluster.
type Status struct {
	gossiper Gossiper

	// join contains the addresses to rejoin on resync.
	join []string

	logger log.Logger
}

func NewStatus(gossiper Gossiper, join []string, logger log.Logger) *Status {
	return &Status{
		gossiper: gossiper,
		join:     join,
		logger:   logger.WithSubsystem("peers"),
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("/", s.listPeersRoute)
	group.GET("/local", s.localPeerRoute)
	group.GET("/:endpoint", s.getPeerRoute)
	group.POST("/resync", s.resyncRoute)
}

func (s *Status) listPeersRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.gossiper.Peers())
}

func (s *Status) localPeerRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.gossiper.LocalPeer())
}

func (s *Status) getPeerRoute(c *gin.Context) {
	p, err := s.peer(c.Param("endpoint"))
	if err != nil {
		errstatus.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Status) resyncRoute(c *gin.Context) {
	joined, err := s.resync()
	if err != nil {
		errstatus.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, &ResyncResponse{
		Joined: joined,
	})
}

func (s *Status) peer(endpoint string) (peer.Peer, error) {
	e, err := peer.ParseEndpoint(endpoint)
	if err != nil {
		return peer.Peer{}, errstatus.NewErrorInfo(http.StatusBadRequest, err.Error())
	}
	p, ok := s.gossiper.Peer(e)
	if !ok {
		return peer.Peer{}, errstatus.NewErrorInfo(http.StatusNotFound, "peer not found")
	}
	return p, nil
}

func (s *Status) resync() ([]string, error) {
	if len(s.join) == 0 {
		return nil, errstatus.NewErrorInfo(
			http.StatusBadRequest, "no join addresses configured",
		)
	}

	joined, err := s.gossiper.Resync(s.join)
	if err != nil {
		s.logger.Warn("failed to resync", zap.Error(err))
		return nil, errstatus.NewErrorInfo(
			http.StatusServiceUnavailable, "failed to join cluster",
		).WithCause(err)
	}

	s.logger.Info("resynced", zap.Strings("joined", joined))

	return joined, nil
}

var _ status.Handler = &Status{}
