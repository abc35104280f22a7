package gossip

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
)

// clusterState contains the known peers in the cluster.
//
// The local peer is always up to date as it can only be updated locally.
// The records of remote peers are eventually consistent and propagated via
// gossip.
type clusterState struct {
	list     *peer.List
	shuffled *peer.Shuffled

	// heartbeats contains the last seen heartbeat of each remote peer, used
	// to report to the failure detector when a heartbeat advances.
	heartbeats map[peer.Endpoint]peer.Heartbeat

	// left indicates the local peer has left the cluster, after which no
	// further updates are merged.
	left bool

	// mu protects the above fields.
	mu sync.Mutex

	failureDetector failureDetector

	now func() time.Time

	metrics *Metrics

	logger log.Logger
}

type stateOptions struct {
	maxPeers  int
	listener  peer.Listener
	now       func() time.Time
	shuffling []peer.ShuffledOption
}

// newClusterState creates the cluster state containing only the local peer.
func newClusterState(
	local peer.Peer,
	opts stateOptions,
	failureDetector failureDetector,
	metrics *Metrics,
	logger log.Logger,
) *clusterState {
	if opts.now == nil {
		opts.now = time.Now
	}

	s := &clusterState{
		heartbeats:      make(map[peer.Endpoint]peer.Heartbeat),
		failureDetector: failureDetector,
		now:             opts.now,
		metrics:         metrics,
		logger:          logger,
	}

	listOpts := []peer.ListOption{
		peer.WithClock(opts.now),
		peer.WithListener(&joinListener{metrics: metrics, logger: logger}),
	}
	if opts.maxPeers > 0 {
		listOpts = append(listOpts, peer.WithCapacity(opts.maxPeers))
	}
	if opts.listener != nil {
		listOpts = append(listOpts, peer.WithListener(opts.listener))
	}
	s.list = peer.NewList(local.ManagementEndpoint, listOpts...)
	// The list is empty so the local peer can always be inserted.
	_ = s.list.Insert(local)

	s.shuffled = peer.NewShuffled(
		s.list.Members, local.ManagementEndpoint, opts.shuffling...,
	)

	s.metrics.setPeers(s.list.Members())

	return s
}

func (s *clusterState) Peer(e peer.Endpoint) (peer.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.list.Find(e)
	if !ok {
		return peer.Peer{}, false
	}
	return *p, true
}

func (s *clusterState) LocalPeer() peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.local()
}

// Peers returns the known peers sorted by identity.
func (s *clusterState) Peers() []peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.list.Peers()
}

func (s *clusterState) Left() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.left
}

// Tick increments the local heartbeat version at the start of a gossip round.
// Returns false if the local peer has left.
func (s *clusterState) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return false
	}
	s.local().Heartbeat.Version++
	return true
}

// Targets selects the peers to gossip with this round.
//
// The next peer in the shuffled rotation is included if it isn't alive, so
// suspect and dead peers are still contacted and partitions can heal. Then up
// to fanout alive peers are selected at random.
func (s *clusterState) Targets(fanout int) []peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []peer.Peer

	var rotation peer.Peer
	var exclude peer.Endpoint
	if s.shuffled.Next(&rotation) {
		exclude = rotation.ManagementEndpoint
		if rotation.ManagementEndpoint != s.list.LocalEndpoint() &&
			rotation.State != peer.StateAlive {
			targets = append(targets, rotation)
		}
	}

	return s.shuffled.Select(targets, fanout, exclude)
}

// Merge merges the peer records received from sender.
//
// If withDiff is true, returns the local records the sender is missing or has
// an older version of.
func (s *clusterState) Merge(
	sender peer.Endpoint,
	updates []peer.Peer,
	withDiff bool,
) ([]peer.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return nil, nil
	}

	now := s.now()

	var diff *peer.List
	if withDiff {
		diff = peer.NewList(
			s.list.LocalEndpoint(), peer.WithCapacity(s.list.Capacity()),
		)
	}

	err := s.list.Merge(updates, diff)
	if errors.Is(err, peer.ErrUnsorted) {
		s.metrics.MergesRejected.Inc()
		return nil, err
	}
	s.metrics.Merges.Inc()
	if err != nil {
		// The list is full, though the known peers were still merged.
		s.metrics.MergesFull.Inc()
	}

	// Only track senders with a record.
	if _, ok := s.list.Find(sender); ok && sender != s.list.LocalEndpoint() {
		s.failureDetector.Report(sender, now)
	}
	s.observeHeartbeats(now)
	s.metrics.setPeers(s.list.Members())

	if diff == nil {
		return nil, err
	}
	return diff.Peers(), err
}

// Suspects returns the alive remote peers whose suspicion level exceeds
// threshold. They are only marked suspect once probing them fails.
func (s *clusterState) Suspects(threshold float64) []peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return nil
	}

	now := s.now()
	var suspects []peer.Peer
	for _, p := range s.list.Members() {
		if p.ManagementEndpoint == s.list.LocalEndpoint() ||
			p.State != peer.StateAlive {
			continue
		}
		if s.failureDetector.SuspicionLevel(p.ManagementEndpoint, now) > threshold {
			suspects = append(suspects, *p)
		}
	}
	return suspects
}

// MarkSuspect marks the peer as suspect, unless its record changed since p
// was read, meaning the peer was heard from while being probed. Returns
// whether the peer was marked.
func (s *clusterState) MarkSuspect(p peer.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return false
	}

	known, ok := s.list.Find(p.ManagementEndpoint)
	if !ok || known.State != peer.StateAlive || known.Heartbeat != p.Heartbeat {
		return false
	}

	now := s.now()
	known.Mark(peer.StateSuspect, now)
	s.metrics.Suspicions.Inc()
	s.logger.Info(
		"peer suspect",
		zap.String("peer", known.ID()),
		zap.Float64("phi", s.failureDetector.SuspicionLevel(known.ManagementEndpoint, now)),
	)

	s.metrics.setPeers(s.list.Members())
	return true
}

// Reached records that the peer responded to a probe.
func (s *clusterState) Reached(e peer.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.list.Find(e); ok {
		s.failureDetector.Report(e, s.now())
	}
}

// ExpireSuspects marks peers that have been suspect for longer than timeout
// as dead.
func (s *clusterState) ExpireSuspects(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return
	}

	now := s.now()
	for _, p := range s.list.Members() {
		if p.ManagementEndpoint == s.list.LocalEndpoint() ||
			p.State != peer.StateSuspect {
			continue
		}
		if now.Sub(p.ChangeStateTime) > timeout {
			p.Mark(peer.StateDead, now)
			s.failureDetector.Remove(p.ManagementEndpoint)
			s.metrics.Deaths.Inc()
			s.logger.Info(
				"peer dead",
				zap.String("peer", p.ID()),
			)
		}
	}

	s.metrics.setPeers(s.list.Members())
}

// Leave bumps the local heartbeat and marks the local peer as dead. Once left
// no further updates are merged so the local peer doesn't refute its own
// departure. Returns the updated local record.
func (s *clusterState) Leave() peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.local()
	if !s.left {
		s.left = true
		local.Heartbeat.Version++
		local.Mark(peer.StateDead, s.now())
	}

	s.metrics.setPeers(s.list.Members())

	return *local
}

// AlivePeers returns up to limit random alive remote peers, other than
// exclude if given.
func (s *clusterState) AlivePeers(limit int, exclude peer.Endpoint) []peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.shuffled.Select(nil, limit, exclude)
}

// Reset discards all known remote peers, keeping only the local peer.
func (s *clusterState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := *s.local()
	s.list.Clear()
	_ = s.list.Insert(local)
	s.shuffled.Reset()

	for e := range s.heartbeats {
		s.failureDetector.Remove(e)
	}
	s.heartbeats = make(map[peer.Endpoint]peer.Heartbeat)

	s.metrics.setPeers(s.list.Members())
}

// observeHeartbeats reports an arrival for each remote peer whose heartbeat
// advanced since the last merge.
func (s *clusterState) observeHeartbeats(now time.Time) {
	for _, p := range s.list.Members() {
		if p.ManagementEndpoint == s.list.LocalEndpoint() {
			continue
		}
		last, ok := s.heartbeats[p.ManagementEndpoint]
		if ok && p.Heartbeat.Compare(last) <= 0 {
			continue
		}
		s.heartbeats[p.ManagementEndpoint] = p.Heartbeat
		if p.State != peer.StateDead {
			s.failureDetector.Report(p.ManagementEndpoint, now)
		}
	}
}

func (s *clusterState) local() *peer.Peer {
	local, ok := s.list.Local()
	if !ok {
		panic("local peer not found")
	}
	return local
}

// joinListener records discovered peers.
type joinListener struct {
	metrics *Metrics
	logger  log.Logger
}

func (l *joinListener) OnPeerJoin(p peer.Peer) {
	l.metrics.Joins.Inc()
	l.logger.Info(
		"peer joined",
		zap.String("peer", p.ID()),
		zap.String("client-endpoint", p.ClientEndpoint.String()),
		zap.String("replication-endpoint", p.ReplicationEndpoint.String()),
	)
}

var _ peer.Listener = &joinListener{}
