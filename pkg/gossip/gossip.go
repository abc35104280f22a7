package gossip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/gossipd/pkg/backoff"
	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
)

const (
	streamTimeout = time.Second * 10

	// joinRetries is the number of times to retry joining each address.
	joinRetries = 3

	// leaveNotify is the number of peers to notify when leaving.
	leaveNotify = 3

	// failureDetectorSamples is the number of arrival intervals the failure
	// detector uses to estimate the mean interval.
	failureDetectorSamples = 50
)

// LocalEndpoints contains the endpoints the local node advertises to the
// cluster.
type LocalEndpoints struct {
	Client peer.Endpoint

	// Management is the gossip endpoint, which identifies the node.
	Management peer.Endpoint

	Replication peer.Endpoint
}

type Gossip struct {
	state *clusterState

	config *Config

	streamListener *streamListener
	packetListener *packetListener

	prober *prober

	dialer     *net.Dialer
	packetConn net.PacketConn

	metrics *Metrics

	logger log.Logger

	closed     *atomic.Bool
	shutdownCh chan struct{}
	// ctx is cancelled on close to interrupt join retries.
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

// New creates the local peer and starts gossiping.
//
// streamLn and packetLn must be bound to config.BindAddr. listener, which
// may be nil, is notified when new peers join.
func New(
	local LocalEndpoints,
	config *Config,
	streamLn net.Listener,
	packetLn net.PacketConn,
	listener peer.Listener,
	logger log.Logger,
) *Gossip {
	logger = logger.WithSubsystem("gossip")

	logger.Info(
		"starting gossip",
		zap.String("management-endpoint", local.Management.String()),
		zap.String("client-endpoint", local.Client.String()),
		zap.String("replication-endpoint", local.Replication.String()),
		zap.String("bind-addr", config.BindAddr),
	)

	metrics := newMetrics()

	failureDetector := newAccrualFailureDetector(
		config.Interval*2, failureDetectorSamples,
	)

	now := time.Now()
	state := newClusterState(
		peer.Peer{
			ClientEndpoint:      local.Client,
			ManagementEndpoint:  local.Management,
			ReplicationEndpoint: local.Replication,
			Heartbeat: peer.Heartbeat{
				Generation: uint64(now.UnixMilli()),
			},
			State:           peer.StateAlive,
			ChangeStateTime: now,
		},
		stateOptions{
			maxPeers: config.MaxPeers,
			listener: listener,
		},
		failureDetector,
		metrics,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	gossip := &Gossip{
		state:  state,
		config: config,
		dialer: &net.Dialer{
			Timeout: streamTimeout,
		},
		packetConn: packetLn,
		metrics:    metrics,
		logger:     logger,
		closed:     atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	gossip.prober = newProber(gossip, metrics, logger)

	streamListener := newStreamListener(
		streamLn, state, gossip, streamTimeout, config.ProbeTimeout, metrics, logger,
	)
	packetListener := newPacketListener(
		packetLn, state, config.MaxPacketSize, metrics, logger,
	)
	gossip.streamListener = streamListener
	gossip.packetListener = packetListener

	gossip.wg.Add(2)
	go func() {
		defer gossip.wg.Done()
		streamListener.Serve()
	}()
	go func() {
		defer gossip.wg.Done()
		packetListener.Serve()
	}()

	gossip.schedule()
	return gossip
}

// Peer returns the known record of the peer with the given management
// endpoint.
func (g *Gossip) Peer(e peer.Endpoint) (peer.Peer, bool) {
	return g.state.Peer(e)
}

// LocalPeer returns the record of the local node.
func (g *Gossip) LocalPeer() peer.Peer {
	return g.state.LocalPeer()
}

// Peers returns the known peers, including the local node, sorted by
// management endpoint.
func (g *Gossip) Peers() []peer.Peer {
	return g.state.Peers()
}

// Join attempts to join an existing cluster by syncronising with the nodes
// at the given addresses.
//
// The addresses may contain either IP addresses or domain names. When a domain
// name is used, the domain is resolved and each resolved IP address is
// attempted. If the port is omitted the default bind port is used. Each
// address is attempted concurrently, retrying with backoff.
//
// Returns the management endpoints of joined nodes. Or if addresses were
// provided but no nodes could be joined an error is returned. Note if a domain
// was provided that only resolved to the current node then Join will return
// nil.
func (g *Gossip) Join(addrs []string) ([]string, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	localAddr := g.state.LocalPeer().ManagementEndpoint.String()

	var resolved []string
	for _, unresolvedAddr := range addrs {
		unresolvedAddr = g.ensurePort(unresolvedAddr)
		resolvedAddrs, err := resolveAddr(unresolvedAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve: %s: %w", unresolvedAddr, err)
		}

		if len(resolvedAddrs) == 0 {
			g.logger.Warn(
				"join: domain did not resolve any addresses",
				zap.String("addr", unresolvedAddr),
			)
			continue
		}

		for _, addr := range resolvedAddrs {
			if addr == localAddr {
				// Ignore ourselves.
				continue
			}
			resolved = append(resolved, addr)
		}
	}

	var mu sync.Mutex
	var joined []string
	var lastJoinErr error

	var group errgroup.Group
	for _, addr := range resolved {
		addr := addr
		group.Go(func() error {
			endpoint, err := g.joinWithRetry(addr)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				lastJoinErr = err

				g.logger.Warn(
					"failed to join node",
					zap.String("addr", addr),
					zap.Error(err),
				)
				return nil
			}

			g.logger.Info(
				"joined node",
				zap.String("addr", addr),
				zap.String("peer", endpoint),
			)
			joined = append(joined, endpoint)
			return nil
		})
	}
	// Errors are recorded in lastJoinErr so a single failure doesn't fail the
	// join.
	_ = group.Wait()

	// Return an error if we couldn't join any resolved addresses (if there
	// were no resolved addresses return nil).
	if len(joined) == 0 && lastJoinErr != nil {
		return nil, lastJoinErr
	}
	sort.Strings(joined)
	return joined, nil
}

// Resync discards all known peers then rejoins the cluster using the given
// addresses.
func (g *Gossip) Resync(addrs []string) ([]string, error) {
	g.logger.Info("resync", zap.Strings("addrs", addrs))

	g.state.Reset()
	return g.Join(addrs)
}

// Leave gracefully leaves the cluster.
//
// This marks the local peer as dead, then blocks while it attempts to notify
// upto 3 alive peers that the node is leaving to ensure the status update is
// propagated.
//
// After the node has left it's state is not updated again.
//
// Returns an error if there are alive peers though none could be notified.
func (g *Gossip) Leave(ctx context.Context) error {
	local := g.state.Leave()

	g.logger.Info("leaving cluster", zap.String("heartbeat", local.Heartbeat.String()))

	notified := 0
	var lastLeaveErr error
	for _, p := range g.state.AlivePeers(leaveNotify, peer.Endpoint{}) {
		if err := g.leave(ctx, p.ManagementEndpoint.String(), local); err != nil {
			g.logger.Warn(
				"failed to send leave to peer",
				zap.String("peer", p.ID()),
				zap.Error(err),
			)
			lastLeaveErr = err
		} else {
			g.logger.Info(
				"notified peer of leave",
				zap.String("peer", p.ID()),
			)

			notified++
		}
	}

	if notified > 0 {
		return nil
	}
	return lastLeaveErr
}

func (g *Gossip) Metrics() *Metrics {
	return g.metrics
}

// Close stops gossiping and closes all listeners.
//
// To leave gracefully, first call Leave, otherwise other nodes in the
// cluster will detect this nodes as failed rather than as having left.
func (g *Gossip) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		// Already closed.
		return nil
	}

	close(g.shutdownCh)
	g.cancel()

	var errs error
	if err := g.streamListener.Close(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := g.packetListener.Close(); err != nil {
		errs = errors.Join(errs, err)
	}

	g.wg.Wait()

	return errs
}

// schedule gossips and checks the liveness of peers at the configured rate.
func (g *Gossip) schedule() {
	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.scheduleFunc(g.config.Interval, func() {
			if err := g.gossipRound(); err != nil {
				g.logger.Debug("gossip round failed", zap.Error(err))
			}
		})
	}()
	go func() {
		defer g.wg.Done()
		g.scheduleFunc(g.config.Interval, g.checkFailures)
	}()
}

func (g *Gossip) scheduleFunc(interval time.Duration, f func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Add 10% jitter to avoid nodes synchronising.
			var jitter time.Duration
			if interval >= 10 {
				jitter = time.Duration(rand.Int63n(int64(interval / 10)))
			}
			select {
			case <-time.After(jitter):
				f()
			case <-g.shutdownCh:
				return
			}

		case <-g.shutdownCh:
			return
		}
	}
}

// gossipRound increments the local heartbeat then synchronises with the
// selected targets.
func (g *Gossip) gossipRound() error {
	if !g.state.Tick() {
		// Left.
		return nil
	}

	targets := g.state.Targets(g.config.Fanout)
	if len(targets) == 0 {
		return nil
	}

	records := g.state.Peers()
	local := g.state.LocalPeer().ManagementEndpoint

	var errs error
	for _, target := range targets {
		if err := sendSync(
			g.packetConn,
			syncHeader{
				Sender:  local,
				Request: true,
			},
			records,
			target.ManagementEndpoint,
			g.config.MaxPacketSize,
			g.metrics,
		); err != nil {
			errs = errors.Join(errs, fmt.Errorf("sync: %s: %w", target.ID(), err))
		}
	}
	return errs
}

// checkFailures probes the peers whose suspicion level exceeds the
// threshold, marking those that can't be reached as suspect. Then marks peers
// that have been suspect for longer than the suspicion timeout as dead.
func (g *Gossip) checkFailures() {
	suspects := g.state.Suspects(g.config.SuspicionThreshold)

	var group errgroup.Group
	for _, p := range suspects {
		p := p
		group.Go(func() error {
			helpers := g.state.AlivePeers(
				g.config.SuspectProbes-1, p.ManagementEndpoint,
			)
			if g.prober.Reachable(g.ctx, p.ManagementEndpoint, helpers) {
				g.state.Reached(p.ManagementEndpoint)
				return nil
			}
			if g.ctx.Err() != nil {
				// Closed while probing.
				return nil
			}
			g.state.MarkSuspect(p)
			return nil
		})
	}
	_ = group.Wait()

	g.state.ExpireSuspects(g.config.SuspicionTimeout)
}

func (g *Gossip) joinWithRetry(addr string) (string, error) {
	backoff := backoff.New(joinRetries, time.Millisecond*100, time.Second)
	for {
		endpoint, err := g.join(g.ctx, addr)
		if err == nil {
			return endpoint, nil
		}
		if !backoff.Wait(g.ctx) {
			return "", err
		}
	}
}

// join sends the local peer list to the node at the given address and merges
// the records it responds with.
func (g *Gossip) join(ctx context.Context, addr string) (string, error) {
	stream, err := g.openStream(ctx, addr, messageTypeJoin, streamTimeout)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	encoder := newEncoder(stream.w)

	local := g.state.LocalPeer()
	if err := encoder.Encode(&joinHeader{
		Sender: local.ManagementEndpoint,
	}); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	records := newRecords(g.state.Peers())
	if err := encoder.Encode(records); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	g.metrics.RecordsOutbound.Add(float64(len(records)))

	if err := stream.w.Flush(); err != nil {
		return "", fmt.Errorf("flush: %w", err)
	}

	decoder := newDecoder(stream.r)

	var header joinHeader
	if err := decoder.Decode(&header); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if err := decoder.Decode(&records); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	peers, err := recordPeers(records)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	if _, err := g.state.Merge(
		header.Sender, peers, false,
	); err != nil && !errors.Is(err, peer.ErrFull) {
		return "", fmt.Errorf("merge: %w", err)
	}

	return header.Sender.String(), nil
}

// leave sends the local record to the node at the given address and waits for
// an acknowledgement.
func (g *Gossip) leave(ctx context.Context, addr string, local peer.Peer) error {
	stream, err := g.openStream(ctx, addr, messageTypeLeave, streamTimeout)
	if err != nil {
		return err
	}
	defer stream.Close()

	encoder := newEncoder(stream.w)

	if err := encoder.Encode(&leaveHeader{
		Sender: local.ManagementEndpoint,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := encoder.Encode([]record{newRecord(&local)}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	g.metrics.RecordsOutbound.Inc()

	if err := stream.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	// Wait for a header as an acknowledgement.
	var header leaveHeader
	if err := newDecoder(stream.r).Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	return nil
}

// probe checks the node at target responds within the probe timeout.
func (g *Gossip) probe(ctx context.Context, target peer.Endpoint) error {
	stream, err := g.openStream(
		ctx, target.String(), messageTypeProbe, g.config.ProbeTimeout,
	)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := newEncoder(stream.w).Encode(&probeHeader{
		Sender: g.state.LocalPeer().ManagementEndpoint,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := stream.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	var header probeHeader
	if err := newDecoder(stream.r).Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if header.Sender != target {
		return fmt.Errorf("unexpected responder: %s", header.Sender)
	}
	return nil
}

// requestProbe asks helper to probe target. Returns whether target responded
// to helper.
func (g *Gossip) requestProbe(
	ctx context.Context,
	helper peer.Endpoint,
	target peer.Endpoint,
) (bool, error) {
	// The helper has to wait for its own probe to time out.
	stream, err := g.openStream(
		ctx, helper.String(), messageTypeProbeRequest, g.config.ProbeTimeout*2,
	)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	if err := newEncoder(stream.w).Encode(&probeRequestHeader{
		Sender: g.state.LocalPeer().ManagementEndpoint,
		Target: target,
	}); err != nil {
		return false, fmt.Errorf("encode: %w", err)
	}
	if err := stream.w.Flush(); err != nil {
		return false, fmt.Errorf("flush: %w", err)
	}

	var header probeResponseHeader
	if err := newDecoder(stream.r).Decode(&header); err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}
	if header.Target != target {
		return false, fmt.Errorf("unexpected probe target: %s", header.Target)
	}
	return header.Reachable, nil
}

var _ probeTransport = &Gossip{}

// outboundStream is a stream connection to another node carrying a single
// request.
type outboundStream struct {
	conn net.Conn

	trackedReader *trackedReader
	trackedWriter *trackedWriter

	r *bufio.Reader
	w *bufio.Writer

	cancel  func()
	metrics *Metrics
}

// openStream connects to the node at addr and writes the message type and
// protocol version.
//
// The connection must complete within timeout, or before ctx is done if
// earlier.
func (g *Gossip) openStream(
	ctx context.Context,
	addr string,
	messageType messageType,
	timeout time.Duration,
) (*outboundStream, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)

	conn, err := g.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		cancel()
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	g.metrics.ConnectionsOutbound.Inc()

	stream := &outboundStream{
		conn:          conn,
		trackedReader: newTrackedReader(conn),
		trackedWriter: newTrackedWriter(conn),
		cancel:        cancel,
		metrics:       g.metrics,
	}
	stream.r = bufio.NewReader(stream.trackedReader)
	stream.w = bufio.NewWriter(stream.trackedWriter)

	if err := stream.w.WriteByte(byte(messageType)); err != nil {
		stream.Close()
		return nil, fmt.Errorf("write: %w", err)
	}
	if err := stream.w.WriteByte(supportedVersion); err != nil {
		stream.Close()
		return nil, fmt.Errorf("write: %w", err)
	}
	return stream, nil
}

func (s *outboundStream) Close() {
	s.metrics.StreamBytesInbound.Add(float64(s.trackedReader.NumBytesRead()))
	s.metrics.StreamBytesOutbound.Add(float64(s.trackedWriter.NumBytesWritten()))
	_ = s.conn.Close()
	s.cancel()
}

// ensurePort adds the configured bind port to addr if addr doesn't already
// have a port.
func (g *Gossip) ensurePort(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}

	_, bindPort, err := net.SplitHostPort(g.config.BindAddr)
	if err != nil {
		// We've already bound to bind addr so expect it to be valid.
		panic("invalid bind addr:" + g.config.BindAddr)
	}

	return addr + ":" + bindPort
}

// resolveAddr resolves the given address, which may be a domain pointing
// to multiple IP addresses.
func resolveAddr(addr string) ([]string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid addr: %s: %w", addr, err)
	}

	// If the address already contains an IP address, do nothing.
	if ip := net.ParseIP(host); ip != nil {
		return []string{addr}, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("lookup host: %s: %w", host, err)
	}

	var addrs []string
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	return addrs, nil
}
