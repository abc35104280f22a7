package gossip

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
)

// streamListener listens for incoming stream connections and reads messages
// from those connections.
type streamListener struct {
	ln net.Listener

	state *clusterState

	// transport probes peers on behalf of other nodes.
	transport probeTransport

	streamTimeout time.Duration
	probeTimeout  time.Duration

	metrics *Metrics

	logger log.Logger
}

func newStreamListener(
	ln net.Listener,
	state *clusterState,
	transport probeTransport,
	streamTimeout time.Duration,
	probeTimeout time.Duration,
	metrics *Metrics,
	logger log.Logger,
) *streamListener {
	return &streamListener{
		ln:            ln,
		state:         state,
		transport:     transport,
		streamTimeout: streamTimeout,
		probeTimeout:  probeTimeout,
		metrics:       metrics,
		logger:        logger,
	}
}

// Serve will accept connections until listener is closed.
func (l *streamListener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		l.logger.Debug(
			"accepted conn",
			zap.String("addr", conn.RemoteAddr().String()),
		)

		l.metrics.ConnectionsInbound.Inc()

		go func() {
			if err := l.handleConn(conn); err != nil {
				l.logger.Warn(
					"failed to handle connection",
					zap.String("addr", conn.RemoteAddr().String()),
					zap.Error(err),
				)
			}
		}()
	}
}

func (l *streamListener) Close() error {
	return l.ln.Close()
}

func (l *streamListener) handleConn(conn net.Conn) error {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(l.streamTimeout))

	trackedReader := newTrackedReader(conn)
	defer func() {
		l.metrics.StreamBytesInbound.Add(float64(trackedReader.NumBytesRead()))
	}()

	trackedWriter := newTrackedWriter(conn)
	defer func() {
		l.metrics.StreamBytesOutbound.Add(float64(trackedWriter.NumBytesWritten()))
	}()

	r := bufio.NewReader(trackedReader)
	w := bufio.NewWriter(trackedWriter)

	firstByte, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	messageType := messageType(firstByte)

	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if version != supportedVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}

	switch messageType {
	case messageTypeJoin:
		return l.join(r, w)
	case messageTypeLeave:
		return l.leave(r, w)
	case messageTypeProbe:
		return l.probe(r, w)
	case messageTypeProbeRequest:
		return l.probeRequest(r, w)
	default:
		return fmt.Errorf("unsupported message type: %d", messageType)
	}
}

// join merges the full peer list of the joining node, then responds with the
// records the joining node is missing.
func (l *streamListener) join(r io.Reader, w *bufio.Writer) error {
	decoder := newDecoder(r)
	var header joinHeader
	if err := decoder.Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var records []record
	if err := decoder.Decode(&records); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	peers, err := recordPeers(records)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	diff, err := l.state.Merge(header.Sender, peers, true)
	if err != nil && !errors.Is(err, peer.ErrFull) {
		return fmt.Errorf("merge: %s: %w", header.Sender, err)
	}

	l.logger.Debug(
		"received join",
		zap.String("peer", header.Sender.String()),
		zap.Int("records", len(records)),
		zap.Int("diff", len(diff)),
	)

	encoder := newEncoder(w)
	if err := encoder.Encode(&joinHeader{
		Sender: l.state.LocalPeer().ManagementEndpoint,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := encoder.Encode(newRecords(diff)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	l.metrics.RecordsOutbound.Add(float64(len(diff)))

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

// leave merges the record of the leaving node and responds with a header as
// an acknowledgement.
func (l *streamListener) leave(r io.Reader, w *bufio.Writer) error {
	decoder := newDecoder(r)
	var header leaveHeader
	if err := decoder.Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var records []record
	if err := decoder.Decode(&records); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	peers, err := recordPeers(records)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if _, err := l.state.Merge(
		header.Sender, peers, false,
	); err != nil && !errors.Is(err, peer.ErrFull) {
		return fmt.Errorf("merge: %s: %w", header.Sender, err)
	}

	l.logger.Info("peer left", zap.String("peer", header.Sender.String()))

	// Send our own header as an acknowledgement.
	encoder := newEncoder(w)
	if err := encoder.Encode(&leaveHeader{
		Sender: l.state.LocalPeer().ManagementEndpoint,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

// probe responds with the local header to show the node is reachable.
func (l *streamListener) probe(r io.Reader, w *bufio.Writer) error {
	var header probeHeader
	if err := newDecoder(r).Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if l.state.Left() {
		// Once left, don't respond so the node is no longer considered
		// reachable.
		return nil
	}

	if err := newEncoder(w).Encode(&probeHeader{
		Sender: l.state.LocalPeer().ManagementEndpoint,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// probeRequest probes the target on behalf of the sender and responds with
// whether the target was reachable.
func (l *streamListener) probeRequest(r io.Reader, w *bufio.Writer) error {
	var header probeRequestHeader
	if err := newDecoder(r).Decode(&header); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if l.state.Left() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.probeTimeout)
	defer cancel()

	reachable := true
	if err := l.transport.probe(ctx, header.Target); err != nil {
		reachable = false
		l.logger.Debug(
			"requested probe failed",
			zap.String("peer", header.Target.String()),
			zap.String("sender", header.Sender.String()),
			zap.Error(err),
		)
	}

	if err := newEncoder(w).Encode(&probeResponseHeader{
		Sender:    l.state.LocalPeer().ManagementEndpoint,
		Target:    header.Target,
		Reachable: reachable,
	}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// packetListener listens for and handles incoming packets.
type packetListener struct {
	ln net.PacketConn

	state *clusterState

	readBuf []byte

	maxPacketSize int

	metrics *Metrics

	logger log.Logger
}

func newPacketListener(
	ln net.PacketConn,
	state *clusterState,
	maxPacketSize int,
	metrics *Metrics,
	logger log.Logger,
) *packetListener {
	return &packetListener{
		ln:            ln,
		state:         state,
		readBuf:       make([]byte, maxPacketSize),
		maxPacketSize: maxPacketSize,
		metrics:       metrics,
		logger:        logger,
	}
}

func (l *packetListener) Serve() {
	for {
		n, addr, err := l.ln.ReadFrom(l.readBuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("failed to read packet", zap.Error(err))
			continue
		}

		l.metrics.PacketBytesInbound.Add(float64(n))

		buf := l.readBuf[:n]
		if err = l.handlePacket(buf); err != nil {
			l.logger.Warn(
				"failed to handle packet",
				zap.String("addr", addr.String()),
				zap.Error(err),
			)
		}
	}
}

func (l *packetListener) Close() error {
	return l.ln.Close()
}

func (l *packetListener) handlePacket(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("packet too small: %d", len(b))
	}

	messageType := messageType(b[0])
	version := b[1]
	if version != supportedVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}

	switch messageType {
	case messageTypeSync:
		return l.sync(b)
	default:
		return fmt.Errorf("unsupported message type: %d", messageType)
	}
}

// sync merges the received records. If the sync is a request, responds with
// the local records the sender is missing or has an older version of.
func (l *packetListener) sync(b []byte) error {
	header, peers, err := decodeSync(b)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if l.state.Left() {
		// Once left, stop responding so peers don't consider the node alive.
		return nil
	}

	diff, err := l.state.Merge(header.Sender, peers, header.Request)
	if err != nil {
		if !errors.Is(err, peer.ErrFull) {
			return fmt.Errorf("merge: %s: %w", header.Sender, err)
		}
		l.logger.Warn(
			"merge sync",
			zap.String("peer", header.Sender.String()),
			zap.Error(err),
		)
	}

	if !header.Request {
		return nil
	}

	// Always respond, even with an empty diff, as the response is also used
	// to detect the liveness of the local node.
	return sendSync(
		l.ln,
		syncHeader{
			Sender:  l.state.LocalPeer().ManagementEndpoint,
			Request: false,
		},
		diff,
		header.Sender,
		l.maxPacketSize,
		l.metrics,
	)
}

// sendSync writes a sync packet containing as many of the given peers as fit
// in maxPacketSize.
func sendSync(
	conn net.PacketConn,
	header syncHeader,
	peers []peer.Peer,
	to peer.Endpoint,
	maxPacketSize int,
	metrics *Metrics,
) error {
	b, n, err := encodeSync(header, peers, maxPacketSize)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	addr := to.String()
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp: %s: %w", addr, err)
	}
	if _, err = conn.WriteTo(b, udpAddr); err != nil {
		return fmt.Errorf("write packet: %s: %w", addr, err)
	}

	metrics.PacketBytesOutbound.Add(float64(len(b)))
	metrics.RecordsOutbound.Add(float64(n))

	return nil
}
