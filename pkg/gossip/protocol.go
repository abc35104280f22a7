package gossip

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/ugorji/go/codec"

	"github.com/andydunstall/gossipd/pkg/peer"
)

type messageType uint8

const (
	// messageTypeSync is a packet containing peer records to merge. A sync
	// request is answered with a sync response containing the receivers
	// diff.
	messageTypeSync messageType = iota + 1
	// messageTypeJoin is a stream request sent when joining the cluster.
	messageTypeJoin
	// messageTypeLeave is a stream request sent when leaving the cluster.
	messageTypeLeave
	// messageTypeProbe is a stream request checking the receiver is
	// reachable. The receiver responds with its own header.
	messageTypeProbe
	// messageTypeProbeRequest is a stream request asking the receiver to
	// probe a suspected peer on the senders behalf.
	messageTypeProbeRequest
)

func (t messageType) String() string {
	switch t {
	case messageTypeSync:
		return "sync"
	case messageTypeJoin:
		return "join"
	case messageTypeLeave:
		return "leave"
	case messageTypeProbe:
		return "probe"
	case messageTypeProbeRequest:
		return "probe-request"
	default:
		return "unknown"
	}
}

const (
	supportedVersion uint8 = 0
)

var errInvalidRecord = errors.New("invalid record")

// record is the wire format of a peer. The state change time is local to
// each node so is not sent.
type record struct {
	ClientEndpoint      peer.Endpoint `codec:"client"`
	ManagementEndpoint  peer.Endpoint `codec:"management"`
	ReplicationEndpoint peer.Endpoint `codec:"replication"`
	Generation          uint64        `codec:"generation"`
	Version             uint32        `codec:"version"`
	State               uint8         `codec:"state"`
}

func newRecord(p *peer.Peer) record {
	return record{
		ClientEndpoint:      p.ClientEndpoint,
		ManagementEndpoint:  p.ManagementEndpoint,
		ReplicationEndpoint: p.ReplicationEndpoint,
		Generation:          p.Heartbeat.Generation,
		Version:             p.Heartbeat.Version,
		State:               uint8(p.State),
	}
}

// Peer converts the record into a peer, rejecting records that could never
// have been sent by a valid node.
func (r *record) Peer() (peer.Peer, error) {
	if r.ManagementEndpoint.IsZero() {
		return peer.Peer{}, fmt.Errorf("%w: missing management endpoint", errInvalidRecord)
	}
	state := peer.State(r.State)
	switch state {
	case peer.StateAlive, peer.StateSuspect, peer.StateDead:
	default:
		return peer.Peer{}, fmt.Errorf(
			"%w: %s: unknown state: %d",
			errInvalidRecord, r.ManagementEndpoint, r.State,
		)
	}

	return peer.Peer{
		ClientEndpoint:      r.ClientEndpoint,
		ManagementEndpoint:  r.ManagementEndpoint,
		ReplicationEndpoint: r.ReplicationEndpoint,
		Heartbeat: peer.Heartbeat{
			Generation: r.Generation,
			Version:    r.Version,
		},
		State: state,
	}, nil
}

func newRecords(peers []peer.Peer) []record {
	records := make([]record, 0, len(peers))
	for i := range peers {
		records = append(records, newRecord(&peers[i]))
	}
	return records
}

// recordPeers converts the records into peers. A single invalid record fails
// the whole message.
func recordPeers(records []record) ([]peer.Peer, error) {
	peers := make([]peer.Peer, 0, len(records))
	for i := range records {
		p, err := records[i].Peer()
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

type syncHeader struct {
	// Sender is the management endpoint of the sending node, which is also
	// the address to respond to.
	Sender  peer.Endpoint `codec:"sender"`
	Request bool          `codec:"request"`
}

type joinHeader struct {
	Sender peer.Endpoint `codec:"sender"`
}

type leaveHeader struct {
	Sender peer.Endpoint `codec:"sender"`
}

type probeHeader struct {
	Sender peer.Endpoint `codec:"sender"`
}

type probeRequestHeader struct {
	Sender peer.Endpoint `codec:"sender"`
	Target peer.Endpoint `codec:"target"`
}

type probeResponseHeader struct {
	Sender peer.Endpoint `codec:"sender"`
	Target peer.Endpoint `codec:"target"`
	// Reachable is whether Target responded to a probe from Sender.
	Reachable bool `codec:"reachable"`
}

// trackedWriter is a wrapper for the underlying writer that counts the number
// of bytes written.
type trackedWriter struct {
	w io.Writer
	n int
}

func newTrackedWriter(w io.Writer) *trackedWriter {
	return &trackedWriter{
		w: w,
	}
}

func (w *trackedWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.n += n
	return n, err
}

func (w *trackedWriter) NumBytesWritten() int {
	return w.n
}

var _ io.Writer = &trackedWriter{}

// trackedReader is a wrapper for the underlying reader that counts the number
// of bytes read.
type trackedReader struct {
	r io.Reader
	n int
}

func newTrackedReader(r io.Reader) *trackedReader {
	return &trackedReader{
		r: r,
	}
}

func (r *trackedReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	r.n += n
	return n, err
}

func (r *trackedReader) NumBytesRead() int {
	return r.n
}

var _ io.Reader = &trackedReader{}

type encoder struct {
	encoder *codec.Encoder
}

func newEncoder(writer io.Writer) *encoder {
	var handle codec.MsgpackHandle
	return &encoder{
		encoder: codec.NewEncoder(writer, &handle),
	}
}

func (e *encoder) Encode(v interface{}) error {
	return e.encoder.Encode(v)
}

type decoder struct {
	decoder *codec.Decoder
}

func newDecoder(reader io.Reader) *decoder {
	var handle codec.MsgpackHandle
	return &decoder{
		decoder: codec.NewDecoder(reader, &handle),
	}
}

func (d *decoder) Decode(v interface{}) error {
	return d.decoder.Decode(v)
}

// encodeSync encodes a sync packet containing the header followed by as many
// of the given peers as fit in maxPacketSize.
//
// peers must be sorted. If they don't all fit, a random subset is encoded
// (in sorted order) so each peer is eventually sent. Returns the packet and
// the number of peers encoded.
func encodeSync(
	header syncHeader,
	peers []peer.Peer,
	maxPacketSize int,
) ([]byte, int, error) {
	// Add fixed header.
	var buf bytes.Buffer
	_ = buf.WriteByte(uint8(messageTypeSync))
	_ = buf.WriteByte(supportedVersion)

	if err := newEncoder(&buf).Encode(&header); err != nil {
		return nil, 0, fmt.Errorf("encode: %w", err)
	}

	if buf.Len() > maxPacketSize {
		return nil, 0, fmt.Errorf(
			"max packet size too small for header: %d < %d",
			maxPacketSize, buf.Len(),
		)
	}

	// Encode each record separately to find which fit. The records are
	// written as a sequence of values so the packet size is the sum.
	encoded := make([][]byte, 0, len(peers))
	size := 0
	for i := range peers {
		var b bytes.Buffer
		r := newRecord(&peers[i])
		if err := newEncoder(&b).Encode(&r); err != nil {
			return nil, 0, fmt.Errorf("encode: %w", err)
		}
		encoded = append(encoded, b.Bytes())
		size += b.Len()
	}

	include := make([]bool, len(encoded))
	if buf.Len()+size <= maxPacketSize {
		for i := range include {
			include[i] = true
		}
	} else {
		remaining := maxPacketSize - buf.Len()
		for _, i := range rand.Perm(len(encoded)) {
			if len(encoded[i]) <= remaining {
				include[i] = true
				remaining -= len(encoded[i])
			}
		}
	}

	n := 0
	for i, b := range encoded {
		if include[i] {
			_, _ = buf.Write(b)
			n++
		}
	}
	return buf.Bytes(), n, nil
}

func decodeSync(b []byte) (syncHeader, []peer.Peer, error) {
	r := bytes.NewBuffer(b)

	firstByte, err := r.ReadByte()
	if err != nil {
		return syncHeader{}, nil, fmt.Errorf("read: %w", err)
	}
	messageType := messageType(firstByte)
	if messageType != messageTypeSync {
		return syncHeader{}, nil, fmt.Errorf("incorrect message type: %s", messageType)
	}
	version, err := r.ReadByte()
	if err != nil {
		return syncHeader{}, nil, fmt.Errorf("read: %w", err)
	}
	if version != supportedVersion {
		return syncHeader{}, nil, fmt.Errorf("unsupported version: %d", version)
	}

	decoder := newDecoder(r)
	var header syncHeader
	if err := decoder.Decode(&header); err != nil {
		return syncHeader{}, nil, fmt.Errorf("decode: %w", err)
	}

	var peers []peer.Peer
	for {
		// Read records until EOF.
		var rec record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return syncHeader{}, nil, fmt.Errorf("decode: %w", err)
		}
		p, err := rec.Peer()
		if err != nil {
			return syncHeader{}, nil, err
		}
		peers = append(peers, p)
	}

	return header, peers, nil
}
