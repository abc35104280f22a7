package peer

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a peer as seen by the failure detector.
type State uint8

const (
	// StateNull is the state of a reset record.
	StateNull State = iota
	// StateAlive means the peer is considered healthy.
	StateAlive
	// StateSuspect means the peer is suspected to have failed, though it may
	// still refute the suspicion.
	StateSuspect
	// StateDead means the peer is considered failed.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "null":
		*s = StateNull
	case "alive":
		*s = StateAlive
	case "suspect":
		*s = StateSuspect
	case "dead":
		*s = StateDead
	default:
		return fmt.Errorf("unknown state: %s", string(b))
	}
	return nil
}

// Peer is the known record of a broker in the cluster.
//
// The identity of a peer is its management endpoint.
type Peer struct {
	// ClientEndpoint is the address clients connect to.
	ClientEndpoint Endpoint `json:"client_endpoint"`

	// ManagementEndpoint is the address used for gossip and identifies the
	// peer.
	ManagementEndpoint Endpoint `json:"management_endpoint"`

	// ReplicationEndpoint is the address used for replication traffic.
	ReplicationEndpoint Endpoint `json:"replication_endpoint"`

	Heartbeat Heartbeat `json:"heartbeat"`

	State State `json:"state"`

	// ChangeStateTime is the local time the state last changed. It is not
	// gossiped.
	ChangeStateTime time.Time `json:"change_state_time"`
}

// ID returns the peer identity as a string.
func (p *Peer) ID() string {
	return p.ManagementEndpoint.String()
}

// Compare orders peers by their management endpoint.
func (p *Peer) Compare(o *Peer) int {
	return p.ManagementEndpoint.Compare(o.ManagementEndpoint)
}

// Mark transitions the peer to the given state at time now. Returns false if
// the peer was already in that state, in which case nothing changes.
func (p *Peer) Mark(state State, now time.Time) bool {
	if p.State == state {
		return false
	}
	p.State = state
	p.ChangeStateTime = now
	return true
}

func (p *Peer) MarkAlive() bool {
	return p.Mark(StateAlive, time.Now())
}

func (p *Peer) MarkSuspect() bool {
	return p.Mark(StateSuspect, time.Now())
}

func (p *Peer) MarkDead() bool {
	return p.Mark(StateDead, time.Now())
}

// Wrap copies every field of o into p.
func (p *Peer) Wrap(o *Peer) {
	*p = *o
}

// Reset restores p to its zero form so the record can be reused.
func (p *Peer) Reset() {
	*p = Peer{}
}

func (p Peer) String() string {
	return fmt.Sprintf(
		"%s [state=%s; heartbeat=%s]",
		p.ManagementEndpoint, p.State, p.Heartbeat,
	)
}
