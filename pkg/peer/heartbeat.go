package peer

import "fmt"

// Heartbeat is a logical clock attached to a peer record, used to order
// conflicting updates about the same peer.
//
// The generation is seeded from the wall clock when the peer starts (or
// refutes a claim about itself) and the version is incremented on each gossip
// round.
type Heartbeat struct {
	Generation uint64 `json:"generation" codec:"generation"`
	Version    uint32 `json:"version" codec:"version"`
}

// Compare orders heartbeats by generation, then version.
func (h Heartbeat) Compare(o Heartbeat) int {
	switch {
	case h.Generation < o.Generation:
		return -1
	case h.Generation > o.Generation:
		return 1
	case h.Version < o.Version:
		return -1
	case h.Version > o.Version:
		return 1
	default:
		return 0
	}
}

// Wrap copies the fields of o.
func (h *Heartbeat) Wrap(o Heartbeat) {
	h.Generation = o.Generation
	h.Version = o.Version
}

func (h Heartbeat) String() string {
	return fmt.Sprintf("(%d, %d)", h.Generation, h.Version)
}
