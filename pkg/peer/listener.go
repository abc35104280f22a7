package peer

// Listener is notified when the membership directory learns about a new peer.
//
// Listeners are called synchronously by Merge, after the list has been
// updated, so must not block or mutate the list.
type Listener interface {
	// OnPeerJoin notifies that a new alive peer joined the cluster.
	OnPeerJoin(p Peer)
}

type nopListener struct {
}

// NewNopListener returns a listener that ignores all events.
func NewNopListener() Listener {
	return &nopListener{}
}

func (l *nopListener) OnPeerJoin(_ Peer) {}

var _ Listener = &nopListener{}
