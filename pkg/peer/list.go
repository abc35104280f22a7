package peer

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrUnsorted is returned when peers are given out of order, or contain
	// duplicate identities.
	ErrUnsorted = errors.New("peers not sorted")

	// ErrExists is returned when inserting a peer that is already known.
	ErrExists = errors.New("peer exists")

	// ErrFull is returned when the list has reached its capacity.
	ErrFull = errors.New("peer list full")
)

// List is the membership directory, containing the known peers sorted by
// identity.
//
// The local node is identified by local. When a remote node claims the local
// node is suspect or dead, Merge refutes the claim.
//
// List is not safe for concurrent use.
type List struct {
	local Endpoint
	peers []*Peer

	capacity  int
	listeners []Listener
	now       func() time.Time
}

func NewList(local Endpoint, opts ...ListOption) *List {
	options := defaultListOptions()
	for _, o := range opts {
		o.apply(&options)
	}

	return &List{
		local:     local,
		capacity:  options.capacity,
		listeners: options.listeners,
		now:       options.now,
	}
}

// LocalEndpoint returns the identity of the local node.
func (l *List) LocalEndpoint() Endpoint {
	return l.local
}

// Local returns the record of the local node if it is in the list.
func (l *List) Local() (*Peer, bool) {
	return l.Find(l.local)
}

func (l *List) Len() int {
	return len(l.peers)
}

func (l *List) Capacity() int {
	return l.capacity
}

// Get returns the peer at index i.
func (l *List) Get(i int) *Peer {
	return l.peers[i]
}

// Index returns the position of the peer with the given identity, or if the
// peer is not found the position it would be inserted at.
func (l *List) Index(e Endpoint) (int, bool) {
	i := sort.Search(len(l.peers), func(i int) bool {
		return l.peers[i].ManagementEndpoint.Compare(e) >= 0
	})
	if i < len(l.peers) && l.peers[i].ManagementEndpoint == e {
		return i, true
	}
	return i, false
}

// Find returns the peer with the given identity.
func (l *List) Find(e Endpoint) (*Peer, bool) {
	i, ok := l.Index(e)
	if !ok {
		return nil, false
	}
	return l.peers[i], true
}

// Insert adds a copy of p in sorted position.
func (l *List) Insert(p Peer) error {
	i, ok := l.Index(p.ManagementEndpoint)
	if ok {
		return fmt.Errorf("insert: %s: %w", p.ID(), ErrExists)
	}
	if len(l.peers) >= l.capacity {
		return fmt.Errorf("insert: %s: %w", p.ID(), ErrFull)
	}
	l.insertAt(i, &p)
	return nil
}

// Append adds a copy of p to the end of the list. p must sort after every peer
// in the list.
func (l *List) Append(p Peer) error {
	if n := len(l.peers); n > 0 && l.peers[n-1].Compare(&p) >= 0 {
		return fmt.Errorf("append: %s: %w", p.ID(), ErrUnsorted)
	}
	if len(l.peers) >= l.capacity {
		return fmt.Errorf("append: %s: %w", p.ID(), ErrFull)
	}
	l.peers = append(l.peers, &p)
	return nil
}

// Clear removes all peers.
func (l *List) Clear() {
	for i := range l.peers {
		l.peers[i] = nil
	}
	l.peers = l.peers[:0]
}

// Peers returns a copy of each peer in order.
func (l *List) Peers() []Peer {
	peers := make([]Peer, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, *p)
	}
	return peers
}

// Members returns the peers in order. The returned slice may be modified by
// the caller though the peers themselves are owned by the list.
func (l *List) Members() []*Peer {
	members := make([]*Peer, len(l.peers))
	copy(members, l.peers)
	return members
}

func (l *List) Iterator() *Iterator {
	return &Iterator{
		list: l,
		last: -1,
	}
}

// Merge reconciles the list with the given remote peer records.
//
// updates must be sorted by identity, otherwise ErrUnsorted is returned and
// the list is unchanged.
//
// Unknown alive peers are added to the list and the registered listeners are
// notified once the merge completes. Known peers are updated according to
// their heartbeat and state.
//
// If diff is not nil, local records the sender may be missing or may have an
// older version of are added to diff, so can be sent back to the sender.
//
// If the list reaches capacity, new peers are dropped and an error wrapping
// ErrFull is returned after the remaining updates have been merged.
func (l *List) Merge(updates []Peer, diff *List) error {
	if !isSorted(updates) {
		return fmt.Errorf("merge: %w", ErrUnsorted)
	}

	var joined []*Peer
	dropped := 0

	it := l.Iterator()
	u := 0

	var local *Peer
	if it.HasNext() {
		local = it.Next()
	}
	for local != nil {
		if u == len(updates) {
			// The remaining local peers are not in the update.
			dropped += diff.put(local)
			local = next(it)
			continue
		}

		remote := &updates[u]
		cmp := local.Compare(remote)
		switch {
		case cmp < 0:
			// The sender may not know about the local peer.
			dropped += diff.put(local)
			local = next(it)
		case cmp > 0:
			// Only add unknown peers that are alive, otherwise failed peers
			// would be re-discovered. Either way keep the local peer to
			// compare with the next update.
			if remote.State == StateAlive {
				if len(l.peers) >= l.capacity {
					dropped++
				} else {
					p := l.copyRemote(remote)
					it.Add(p)
					joined = append(joined, p)
				}
			}
			u++
		default:
			if l.mergeState(local, remote) {
				dropped += diff.put(local)
			}
			u++
			local = next(it)
		}
	}

	// Any remaining updates sort after every local peer.
	for ; u < len(updates); u++ {
		remote := &updates[u]
		if len(l.peers) >= l.capacity {
			dropped++
			continue
		}
		p := l.copyRemote(remote)
		l.peers = append(l.peers, p)
		if p.State == StateAlive {
			joined = append(joined, p)
		}
	}

	for _, p := range joined {
		for _, listener := range l.listeners {
			listener.OnPeerJoin(*p)
		}
	}

	if dropped > 0 {
		return fmt.Errorf("merge: dropped %d peers: %w", dropped, ErrFull)
	}
	return nil
}

// mergeState updates local given the remote record of the same peer.
//
// Returns whether the local heartbeat is ahead of the remote, meaning the
// local record should be sent back to the sender.
func (l *List) mergeState(local *Peer, remote *Peer) bool {
	now := l.now()

	if local.ManagementEndpoint == l.local && remote.State != StateAlive {
		// Refute the claim about the local node by outbidding it with a new
		// generation.
		generation := uint64(now.UnixMilli())
		if generation <= local.Heartbeat.Generation {
			generation = local.Heartbeat.Generation + 1
		}
		local.Heartbeat.Generation = generation
		local.Mark(StateAlive, now)
		return true
	}

	cmp := local.Heartbeat.Compare(remote.Heartbeat)
	switch remote.State {
	case StateAlive:
		if cmp < 0 {
			local.Heartbeat.Wrap(remote.Heartbeat)
			local.Mark(StateAlive, now)
		}
	case StateSuspect:
		if local.State == StateSuspect && cmp < 0 {
			local.Heartbeat.Wrap(remote.Heartbeat)
		} else if local.State == StateAlive && cmp <= 0 {
			local.Heartbeat.Wrap(remote.Heartbeat)
			local.Mark(StateSuspect, now)
		}
	case StateDead:
		if cmp <= 0 {
			local.Heartbeat.Wrap(remote.Heartbeat)
			local.Mark(StateDead, now)
		}
	}
	return cmp > 0
}

func (l *List) copyRemote(remote *Peer) *Peer {
	p := *remote
	p.ChangeStateTime = l.now()
	return &p
}

// put adds a copy of p to the list, replacing any existing record with the
// same identity. Returns the number of dropped peers, which is 1 if the list
// is full and 0 otherwise. Does nothing if l is nil.
func (l *List) put(p *Peer) int {
	if l == nil {
		return 0
	}
	i, ok := l.Index(p.ManagementEndpoint)
	if ok {
		l.peers[i].Wrap(p)
		return 0
	}
	if len(l.peers) >= l.capacity {
		return 1
	}
	c := *p
	l.insertAt(i, &c)
	return 0
}

func (l *List) insertAt(i int, p *Peer) {
	l.peers = append(l.peers, nil)
	copy(l.peers[i+1:], l.peers[i:])
	l.peers[i] = p
}

func next(it *Iterator) *Peer {
	if it.HasNext() {
		return it.Next()
	}
	return nil
}

// isSorted returns whether peers are in strictly increasing order.
func isSorted(peers []Peer) bool {
	for i := 1; i < len(peers); i++ {
		if peers[i-1].Compare(&peers[i]) >= 0 {
			return false
		}
	}
	return true
}
