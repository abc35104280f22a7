package peer

// Iterator is a cursor over a List which supports adding and replacing peers
// relative to the last returned peer.
type Iterator struct {
	list *List

	// next is the index of the next peer to return.
	next int
	// last is the index of the last returned peer, or -1 if Next hasn't been
	// called.
	last int
}

func (it *Iterator) HasNext() bool {
	return it.next < len(it.list.peers)
}

// Next returns the next peer and advances the cursor. Panics if there are no
// remaining peers.
func (it *Iterator) Next() *Peer {
	if !it.HasNext() {
		panic("peer iterator: no next peer")
	}
	p := it.list.peers[it.next]
	it.last = it.next
	it.next++
	return p
}

// Add inserts p before the last returned peer. The cursor is unaffected, so
// the following call to Next returns the same peer it would have without the
// insert.
//
// The caller must ensure p sorts between the previous peer and the last
// returned peer. Panics if Next hasn't been called.
func (it *Iterator) Add(p *Peer) {
	if it.last < 0 {
		panic("peer iterator: add before next")
	}
	it.list.insertAt(it.last, p)
	it.last++
	it.next++
}

// Set replaces the last returned peer with p, which must have the same
// identity. Panics if Next hasn't been called.
func (it *Iterator) Set(p *Peer) {
	if it.last < 0 {
		panic("peer iterator: set before next")
	}
	it.list.peers[it.last] = p
}
