package peer

// Shuffled selects gossip targets from the known peers.
//
// The known peers are fetched using members on each selection, so Shuffled
// never holds a reference to the owner of the list. members must return a
// slice the caller is free to reorder, such as List.Members.
type Shuffled struct {
	members func() []*Peer
	local   Endpoint

	rand Rand

	// snapshot is a shuffled copy of the members, where pos is the index of
	// the next peer to return.
	snapshot []*Peer
	pos      int
}

func NewShuffled(
	members func() []*Peer,
	local Endpoint,
	opts ...ShuffledOption,
) *Shuffled {
	options := defaultShuffledOptions()
	for _, o := range opts {
		o.apply(&options)
	}

	return &Shuffled{
		members: members,
		local:   local,
		rand:    options.rand,
	}
}

// Next copies the next peer in the shuffled snapshot to dst.
//
// Each member is returned once before the snapshot is reshuffled, so every
// member is selected in turn. Returns false if there are no members.
func (s *Shuffled) Next(dst *Peer) bool {
	if s.pos >= len(s.snapshot) {
		s.shuffle()
		if len(s.snapshot) == 0 {
			return false
		}
	}

	dst.Wrap(s.snapshot[s.pos])
	s.pos++
	return true
}

// Reset discards the current snapshot, such as when the members are cleared.
func (s *Shuffled) Reset() {
	s.snapshot = nil
	s.pos = 0
}

// Select appends up to limit distinct alive peers to dst, excluding the local
// peer and exclude (which may be the zero endpoint to exclude nothing).
//
// Peers are selected at random with a bounded number of attempts, so fewer
// than limit peers may be returned even if enough are eligible.
func (s *Shuffled) Select(dst []Peer, limit int, exclude Endpoint) []Peer {
	members := s.members()
	if len(members) == 0 || limit <= 0 {
		return dst
	}

	start := len(dst)
	attempts := len(members) * 3
	for i := 0; i != attempts && len(dst)-start < limit; i++ {
		p := members[s.rand.Intn(len(members))]
		if !s.eligible(p, exclude, dst[start:]) {
			continue
		}
		dst = append(dst, *p)
	}
	return dst
}

func (s *Shuffled) eligible(p *Peer, exclude Endpoint, selected []Peer) bool {
	if p.ManagementEndpoint == s.local {
		return false
	}
	if p.State != StateAlive {
		return false
	}
	if !exclude.IsZero() && p.ManagementEndpoint == exclude {
		return false
	}
	for i := range selected {
		if selected[i].ManagementEndpoint == p.ManagementEndpoint {
			return false
		}
	}
	return true
}

// shuffle takes a new snapshot of the members and shuffles it in place.
func (s *Shuffled) shuffle() {
	s.snapshot = s.members()
	s.pos = 0
	for i := len(s.snapshot) - 1; i > 0; i-- {
		j := s.rand.Intn(i + 1)
		s.snapshot[i], s.snapshot[j] = s.snapshot[j], s.snapshot[i]
	}
}
