package peer

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constRand always returns the same index.
type constRand struct {
	n int
}

func (r *constRand) Intn(n int) int {
	return r.n % n
}

func newShuffledTestList(t *testing.T, states ...State) *List {
	l := NewList(managementEndpoint("10.0.0.0"))
	for i, state := range states {
		require.NoError(t, l.Append(newTestPeer(
			fmt.Sprintf("10.0.0.%d", i), state, 1, 0,
		)))
	}
	return l
}

func TestShuffled_Next(t *testing.T) {
	t.Run("each peer once per cycle", func(t *testing.T) {
		l := newShuffledTestList(
			t, StateAlive, StateAlive, StateAlive, StateAlive, StateAlive, StateAlive,
		)
		s := NewShuffled(
			l.Members, l.LocalEndpoint(), WithRand(rand.New(rand.NewSource(1))),
		)

		for cycle := 0; cycle != 3; cycle++ {
			seen := make(map[Endpoint]int)
			for i := 0; i != l.Len(); i++ {
				var p Peer
				require.True(t, s.Next(&p))
				seen[p.ManagementEndpoint]++
			}

			assert.Equal(t, l.Len(), len(seen))
			for e, n := range seen {
				assert.Equal(t, 1, n, "peer %s selected %d times", e, n)
			}
		}
	})

	t.Run("reshuffle includes new peers", func(t *testing.T) {
		l := newShuffledTestList(t, StateAlive, StateAlive)
		s := NewShuffled(
			l.Members, l.LocalEndpoint(), WithRand(rand.New(rand.NewSource(1))),
		)

		var p Peer
		require.True(t, s.Next(&p))
		require.True(t, s.Next(&p))

		require.NoError(t, l.Append(newTestPeer("10.0.0.2", StateAlive, 1, 0)))

		seen := make(map[Endpoint]struct{})
		for i := 0; i != 3; i++ {
			require.True(t, s.Next(&p))
			seen[p.ManagementEndpoint] = struct{}{}
		}
		assert.Equal(t, 3, len(seen))
	})

	t.Run("empty", func(t *testing.T) {
		l := NewList(managementEndpoint("10.0.0.0"))
		s := NewShuffled(l.Members, l.LocalEndpoint())

		var p Peer
		assert.False(t, s.Next(&p))
	})

	t.Run("reset", func(t *testing.T) {
		l := newShuffledTestList(t, StateAlive, StateAlive, StateAlive)
		s := NewShuffled(l.Members, l.LocalEndpoint())

		var p Peer
		require.True(t, s.Next(&p))

		l.Clear()
		s.Reset()
		assert.False(t, s.Next(&p))
	})
}

func TestShuffled_Select(t *testing.T) {
	t.Run("filters", func(t *testing.T) {
		// 10.0.0.0 is the local peer.
		l := newShuffledTestList(
			t,
			StateAlive,
			StateAlive,
			StateSuspect,
			StateDead,
			StateAlive,
			StateAlive,
		)
		s := NewShuffled(
			l.Members, l.LocalEndpoint(), WithRand(rand.New(rand.NewSource(3))),
		)

		for i := 0; i != 20; i++ {
			selected := s.Select(nil, 2, managementEndpoint("10.0.0.4"))
			assert.LessOrEqual(t, len(selected), 2)

			seen := make(map[Endpoint]struct{})
			for _, p := range selected {
				assert.NotEqual(t, "10.0.0.0", p.ManagementEndpoint.Host)
				assert.NotEqual(t, "10.0.0.4", p.ManagementEndpoint.Host)
				assert.Equal(t, StateAlive, p.State)

				_, ok := seen[p.ManagementEndpoint]
				assert.False(t, ok, "duplicate peer %s", p.ID())
				seen[p.ManagementEndpoint] = struct{}{}
			}
		}
	})

	t.Run("fewer eligible than max", func(t *testing.T) {
		l := newShuffledTestList(t, StateAlive, StateAlive, StateDead, StateAlive)
		s := NewShuffled(
			l.Members, l.LocalEndpoint(), WithRand(rand.New(rand.NewSource(5))),
		)

		selected := s.Select(nil, 10, Endpoint{})
		assert.LessOrEqual(t, len(selected), 2)
		for _, p := range selected {
			assert.Contains(t, []string{"10.0.0.1", "10.0.0.3"}, p.ManagementEndpoint.Host)
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		l := newShuffledTestList(t, StateAlive, StateAlive, StateAlive, StateAlive)

		// Always drawing the same peer can select at most one.
		s := NewShuffled(l.Members, l.LocalEndpoint(), WithRand(&constRand{n: 2}))
		selected := s.Select(nil, 3, Endpoint{})
		assert.Equal(t, []string{"10.0.0.2"}, hosts(selected))

		// Always drawing the local peer selects nothing.
		s = NewShuffled(l.Members, l.LocalEndpoint(), WithRand(&constRand{n: 0}))
		assert.Empty(t, s.Select(nil, 3, Endpoint{}))
	})

	t.Run("appends to dst", func(t *testing.T) {
		l := newShuffledTestList(t, StateAlive, StateAlive)
		s := NewShuffled(l.Members, l.LocalEndpoint(), WithRand(&constRand{n: 1}))

		dst := []Peer{newTestPeer("10.0.0.1", StateAlive, 1, 0)}
		selected := s.Select(dst, 1, Endpoint{})
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.1"}, hosts(selected))
	})

	t.Run("empty", func(t *testing.T) {
		l := NewList(managementEndpoint("10.0.0.0"))
		s := NewShuffled(l.Members, l.LocalEndpoint())
		assert.Empty(t, s.Select(nil, 3, Endpoint{}))
	})
}
