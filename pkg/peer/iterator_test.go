package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator(t *testing.T) {
	t.Run("next", func(t *testing.T) {
		l := NewList(managementEndpoint("10.0.0.1"))
		require.NoError(t, l.Append(newTestPeer("10.0.0.1", StateAlive, 1, 0)))
		require.NoError(t, l.Append(newTestPeer("10.0.0.2", StateAlive, 1, 0)))

		var visited []string
		it := l.Iterator()
		for it.HasNext() {
			visited = append(visited, it.Next().ManagementEndpoint.Host)
		}
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, visited)

		assert.Panics(t, func() {
			it.Next()
		})
	})

	t.Run("add", func(t *testing.T) {
		l := NewList(managementEndpoint("10.0.0.1"))
		require.NoError(t, l.Append(newTestPeer("10.0.0.1", StateAlive, 1, 0)))
		require.NoError(t, l.Append(newTestPeer("10.0.0.4", StateAlive, 1, 0)))
		require.NoError(t, l.Append(newTestPeer("10.0.0.5", StateAlive, 1, 0)))

		it := l.Iterator()
		it.Next()
		assert.Equal(t, "10.0.0.4", it.Next().ManagementEndpoint.Host)

		p2 := newTestPeer("10.0.0.2", StateAlive, 1, 0)
		it.Add(&p2)
		p3 := newTestPeer("10.0.0.3", StateAlive, 1, 0)
		it.Add(&p3)

		// The cursor is unaffected by the inserts.
		assert.True(t, it.HasNext())
		assert.Equal(t, "10.0.0.5", it.Next().ManagementEndpoint.Host)
		assert.False(t, it.HasNext())

		assert.Equal(
			t,
			[]string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"},
			hosts(l.Peers()),
		)
	})

	t.Run("set", func(t *testing.T) {
		l := NewList(managementEndpoint("10.0.0.1"))
		require.NoError(t, l.Append(newTestPeer("10.0.0.1", StateAlive, 1, 0)))
		require.NoError(t, l.Append(newTestPeer("10.0.0.2", StateAlive, 1, 0)))

		it := l.Iterator()
		it.Next()
		it.Next()

		p := newTestPeer("10.0.0.2", StateDead, 4, 2)
		it.Set(&p)

		got, ok := l.Find(managementEndpoint("10.0.0.2"))
		require.True(t, ok)
		assert.Equal(t, StateDead, got.State)
		assert.Equal(t, Heartbeat{Generation: 4, Version: 2}, got.Heartbeat)
		assert.Equal(t, 2, l.Len())
	})

	t.Run("mutate before next", func(t *testing.T) {
		l := NewList(managementEndpoint("10.0.0.1"))
		require.NoError(t, l.Append(newTestPeer("10.0.0.2", StateAlive, 1, 0)))

		p := newTestPeer("10.0.0.1", StateAlive, 1, 0)
		assert.Panics(t, func() {
			l.Iterator().Add(&p)
		})
		assert.Panics(t, func() {
			l.Iterator().Set(&p)
		})
		assert.Equal(t, []string{"10.0.0.2"}, hosts(l.Peers()))
	})
}
