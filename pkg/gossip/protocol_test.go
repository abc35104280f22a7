package gossip

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
)

func testRecord(host string, state peer.State, generation uint64, version uint32) peer.Peer {
	return peer.Peer{
		ClientEndpoint:      peer.Endpoint{Host: host, Port: 26500},
		ManagementEndpoint:  peer.Endpoint{Host: host, Port: 26502},
		ReplicationEndpoint: peer.Endpoint{Host: host, Port: 26503},
		Heartbeat: peer.Heartbeat{
			Generation: generation,
			Version:    version,
		},
		State: state,
	}
}

func TestCodec_Sync(t *testing.T) {
	t.Run("full sync", func(t *testing.T) {
		sentHeader := syncHeader{
			Sender:  peer.Endpoint{Host: "10.26.104.1", Port: 26502},
			Request: true,
		}
		sentPeers := []peer.Peer{
			testRecord("10.26.104.1", peer.StateAlive, 1700000000000, 4),
			testRecord("10.26.104.2", peer.StateSuspect, 1700000000001, 8),
			testRecord("10.26.104.3", peer.StateDead, 1700000000002, 13),
		}

		b, n, err := encodeSync(sentHeader, sentPeers, 1400)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		receivedHeader, receivedPeers, err := decodeSync(b)
		require.NoError(t, err)

		assert.Equal(t, sentHeader, receivedHeader)
		assert.Equal(t, sentPeers, receivedPeers)
	})

	// Tests partially encoding the peers due to exceeding the maximum packet
	// length.
	t.Run("partial sync", func(t *testing.T) {
		sentHeader := syncHeader{
			Sender: peer.Endpoint{Host: "10.26.104.1", Port: 26502},
		}
		var sentPeers []peer.Peer
		for _, host := range []string{
			"10.26.104.1", "10.26.104.2", "10.26.104.3", "10.26.104.4",
			"10.26.104.5", "10.26.104.6", "10.26.104.7", "10.26.104.8",
		} {
			sentPeers = append(
				sentPeers,
				testRecord(host, peer.StateAlive, 1700000000000, 1),
			)
		}

		full, _, err := encodeSync(sentHeader, sentPeers, 10000)
		require.NoError(t, err)

		// Limit the packet to roughly half the records.
		maxPacketSize := len(full) / 2
		b, n, err := encodeSync(sentHeader, sentPeers, maxPacketSize)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(b), maxPacketSize)
		assert.Greater(t, n, 0)
		assert.Less(t, n, len(sentPeers))

		receivedHeader, receivedPeers, err := decodeSync(b)
		require.NoError(t, err)
		assert.Equal(t, sentHeader, receivedHeader)
		assert.Len(t, receivedPeers, n)

		// The subset must still be sorted so the receiver can merge it.
		assert.True(t, sort.SliceIsSorted(receivedPeers, func(i, j int) bool {
			return receivedPeers[i].Compare(&receivedPeers[j]) < 0
		}))
		for _, p := range receivedPeers {
			assert.Contains(t, sentPeers, p)
		}
	})

	t.Run("empty", func(t *testing.T) {
		sentHeader := syncHeader{
			Sender:  peer.Endpoint{Host: "10.26.104.1", Port: 26502},
			Request: false,
		}

		b, n, err := encodeSync(sentHeader, nil, 1400)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		receivedHeader, receivedPeers, err := decodeSync(b)
		require.NoError(t, err)
		assert.Equal(t, sentHeader, receivedHeader)
		assert.Empty(t, receivedPeers)
	})

	t.Run("header too large", func(t *testing.T) {
		_, _, err := encodeSync(syncHeader{
			Sender: peer.Endpoint{Host: "10.26.104.1", Port: 26502},
		}, nil, 4)
		assert.Error(t, err)
	})

	t.Run("incorrect message type", func(t *testing.T) {
		b, _, err := encodeSync(syncHeader{}, nil, 1400)
		require.NoError(t, err)
		b[0] = byte(messageTypeJoin)

		_, _, err = decodeSync(b)
		assert.Error(t, err)
	})

	t.Run("unsupported version", func(t *testing.T) {
		b, _, err := encodeSync(syncHeader{}, nil, 1400)
		require.NoError(t, err)
		b[1] = supportedVersion + 1

		_, _, err = decodeSync(b)
		assert.Error(t, err)
	})
}

func TestCodec_Records(t *testing.T) {
	peers := []peer.Peer{
		testRecord("10.26.104.1", peer.StateAlive, 1700000000000, 4),
		testRecord("10.26.104.2", peer.StateDead, 1700000000001, 8),
	}

	var buf bytes.Buffer
	require.NoError(t, newEncoder(&buf).Encode(newRecords(peers)))

	var records []record
	require.NoError(t, newDecoder(&buf).Decode(&records))
	decoded, err := recordPeers(records)
	require.NoError(t, err)
	assert.Equal(t, peers, decoded)
}

// Tests records that no valid node could send are rejected before they
// reach the cluster state.
func TestCodec_InvalidRecords(t *testing.T) {
	sender := peer.Endpoint{Host: "10.26.104.1", Port: 26502}

	missingEndpoint := testRecord("10.26.104.7", peer.StateAlive, 1700000000000, 1)
	missingEndpoint.ManagementEndpoint = peer.Endpoint{}

	tests := []struct {
		name  string
		peers []peer.Peer
	}{
		{
			name: "null state",
			peers: []peer.Peer{
				testRecord("10.26.104.6", peer.StateNull, 1700000000000, 1),
			},
		},
		{
			name: "unknown state",
			peers: []peer.Peer{
				testRecord("10.26.104.5", peer.State(9), 1700000000000, 1),
			},
		},
		{
			name: "valid and invalid",
			peers: []peer.Peer{
				testRecord("10.26.104.1", peer.StateAlive, 1700000000000, 1),
				testRecord("10.26.104.5", peer.State(4), 1700000000000, 1),
			},
		},
		{
			name:  "missing management endpoint",
			peers: []peer.Peer{missingEndpoint},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/sync", func(t *testing.T) {
			b, _, err := encodeSync(syncHeader{
				Sender:  sender,
				Request: true,
			}, tt.peers, 1400)
			require.NoError(t, err)

			_, peers, err := decodeSync(b)
			assert.ErrorIs(t, err, errInvalidRecord)
			assert.Nil(t, peers)
		})

		t.Run(tt.name+"/stream", func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, newEncoder(&buf).Encode(newRecords(tt.peers)))

			var records []record
			require.NoError(t, newDecoder(&buf).Decode(&records))

			peers, err := recordPeers(records)
			assert.ErrorIs(t, err, errInvalidRecord)
			assert.Nil(t, peers)
		})
	}

	// The state is unchanged since the message is rejected as a whole.
	t.Run("state unchanged", func(t *testing.T) {
		state := newTestState(
			newFakeFailureDetector(), &testClock{now: testNow}, nil,
		)

		b, _, err := encodeSync(syncHeader{Sender: sender, Request: true}, []peer.Peer{
			testRecord("10.26.104.5", peer.State(9), 1700000000000, 1),
			testRecord("10.26.104.6", peer.StateNull, 1700000000000, 1),
		}, 1400)
		require.NoError(t, err)

		l := &packetListener{state: state, logger: log.NewNopLogger()}
		assert.ErrorIs(t, l.handlePacket(b), errInvalidRecord)

		assert.Equal(t, []peer.Peer{state.LocalPeer()}, state.Peers())
	})
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "probe", messageTypeProbe.String())
	assert.Equal(t, "probe-request", messageTypeProbeRequest.String())
	assert.Equal(t, "unknown", messageType(0).String())
}
