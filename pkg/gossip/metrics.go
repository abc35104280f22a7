package gossip

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andydunstall/gossipd/pkg/peer"
)

type Metrics struct {
	// ConnectionsInbound is the total number of incoming stream
	// connections.
	ConnectionsInbound prometheus.Counter

	// StreamBytesInbound is the total number of read bytes via a stream
	// connection.
	StreamBytesInbound prometheus.Counter

	// PacketBytesInbound is the total number of read bytes via a packet
	// connection.
	PacketBytesInbound prometheus.Counter

	// ConnectionsOutbound is the total number of outgoing stream
	// connections.
	ConnectionsOutbound prometheus.Counter

	// StreamBytesOutbound is the total number of written bytes via a stream
	// connection.
	StreamBytesOutbound prometheus.Counter

	// PacketBytesOutbound is the total number of written bytes via a packet
	// connection.
	PacketBytesOutbound prometheus.Counter

	// RecordsOutbound is the total number of peer records sent.
	RecordsOutbound prometheus.Counter

	// Merges is the total number of merged peer lists.
	Merges prometheus.Counter

	// MergesRejected is the total number of peer lists rejected as unsorted.
	MergesRejected prometheus.Counter

	// MergesFull is the total number of merges that dropped peers as the
	// list was full.
	MergesFull prometheus.Counter

	// Joins is the total number of discovered peers.
	Joins prometheus.Counter

	// Suspicions is the total number of peers suspected by the local
	// failure detector.
	Suspicions prometheus.Counter

	// Deaths is the total number of peers marked dead by the local failure
	// detector.
	Deaths prometheus.Counter

	// Probes is the total number of direct probes sent to peers whose
	// suspicion level exceeded the threshold.
	Probes prometheus.Counter

	// ProbeRequests is the total number of requests sent to other peers to
	// probe a peer on the local nodes behalf.
	ProbeRequests prometheus.Counter

	// Peers is the number of known peers labelled by state.
	Peers *prometheus.GaugeVec
}

func newMetrics() *Metrics {
	return &Metrics{
		ConnectionsInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "connections_inbound_total",
				Help:      "Total number of incoming stream connections",
			},
		),
		StreamBytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "stream_bytes_inbound_total",
				Help:      "Total number of read bytes via a stream connection",
			},
		),
		PacketBytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "packet_bytes_inbound_total",
				Help:      "Total number of read bytes via a packet connection",
			},
		),
		ConnectionsOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "connections_outbound_total",
				Help:      "Total number of outbound stream connections",
			},
		),
		StreamBytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "stream_bytes_outbound_total",
				Help:      "Total number of written bytes via a stream connection",
			},
		),
		PacketBytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "packet_bytes_outbound_total",
				Help:      "Total number of written bytes via a packet connection",
			},
		),
		RecordsOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "records_outbound_total",
				Help:      "Total number of peer records sent",
			},
		),
		Merges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "merges_total",
				Help:      "Total number of merged peer lists",
			},
		),
		MergesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "merges_rejected_total",
				Help:      "Total number of rejected unsorted peer lists",
			},
		),
		MergesFull: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "merges_full_total",
				Help:      "Total number of merges that dropped peers due to a full peer list",
			},
		),
		Joins: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "joins_total",
				Help:      "Total number of discovered peers",
			},
		),
		Suspicions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "suspicions_total",
				Help:      "Total number of peers suspected by the local node",
			},
		),
		Deaths: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "deaths_total",
				Help:      "Total number of peers marked dead by the local node",
			},
		),
		Probes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "probes_total",
				Help:      "Total number of direct probes sent to possibly failed peers",
			},
		),
		ProbeRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "probe_requests_total",
				Help:      "Total number of indirect probe requests sent",
			},
		),
		Peers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gossipd",
				Subsystem: "gossip",
				Name:      "peers",
				Help:      "Number of known peers",
			},
			[]string{"state"},
		),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ConnectionsInbound,
		m.StreamBytesInbound,
		m.PacketBytesInbound,
		m.ConnectionsOutbound,
		m.StreamBytesOutbound,
		m.PacketBytesOutbound,
		m.RecordsOutbound,
		m.Merges,
		m.MergesRejected,
		m.MergesFull,
		m.Joins,
		m.Suspicions,
		m.Deaths,
		m.Probes,
		m.ProbeRequests,
		m.Peers,
	)
}

// setPeers updates the peers gauge from the given peers.
func (m *Metrics) setPeers(peers []*peer.Peer) {
	counts := make(map[peer.State]int)
	for _, p := range peers {
		counts[p.State]++
	}
	for _, state := range []peer.State{
		peer.StateAlive, peer.StateSuspect, peer.StateDead,
	} {
		m.Peers.WithLabelValues(state.String()).Set(float64(counts[state]))
	}
}
