package gossip

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// BindAddr is the address to bind to listen for gossip traffic.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to other nodes. This is the
	// management endpoint that identifies the node.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`

	// Interval is the rate to initiate a gossip round.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Fanout is the number of alive peers to gossip with each round.
	Fanout int `json:"fanout" yaml:"fanout"`

	// MaxPacketSize is the maximum size of any packet sent.
	MaxPacketSize int `json:"max_packet_size" yaml:"max_packet_size"`

	// MaxPeers is the maximum number of known peers.
	MaxPeers int `json:"max_peers" yaml:"max_peers"`

	// SuspicionThreshold is the phi value above which an alive peer is
	// considered suspect.
	SuspicionThreshold float64 `json:"suspicion_threshold" yaml:"suspicion_threshold"`

	// SuspicionTimeout is the duration a peer can be suspect before it is
	// considered dead.
	SuspicionTimeout time.Duration `json:"suspicion_timeout" yaml:"suspicion_timeout"`

	// SuspectProbes is the number of nodes, including the local node, that
	// must fail to probe a peer before it is suspected.
	SuspectProbes int `json:"suspect_probes" yaml:"suspect_probes"`

	// ProbeTimeout is the timeout for a probe to respond.
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
}

func Default() *Config {
	return &Config{
		BindAddr:           ":8003",
		Interval:           time.Millisecond * 500,
		Fanout:             3,
		MaxPacketSize:      1400,
		MaxPeers:           1024,
		SuspicionThreshold: 8,
		SuspicionTimeout:   time.Second * 10,
		SuspectProbes:      3,
		ProbeTimeout:       time.Second,
	}
}

func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if c.Interval == 0 {
		return fmt.Errorf("missing interval")
	}
	if c.Fanout <= 0 {
		return fmt.Errorf("fanout must be positive")
	}
	if c.MaxPacketSize == 0 {
		return fmt.Errorf("missing max packet size")
	}
	if c.MaxPeers <= 0 {
		return fmt.Errorf("max peers must be positive")
	}
	if c.SuspicionThreshold <= 0 {
		return fmt.Errorf("suspicion threshold must be positive")
	}
	if c.SuspicionTimeout == 0 {
		return fmt.Errorf("missing suspicion timeout")
	}
	if c.SuspectProbes <= 0 {
		return fmt.Errorf("suspect probes must be positive")
	}
	if c.ProbeTimeout == 0 {
		return fmt.Errorf("missing probe timeout")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	if prefix == "" {
		prefix = "gossip."
	} else {
		prefix = prefix + ".gossip."
	}

	fs.StringVar(
		&c.BindAddr,
		prefix+"bind-addr",
		c.BindAddr,
		`
The host/port to listen for inter-node gossip traffic.

If the host is unspecified it defaults to all listeners, such as
a bind address ':8003' will listen on '0.0.0.0:8003'`,
	)

	fs.StringVar(
		&c.AdvertiseAddr,
		prefix+"advertise-addr",
		c.AdvertiseAddr,
		`
Gossip listen address to advertise to other nodes in the cluster. This is the
nodes management endpoint, which also identifies the node in the cluster.

Such as if the listen address is ':8003', the advertised address may be
'10.26.104.45:8003' or 'node1.cluster:8003'.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':8003') the nodes
private IP will be used, such as a bind address of ':8003' may have an
advertise address of '10.26.104.14:8003'.`,
	)

	fs.DurationVar(
		&c.Interval,
		prefix+"interval",
		c.Interval,
		`
The interval to initiate rounds of gossip.

Each round increments the local heartbeat and synchronizes with the selected
peers.`,
	)

	fs.IntVar(
		&c.Fanout,
		prefix+"fanout",
		c.Fanout,
		`
The number of alive peers to synchronize with each gossip round.`,
	)

	fs.IntVar(
		&c.MaxPacketSize,
		prefix+"max-packet-size",
		c.MaxPacketSize,
		`
The maximum size of any packet sent.

Depending on your networks MTU you may be able to increase to include more
peer records in each packet.`,
	)

	fs.IntVar(
		&c.MaxPeers,
		prefix+"max-peers",
		c.MaxPeers,
		`
The maximum number of peers the node will track. Once reached new peers are
dropped.`,
	)

	fs.Float64Var(
		&c.SuspicionThreshold,
		prefix+"suspicion-threshold",
		c.SuspicionThreshold,
		`
The phi accrual failure detector threshold above which an alive peer is
marked as suspect.

A threshold of 1 means roughly a 10% chance the suspicion is a mistake, 2 a
1% chance, and so on.`,
	)

	fs.DurationVar(
		&c.SuspicionTimeout,
		prefix+"suspicion-timeout",
		c.SuspicionTimeout,
		`
The duration a peer can be suspect, without refuting the suspicion, before
it is marked as dead.`,
	)

	fs.IntVar(
		&c.SuspectProbes,
		prefix+"suspect-probes",
		c.SuspectProbes,
		`
The number of nodes, including this node, that must fail to probe a peer
before it is marked as suspect.

When a peers suspicion level exceeds the threshold it is first probed
directly. If that fails, up to 'suspect-probes - 1' other alive peers are
asked to probe it, and the peer is only suspected if none can reach it.`,
	)

	fs.DurationVar(
		&c.ProbeTimeout,
		prefix+"probe-timeout",
		c.ProbeTimeout,
		`
The timeout for a probed peer to respond. Indirect probe requests wait
twice as long.`,
	)
}
