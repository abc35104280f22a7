package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/gossipd/pkg/gossip"
	"github.com/andydunstall/gossipd/pkg/log"
)

type ClusterConfig struct {
	// Join contians a list of addresses of members in the cluster to join.
	Join []string `json:"join" yaml:"join"`

	AbortIfJoinFails bool `json:"abort_if_join_fails" yaml:"abort_if_join_fails"`

	// ClientAddr is the client endpoint the node advertises to the cluster.
	ClientAddr string `json:"client_addr" yaml:"client_addr"`

	// ReplicationAddr is the replication endpoint the node advertises to the
	// cluster.
	ReplicationAddr string `json:"replication_addr" yaml:"replication_addr"`
}

func (c *ClusterConfig) Validate() error {
	if c.ClientAddr == "" {
		return fmt.Errorf("missing client addr")
	}
	if c.ReplicationAddr == "" {
		return fmt.Errorf("missing replication addr")
	}
	return nil
}

type AdminConfig struct {
	// BindAddr is the address to bind to listen for incoming HTTP connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	TLS TLSConfig `json:"tls" yaml:"tls"`

	AccessLog log.AccessLogConfig `json:"access_log" yaml:"access_log"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := c.AccessLog.Validate(); err != nil {
		return fmt.Errorf("access log: %w", err)
	}
	return nil
}

type Config struct {
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`
	Gossip  gossip.Config `json:"gossip" yaml:"gossip"`
	Admin   AdminConfig   `json:"admin" yaml:"admin"`
	Log     log.Config    `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the node. During
	// the grace period the node notifies the cluster it is leaving and waits
	// for active admin requests to complete.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			AbortIfJoinFails: true,
			ClientAddr:       ":8001",
			ReplicationAddr:  ":8004",
		},
		Gossip: *gossip.Default(),
		Admin: AdminConfig{
			BindAddr: ":8002",
		},
		Log: log.Config{
			Level: "info",
		},
		GracePeriod: time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	if c.GracePeriod == 0 {
		return fmt.Errorf("missing grace period")
	}

	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(
		&c.Cluster.Join,
		"cluster.join",
		c.Cluster.Join,
		`
A list of addresses of members in the cluster to join.

This may be either addresses of specific nodes, such as
'--cluster.join 10.26.104.14,10.26.104.75', or a domain that resolves to
the addresses of the nodes in the cluster (e.g. a Kubernetes headless
service), such as '--cluster.join gossipd.prod-gossipd-ns'.

Each address must include the host, and may optionally include a port. If no
port is given, the gossip port of this node is used.

Note each node propagates membership information to the other known nodes,
so the initial set of configured members only needs to be a subset of nodes.`,
	)
	fs.BoolVar(
		&c.Cluster.AbortIfJoinFails,
		"cluster.abort-if-join-fails",
		c.Cluster.AbortIfJoinFails,
		`
Whether the node should abort if it is configured with more than one
node to join (excluding itself) but fails to join any members.`,
	)
	fs.StringVar(
		&c.Cluster.ClientAddr,
		"cluster.client-addr",
		c.Cluster.ClientAddr,
		`
The client endpoint to advertise to other nodes in the cluster.

If the host is unspecified, such as ':8001', the nodes private IP is used.`,
	)
	fs.StringVar(
		&c.Cluster.ReplicationAddr,
		"cluster.replication-addr",
		c.Cluster.ReplicationAddr,
		`
The replication endpoint to advertise to other nodes in the cluster.

If the host is unspecified, such as ':8004', the nodes private IP is used.`,
	)

	c.Gossip.RegisterFlags(fs, "")

	fs.StringVar(
		&c.Admin.BindAddr,
		"admin.bind-addr",
		c.Admin.BindAddr,
		`
The host/port to listen for incoming admin connections.

If the host is unspecified it defaults to all listeners, such as
'--admin.bind-addr :8002' will listen on '0.0.0.0:8002'`,
	)
	c.Admin.TLS.RegisterFlags(fs, "admin")
	c.Admin.AccessLog.RegisterFlags(fs, "admin")

	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the node before terminating.
This includes announcing to the cluster the node is leaving and handling
in-progress admin requests.`,
	)
}
