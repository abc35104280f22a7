package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/gossipd/pkg/config"
	"github.com/andydunstall/gossipd/pkg/gossip"
	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/testutil"
)

func TestConfig_Default(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		update func(c *Config)
	}{
		{
			name: "missing client addr",
			update: func(c *Config) {
				c.Cluster.ClientAddr = ""
			},
		},
		{
			name: "missing replication addr",
			update: func(c *Config) {
				c.Cluster.ReplicationAddr = ""
			},
		},
		{
			name: "invalid gossip",
			update: func(c *Config) {
				c.Gossip.Fanout = 0
			},
		},
		{
			name: "missing suspect probes",
			update: func(c *Config) {
				c.Gossip.SuspectProbes = 0
			},
		},
		{
			name: "missing probe timeout",
			update: func(c *Config) {
				c.Gossip.ProbeTimeout = 0
			},
		},
		{
			name: "missing admin bind addr",
			update: func(c *Config) {
				c.Admin.BindAddr = ""
			},
		},
		{
			name: "tls missing key",
			update: func(c *Config) {
				c.Admin.TLS.Cert = "/gossipd/cert.pem"
			},
		},
		{
			name: "access log allowlist and blocklist",
			update: func(c *Config) {
				c.Admin.AccessLog.RequestHeaders.Allowlist = []string{"a"}
				c.Admin.AccessLog.RequestHeaders.Blocklist = []string{"b"}
			},
		},
		{
			name: "invalid log level",
			update: func(c *Config) {
				c.Log.Level = "foo"
			},
		},
		{
			name: "missing grace period",
			update: func(c *Config) {
				c.GracePeriod = 0
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := Default()
			tt.update(conf)
			assert.Error(t, conf.Validate())
		})
	}
}

func TestConfig_LoadYAML(t *testing.T) {
	yaml := `
cluster:
  join:
    - 10.26.104.12:8003
    - 10.26.104.73:8003
  abort_if_join_fails: false
  client_addr: 1.2.3.4:7001
  replication_addr: 1.2.3.4:7004

gossip:
  bind_addr: 10.15.104.25:8003
  advertise_addr: 1.2.3.4:8003
  interval: 100ms
  fanout: 4
  max_packet_size: 1200
  max_peers: 256
  suspicion_threshold: 6.5
  suspicion_timeout: 20s
  suspect_probes: 4
  probe_timeout: 500ms

admin:
  bind_addr: 10.15.104.25:8002
  tls:
    cert: /gossipd/cert.pem
    key: /gossipd/key.pem
  access_log:
    disable: true
    request_headers:
      blocklist:
        - Authorization

log:
  level: debug
  subsystems:
    - gossip
    - admin

grace_period: 2m
`

	path := filepath.Join(t.TempDir(), "gossipd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	var loadedConf Config
	require.NoError(t, config.Load(path, &loadedConf, false))

	expectedConf := Config{
		Cluster: ClusterConfig{
			Join: []string{
				"10.26.104.12:8003",
				"10.26.104.73:8003",
			},
			AbortIfJoinFails: false,
			ClientAddr:       "1.2.3.4:7001",
			ReplicationAddr:  "1.2.3.4:7004",
		},
		Gossip: gossip.Config{
			BindAddr:           "10.15.104.25:8003",
			AdvertiseAddr:      "1.2.3.4:8003",
			Interval:           time.Millisecond * 100,
			Fanout:             4,
			MaxPacketSize:      1200,
			MaxPeers:           256,
			SuspicionThreshold: 6.5,
			SuspicionTimeout:   time.Second * 20,
			SuspectProbes:      4,
			ProbeTimeout:       time.Millisecond * 500,
		},
		Admin: AdminConfig{
			BindAddr: "10.15.104.25:8002",
			TLS: TLSConfig{
				Cert: "/gossipd/cert.pem",
				Key:  "/gossipd/key.pem",
			},
			AccessLog: log.AccessLogConfig{
				Disable: true,
				RequestHeaders: log.AccessLogHeaderConfig{
					Blocklist: []string{"Authorization"},
				},
			},
		},
		Log: log.Config{
			Level:      "debug",
			Subsystems: []string{"gossip", "admin"},
		},
		GracePeriod: 2 * time.Minute,
	}
	assert.Equal(t, expectedConf, loadedConf)
}

func TestConfig_LoadFlags(t *testing.T) {
	args := []string{
		"--cluster.join", "10.26.104.12:8003,10.26.104.73:8003",
		"--cluster.abort-if-join-fails=false",
		"--cluster.client-addr", "1.2.3.4:7001",
		"--cluster.replication-addr", "1.2.3.4:7004",
		"--gossip.bind-addr", "10.15.104.25:8003",
		"--gossip.advertise-addr", "1.2.3.4:8003",
		"--gossip.interval", "100ms",
		"--gossip.fanout", "4",
		"--gossip.max-packet-size", "1200",
		"--gossip.max-peers", "256",
		"--gossip.suspicion-threshold", "6.5",
		"--gossip.suspicion-timeout", "20s",
		"--gossip.suspect-probes", "4",
		"--gossip.probe-timeout", "500ms",
		"--admin.bind-addr", "10.15.104.25:8002",
		"--admin.tls.cert", "/gossipd/cert.pem",
		"--admin.tls.key", "/gossipd/key.pem",
		"--admin.access-log.disable",
		"--admin.access-log.request-headers.blocklist", "Authorization",
		"--log.level", "debug",
		"--log.subsystems", "gossip,admin",
		"--grace-period", "2m",
	}

	fs := pflag.NewFlagSet("", pflag.PanicOnError)

	loadedConf := Default()
	loadedConf.RegisterFlags(fs)

	require.NoError(t, fs.Parse(args))

	expectedConf := &Config{
		Cluster: ClusterConfig{
			Join: []string{
				"10.26.104.12:8003",
				"10.26.104.73:8003",
			},
			AbortIfJoinFails: false,
			ClientAddr:       "1.2.3.4:7001",
			ReplicationAddr:  "1.2.3.4:7004",
		},
		Gossip: gossip.Config{
			BindAddr:           "10.15.104.25:8003",
			AdvertiseAddr:      "1.2.3.4:8003",
			Interval:           time.Millisecond * 100,
			Fanout:             4,
			MaxPacketSize:      1200,
			MaxPeers:           256,
			SuspicionThreshold: 6.5,
			SuspicionTimeout:   time.Second * 20,
			SuspectProbes:      4,
			ProbeTimeout:       time.Millisecond * 500,
		},
		Admin: AdminConfig{
			BindAddr: "10.15.104.25:8002",
			TLS: TLSConfig{
				Cert: "/gossipd/cert.pem",
				Key:  "/gossipd/key.pem",
			},
			AccessLog: log.AccessLogConfig{
				Disable: true,
				RequestHeaders: log.AccessLogHeaderConfig{
					Blocklist: []string{"Authorization"},
				},
			},
		},
		Log: log.Config{
			Level:      "debug",
			Subsystems: []string{"gossip", "admin"},
		},
		GracePeriod: 2 * time.Minute,
	}
	assert.Equal(t, expectedConf, loadedConf)
}

func TestTLSConfig_Load(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		var conf TLSConfig
		tlsConfig, err := conf.Load()
		require.NoError(t, err)
		assert.Nil(t, tlsConfig)
	})

	t.Run("ok", func(t *testing.T) {
		rootCAPath, certPath, keyPath, err := testutil.LocalTLSServerCertFiles(t.TempDir())
		require.NoError(t, err)

		conf := TLSConfig{
			Cert:      certPath,
			Key:       keyPath,
			ClientCAs: rootCAPath,
		}
		require.NoError(t, conf.Validate())

		tlsConfig, err := conf.Load()
		require.NoError(t, err)
		assert.Len(t, tlsConfig.Certificates, 1)
		assert.NotNil(t, tlsConfig.ClientCAs)
		assert.Equal(t, tls.RequireAndVerifyClientCert, tlsConfig.ClientAuth)
	})

	t.Run("missing cert", func(t *testing.T) {
		conf := TLSConfig{
			Cert: filepath.Join(t.TempDir(), "cert.pem"),
			Key:  filepath.Join(t.TempDir(), "key.pem"),
		}
		_, err := conf.Load()
		assert.Error(t, err)
	})
}

func TestClientTLSConfig_Load(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		var conf ClientTLSConfig
		tlsConfig, err := conf.Load()
		require.NoError(t, err)
		assert.Nil(t, tlsConfig.RootCAs)
		assert.False(t, tlsConfig.InsecureSkipVerify)
	})

	t.Run("root cas", func(t *testing.T) {
		rootCAPath, _, _, err := testutil.LocalTLSServerCertFiles(t.TempDir())
		require.NoError(t, err)

		conf := ClientTLSConfig{
			RootCAs:            rootCAPath,
			InsecureSkipVerify: true,
		}
		tlsConfig, err := conf.Load()
		require.NoError(t, err)
		assert.NotNil(t, tlsConfig.RootCAs)
		assert.True(t, tlsConfig.InsecureSkipVerify)
	})

	t.Run("invalid root cas", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a cert"), 0o600))

		conf := ClientTLSConfig{
			RootCAs: path,
		}
		_, err := conf.Load()
		assert.Error(t, err)
	})

	t.Run("missing key", func(t *testing.T) {
		conf := ClientTLSConfig{
			Cert: "/gossipd/cert.pem",
		}
		assert.Error(t, conf.Validate())
	})
}
