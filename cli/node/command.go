package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-sockaddr"
	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andydunstall/gossipd/pkg/backoff"
	gossipdconfig "github.com/andydunstall/gossipd/pkg/config"
	"github.com/andydunstall/gossipd/pkg/gossip"
	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
	"github.com/andydunstall/gossipd/server/admin"
	"github.com/andydunstall/gossipd/server/config"
	"github.com/andydunstall/gossipd/server/peers"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "start a gossipd node",
		Long: `Start a gossipd node.

Each node maintains an eventually consistent view of the peers in the cluster
by periodically gossiping with a random subset of known peers. Nodes that stop
gossiping are detected as suspect, then dead.

Use '--cluster.join' to configure addresses of existing members in the cluster
to join.

Examples:
  # Start a node.
  gossipd node

  # Start a node, listening for gossip traffic on :7003 and admin connections
  # on :7002.
  gossipd node --gossip.bind-addr :7003 --admin.bind-addr :7002

  # Start a node and join an existing cluster by specifying each member.
  gossipd node --cluster.join 10.26.104.14,10.26.104.75

  # Start a node and join an existing cluster by specifying a domain.
  # The node will resolve the domain and attempt to join each returned
  # member.
  gossipd node --cluster.join cluster.gossipd-ns.svc.cluster.local
`,
	}

	conf := config.Default()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.

This will replaces references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			if err := gossipdconfig.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(conf.Log.Level, conf.Log.Subsystems)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}

		if conf.Gossip.AdvertiseAddr == "" {
			advertiseAddr, err := advertiseAddrFromBindAddr(conf.Gossip.BindAddr)
			if err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				os.Exit(1)
			}
			conf.Gossip.AdvertiseAddr = advertiseAddr
		}
		clientAddr, err := advertiseAddrFromBindAddr(conf.Cluster.ClientAddr)
		if err != nil {
			logger.Error("invalid configuration", zap.Error(err))
			os.Exit(1)
		}
		conf.Cluster.ClientAddr = clientAddr
		replicationAddr, err := advertiseAddrFromBindAddr(conf.Cluster.ReplicationAddr)
		if err != nil {
			logger.Error("invalid configuration", zap.Error(err))
			os.Exit(1)
		}
		conf.Cluster.ReplicationAddr = replicationAddr

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run node", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting gossipd node", zap.Any("conf", conf))

	local, err := localEndpoints(conf)
	if err != nil {
		return fmt.Errorf("local endpoints: %w", err)
	}

	registry := prometheus.NewRegistry()

	streamLn, err := net.Listen("tcp", conf.Gossip.BindAddr)
	if err != nil {
		return fmt.Errorf("gossip listen: %s: %w", conf.Gossip.BindAddr, err)
	}
	packetLn, err := net.ListenPacket("udp", conf.Gossip.BindAddr)
	if err != nil {
		streamLn.Close()
		return fmt.Errorf("gossip listen: %s: %w", conf.Gossip.BindAddr, err)
	}

	adminLn, err := net.Listen("tcp", conf.Admin.BindAddr)
	if err != nil {
		streamLn.Close()
		packetLn.Close()
		return fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
	}
	tlsConfig, err := conf.Admin.TLS.Load()
	if err != nil {
		streamLn.Close()
		packetLn.Close()
		adminLn.Close()
		return fmt.Errorf("admin tls: %w", err)
	}
	adminServer := admin.NewServer(
		registry,
		tlsConfig,
		conf.Admin.AccessLog,
		logger,
	)

	gossiper := gossip.New(
		local, &conf.Gossip, streamLn, packetLn, nil, logger,
	)
	defer gossiper.Close()
	gossiper.Metrics().Register(registry)

	adminServer.AddStatus(
		"/peers", peers.NewStatus(gossiper, conf.Cluster.Join, logger),
	)

	joinCtx, joinCancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	joined, err := joinOnStartup(joinCtx, gossiper, conf.Cluster.Join, logger)
	joinCancel()
	if err != nil {
		if conf.Cluster.AbortIfJoinFails {
			adminLn.Close()
			return fmt.Errorf("join cluster: %w", err)
		}
		logger.Warn("failed to join cluster", zap.Error(err))
	}
	if len(joined) > 0 {
		logger.Info(
			"joined cluster",
			zap.Strings("peers", joined),
		)
	}

	var group rungroup.Group

	// Termination handler.
	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info(
				"received shutdown signal",
				zap.String("signal", sig.String()),
			)

			leaveCtx, cancel := context.WithTimeout(
				context.Background(), conf.GracePeriod,
			)
			defer cancel()

			if err := gossiper.Leave(leaveCtx); err != nil {
				logger.Warn("failed to gracefully leave cluster", zap.Error(err))
			} else {
				logger.Info("left cluster")
			}

			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	// Admin server.
	group.Add(func() error {
		if err := adminServer.Serve(adminLn); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), conf.GracePeriod,
		)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		logger.Info("admin server shut down")
	})

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

// joinOnStartup attempts to join an existing cluster, retrying 5 times (with
// backoff) if no members could be joined.
func joinOnStartup(
	ctx context.Context,
	gossiper *gossip.Gossip,
	addrs []string,
	logger log.Logger,
) ([]string, error) {
	backoff := backoff.New(5, time.Second, time.Minute)
	for {
		joined, err := gossiper.Join(addrs)
		if err == nil {
			return joined, nil
		}
		logger.Warn(
			"failed to join cluster",
			zap.Int("attempts", backoff.Attempts()+1),
			zap.Error(err),
		)
		if !backoff.Wait(ctx) {
			return nil, err
		}
	}
}

func localEndpoints(conf *config.Config) (gossip.LocalEndpoints, error) {
	management, err := peer.ParseEndpoint(conf.Gossip.AdvertiseAddr)
	if err != nil {
		return gossip.LocalEndpoints{}, fmt.Errorf("gossip: %w", err)
	}
	client, err := peer.ParseEndpoint(conf.Cluster.ClientAddr)
	if err != nil {
		return gossip.LocalEndpoints{}, fmt.Errorf("client: %w", err)
	}
	replication, err := peer.ParseEndpoint(conf.Cluster.ReplicationAddr)
	if err != nil {
		return gossip.LocalEndpoints{}, fmt.Errorf("replication: %w", err)
	}
	return gossip.LocalEndpoints{
		Client:      client,
		Management:  management,
		Replication: replication,
	}, nil
}

func advertiseAddrFromBindAddr(bindAddr string) (string, error) {
	if strings.HasPrefix(bindAddr, ":") {
		bindAddr = "0.0.0.0" + bindAddr
	}

	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("invalid bind addr: %s: %w", bindAddr, err)
	}

	if host == "0.0.0.0" {
		ip, err := sockaddr.GetPrivateIP()
		if err != nil {
			return "", fmt.Errorf("get interface addr: %w", err)
		}
		if ip == "" {
			return "", fmt.Errorf("no private ip found")
		}
		return ip + ":" + port, nil
	}
	return bindAddr, nil
}
