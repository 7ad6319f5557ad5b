// Command sentryledgerd runs one node of the permissioned ledger: chain
// storage, peer-to-peer sync/broadcast, Merkle validation, peer discovery
// and pruning, fronted by a mutual-TLS RPC server and a read-only HTTP
// explorer. Mirrors cmd/synnergy/main.go's cobra root-command/subcommand
// layout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sentryledger-network/internal/chain"
	"sentryledger-network/internal/explorer"
	"sentryledger-network/internal/metrics"
	"sentryledger-network/internal/peer"
	"sentryledger-network/internal/prune"
	"sentryledger-network/internal/rpctransport"
	"sentryledger-network/internal/store"
	syncpkg "sentryledger-network/internal/sync"
	"sentryledger-network/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "sentryledgerd"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(chainCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the node daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runNode(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment overlay config name")
	return cmd
}

func chainCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{Use: "chain"}

	show := &cobra.Command{
		Use:   "show",
		Short: "print the local chain length and tip hash",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(env)
			if err != nil {
				logrus.WithError(err).Fatal("load config")
			}
			st, err := openStore(cfg)
			if err != nil {
				logrus.WithError(err).Fatal("open store")
			}
			defer st.Close()
			c, err := chain.New(st)
			if err != nil {
				logrus.WithError(err).Fatal("init chain")
			}
			latest, err := c.Latest()
			if err != nil {
				logrus.WithError(err).Fatal("read latest block")
			}
			fmt.Printf("length=%d tip_index=%d tip_hash=%s\n", c.Len(), latest.Index, latest.Hash)
		},
	}
	cmd.PersistentFlags().StringVar(&env, "env", "", "environment overlay config name")
	cmd.AddCommand(show)
	return cmd
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, err
	}
	walPath := filepath.Join(cfg.Storage.DataDir, "blocks.wal")
	archivePath := filepath.Join(cfg.Storage.DataDir, "blocks_archive.wal.gz")
	return store.Open(walPath, archivePath)
}

// chainLengthProber adapts rpctransport.Client to peer.Prober.
type chainLengthProber struct {
	client *rpctransport.Client
}

func (p chainLengthProber) ProbeChainLength(ctx context.Context, addr string) (int, error) {
	remote, err := p.client.GetChain(ctx, addr)
	if err != nil {
		return 0, err
	}
	return len(remote), nil
}

// nodeHealthSource adapts the chain/peer/sync components to metrics.Source.
type nodeHealthSource struct {
	chain  *chain.Chain
	peers  *peer.Registry
	syncer *syncpkg.Coordinator
}

func (s nodeHealthSource) Height() int            { return s.chain.Len() }
func (s nodeHealthSource) PeerCount() int         { return len(s.peers.Healthy()) }
func (s nodeHealthSource) PendingBroadcasts() int { return s.syncer.Pending() }

func runNode(env string) {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(env)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lvl)
	}

	st, err := openStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("open store")
	}
	defer st.Close()

	c, err := chain.New(st)
	if err != nil {
		logrus.WithError(err).Fatal("init chain")
	}

	tlsMaterial := rpctransport.TLSMaterial{
		CertFile: cfg.RPC.CertFile,
		KeyFile:  cfg.RPC.KeyFile,
		CAFile:   cfg.RPC.CAFile,
	}
	clientTLS, err := rpctransport.NewClientTLSConfig(tlsMaterial)
	if err != nil {
		logrus.WithError(err).Fatal("build client tls config")
	}
	serverTLS, err := rpctransport.NewServerTLSConfig(tlsMaterial)
	if err != nil {
		logrus.WithError(err).Fatal("build server tls config")
	}
	client := rpctransport.NewClient(clientTLS)

	peers := peer.New(peer.Config{
		Self:              cfg.Node.Address,
		DiscoveryInterval: cfg.Schedule.DiscoveryInterval,
		HealthTimeout:     cfg.Schedule.HealthTimeout,
		UnhealthyTTL:      cfg.Schedule.UnhealthyTTL,
	}, chainLengthProber{client: client}, cfg.Node.SeedPeers)

	coordinator := syncpkg.New(c, peers, client, syncpkg.Config{
		BroadcastCooldown: cfg.Schedule.BroadcastCooldown,
		BroadcastTimeout:  cfg.Schedule.BroadcastTimeout,
		BroadcastFanout:   cfg.Thresholds.BroadcastFanout,
		SyncTimeout:       cfg.Schedule.SyncTimeout,
		SyncLockTimeout:   cfg.Schedule.SyncLockTimeout,
	})

	pruner := prune.New(c, prune.Config{
		Interval:        cfg.Schedule.PruneInterval,
		Threshold:       cfg.Thresholds.PruningThreshold,
		ArchiveInterval: cfg.Schedule.ArchiveInterval,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.Logging.Health), 0o755); err != nil {
		logrus.WithError(err).Fatal("prepare health log directory")
	}
	healthLogger, err := metrics.NewLogger(
		nodeHealthSource{chain: c, peers: peers, syncer: coordinator},
		cfg.Logging.Health,
	)
	if err != nil {
		logrus.WithError(err).Fatal("init metrics logger")
	}
	defer healthLogger.Close()

	rpcServer := rpctransport.NewServer(cfg.RPC.ListenAddr, serverTLS, coordinator)
	explorerServer := explorer.NewServer(cfg.Explorer.ListenAddr, c)

	peers.Start()
	coordinator.Start()
	pruner.Start()

	metricsCtx, cancelMetrics := context.WithCancel(context.Background())
	go healthLogger.RunCollector(metricsCtx, 15*time.Second)
	metricsServer := healthLogger.StartServer(cfg.Metrics.ListenAddr)

	go func() {
		if err := rpcServer.ListenAndServeTLS(cfg.RPC.CertFile, cfg.RPC.KeyFile); err != nil {
			logrus.WithError(err).Error("rpc server stopped")
		}
	}()
	go func() {
		if err := explorerServer.Start(); err != nil {
			logrus.WithError(err).Error("explorer server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"rpc_addr":      cfg.RPC.ListenAddr,
		"explorer_addr": cfg.Explorer.ListenAddr,
	}).Info("node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutting down")
	cancelMetrics()
	pruner.Stop()
	coordinator.Stop()
	peers.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = rpcServer.Shutdown(shutdownCtx)
	_ = explorerServer.Shutdown(shutdownCtx)
	_ = healthLogger.ShutdownServer(shutdownCtx, metricsServer)
}
