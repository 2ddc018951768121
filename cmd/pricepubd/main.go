// Command pricepubd runs the price-oracle publisher daemon: it connects to
// an RPC endpoint and mirrors a mapping account's full product/price chain.
// The supervisor's scheduler re-sends, at each price account's phase, the
// last quote pushed through Supervisor.UpdatePrice; this command never
// calls UpdatePrice, so it sends no update_price transactions itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/config"
	"github.com/pricepub/pricepub/internal/keystore"
	"github.com/pricepub/pricepub/internal/rpc"
	"github.com/pricepub/pricepub/internal/supervisor"
)

const Version = "0.1.0"

func main() {
	cfgPath := "pricepubd.yaml"
	if p := os.Getenv("PRICEPUBD_CONFIG"); p != "" {
		cfgPath = p
	}
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("pricepubd v%s\n", Version)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			cfgPath = os.Args[1]
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricepubd: %v\n", err)
		os.Exit(1)
	}

	logger, err := zapLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pricepubd: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func zapLogger(cfg config.Config) (*zap.Logger, error) {
	lcfg := cfg.ToLogConfig()
	level := zap.InfoLevel
	if lcfg.Level != "" {
		_ = level.UnmarshalText([]byte(lcfg.Level))
	}
	zcfg := zap.NewProductionConfig()
	if lcfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ks := keystore.New(cfg.KeyStoreDir)
	publishKeypair, err := ks.PublishKeypair()
	if err != nil {
		return fmt.Errorf("loading publish key pair: %w", err)
	}

	var mappingAccount acct.Pubkey
	if cfg.MappingAccount != "" {
		mappingAccount, err = acct.PubkeyFromBase58(cfg.MappingAccount)
		if err != nil {
			return fmt.Errorf("parsing mapping_account: %w", err)
		}
	}

	var programID acct.Pubkey
	if cfg.ProgramID != "" {
		programID, err = acct.PubkeyFromBase58(cfg.ProgramID)
		if err != nil {
			return fmt.Errorf("parsing program_id: %w", err)
		}
	}

	if cfg.TxHost != "" && cfg.TxHost != cfg.RPCHost {
		logger.Warn("tx_host differs from rpc_host but this build sends transactions over the same transport as subscriptions",
			zap.String("rpc_host", cfg.RPCHost), zap.String("tx_host", cfg.TxHost))
	}

	transport, err := rpc.New(rpc.Config{
		HTTPURL: fmt.Sprintf("http://%s", cfg.RPCHost),
		WSURL:   fmt.Sprintf("ws://%s", cfg.RPCHost),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to rpc endpoint: %w", err)
	}
	defer transport.Close()

	sup := supervisor.New(supervisor.Config{
		Transport:       transport,
		Logger:          logger,
		Commitment:      cfg.Commitment,
		Publisher:       publishKeypair.Pub,
		ProgramID:       programID,
		PublishKeypair:  publishKeypair,
		MappingAccount:  mappingAccount,
		PublishInterval: cfg.PublishInterval(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sup.Run(ctx) }()

	bootstrapCtx, cancelBootstrap := context.WithTimeout(ctx, cfg.BootstrapTimeout)
	defer cancelBootstrap()
	if err := sup.Bootstrap(bootstrapCtx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("bootstrap complete",
		zap.Uint64("slot", sup.Slot()),
		zap.Bool("do_tx", cfg.DoTx),
		zap.Duration("publish_interval", cfg.PublishInterval()),
	)

	if cfg.ListenPort != 0 {
		logger.Warn("listen_port configured but the local update_price JSON-RPC surface is not served by this build",
			zap.Int("listen_port", cfg.ListenPort))
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("supervisor run loop: %w", err)
		}
	}

	stop()
	select {
	case <-runErrCh:
	case <-time.After(5 * time.Second):
		logger.Warn("run loop did not exit within the shutdown grace period")
	}
	return nil
}

func printUsage() {
	fmt.Println("pricepubd - Solana-style price oracle publisher daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pricepubd [config-file]   run the daemon with the given config (default pricepubd.yaml)")
	fmt.Println("  pricepubd version         print the version")
	fmt.Println("  pricepubd help            print this message")
	fmt.Println()
	fmt.Println("The config path may also be set with the PRICEPUBD_CONFIG environment variable.")
}
