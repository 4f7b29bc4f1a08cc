package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/coldiron/chainsim/app/services/node/handlers"
	"github.com/coldiron/chainsim/foundation/blockchain/ledger"
	"github.com/coldiron/chainsim/foundation/blockchain/mempool"
	"github.com/coldiron/chainsim/foundation/blockchain/miner"
	"github.com/coldiron/chainsim/foundation/blockchain/node"
	"github.com/coldiron/chainsim/foundation/keystore"
	"github.com/coldiron/chainsim/foundation/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var build = "develop"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a chainsim node and gossip with its configured peers",
	// Flag parsing is delegated to ardanlabs/conf inside runNode, which
	// derives --host/--peers/--difficulty/etc. from the Config struct tags
	// the way the teacher's node service derives them from its own cfg
	// struct; cobra only routes the run/keygen subcommand itself.
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New("NODE")
		if err != nil {
			return fmt.Errorf("constructing logger: %w", err)
		}
		defer log.Sync()

		if err := runNode(log, args); err != nil {
			log.Errorw("startup", "ERROR", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runNode(log *zap.SugaredLogger, args []string) error {
	cfg := struct {
		conf.Version
		Host            string        `conf:"default:0.0.0.0"`
		Port            int           `conf:"default:9080"`
		Peers           []string      `conf:"default:"`
		Mining          bool          `conf:"default:true"`
		Difficulty      uint          `conf:"default:4"`
		BlockReward     float64       `conf:"default:50"`
		DropProbability float64       `conf:"default:0"`
		DelayMs         int           `conf:"default:0"`
		NodeID          string        `conf:"default:node1"`
		SelfAddress     string        `conf:"default:node1"`
		ChainID         string        `conf:"default:chainsim-dev"`
		KeysPath        string        `conf:"default:zblock/keys/"`
		Web             struct {
			StatusHost      string        `conf:"default:0.0.0.0:8080"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "chainsim node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain support

	ks, err := keystore.New(cfg.KeysPath)
	if err != nil {
		return fmt.Errorf("loading keystore from %s: %w", cfg.KeysPath, err)
	}
	if _, exists := ks.Lookup(cfg.SelfAddress); !exists {
		return fmt.Errorf("no key material for self address %q under %s: run `node keygen %s` first", cfg.SelfAddress, cfg.KeysPath, cfg.SelfAddress)
	}

	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...), "traceid", "00000000-0000-0000-0000-000000000000")
	}

	led, err := ledger.New(cfg.Difficulty, cfg.BlockReward, ks, ev)
	if err != nil {
		return fmt.Errorf("constructing ledger: %w", err)
	}

	mp := mempool.New(led, ks)
	mnr := miner.New(led, miner.EventHandler(ev))

	n := node.New(node.Config{
		NodeID:        cfg.NodeID,
		SelfAddress:   cfg.SelfAddress,
		ChainID:       cfg.ChainID,
		Host:          cfg.Host,
		Port:          cfg.Port,
		Peers:         cfg.Peers,
		MiningEnabled: cfg.Mining,
		EvHandler:     node.EventHandler(ev),
	}, led, mp, mnr)

	n.SetDropProbability(cfg.DropProbability)
	n.SetDelay(time.Duration(cfg.DelayMs) * time.Millisecond)

	if err := n.Start(); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	// =========================================================================
	// Start debug service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, handlers.DebugMux(build, log, n)); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start status service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	statusMux := handlers.StatusMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Node:     n,
	})

	statusSrv := http.Server{
		Addr:         cfg.Web.StatusHost,
		Handler:      statusMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "status api router started", "host", statusSrv.Addr)
		serverErrors <- statusSrv.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		if err := n.Stop(); err != nil {
			log.Errorw("shutdown", "status", "node stop", "ERROR", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := statusSrv.Shutdown(ctx); err != nil {
			statusSrv.Close()
			return fmt.Errorf("could not stop status service gracefully: %w", err)
		}
	}

	return nil
}
