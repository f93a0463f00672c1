// Command gateway runs the cross-chain asset gateway: two watchers, a
// verifier, a reconciling controller, and the HTTP API, wired together
// the way the teacher's cmd/geth entrypoint builds and starts a node
// from parsed CLI flags (github.com/urfave/cli/v2).
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tnbridge/gateway/api"
	chainother "github.com/tnbridge/gateway/chain/other"
	chaintn "github.com/tnbridge/gateway/chain/tn"
	"github.com/tnbridge/gateway/config"
	"github.com/tnbridge/gateway/controller"
	"github.com/tnbridge/gateway/policy"
	"github.com/tnbridge/gateway/store"
	"github.com/tnbridge/gateway/store/legacy"
	"github.com/tnbridge/gateway/store/pgstore"
	"github.com/tnbridge/gateway/verifier"
	"github.com/tnbridge/gateway/watcher"
)

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "cross-chain asset gateway between TN and Other",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the gateway's JSON configuration file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Postgres DSN for the primary datastore",
				EnvVars: []string{"GATEWAY_DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:  "other-signer-key",
				Usage: "hex-encoded ECDSA signing key for the Other-chain gateway wallet",
				EnvVars: []string{"GATEWAY_OTHER_SIGNER_KEY"},
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "path to a rotated log file; logs always also go to stderr",
				EnvVars: []string{"GATEWAY_LOG_FILE"},
			},
		},
		Before: setupLogging,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("gateway exited with error", "error", err)
	}
}

// setupLogging points go-ethereum's structured logger at stderr plus,
// when configured, a size/age-rotated file — the same
// gopkg.in/natefinch/lumberjack.v2 rotation the teacher's node-level
// logging setup layers underneath its terminal handler.
func setupLogging(c *cli.Context) error {
	out := io.Writer(os.Stderr)

	if path := c.String("log-file"); path != "" {
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotated)
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandler(out, false)))
	return nil
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if cfg.UsesDefaultAdminCredentials() {
		log.Warn("admin credentials are still the default placeholders; admin endpoints will refuse to serve")
	}

	st, err := pgstore.Open(c.String("db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.Main.StorageBackend == "legacy" && cfg.Main.StoragePath != "" {
		imported, err := legacy.ImportIfPresent(c.Context, cfg.Main.StoragePath, st)
		if err != nil {
			return fmt.Errorf("legacy import: %w", err)
		}
		if imported {
			log.Info("legacy datastore imported into primary backend")
		}
	}

	tnClient, err := chaintn.Dial(c.Context, chaintn.Config{
		RPCEndpoint:    cfg.TN.RPCEndpoint,
		RPCCredentials: cfg.TN.RPCCredentials,
		GatewayAddress: cfg.TN.GatewayAddress,
		Decimals:       cfg.TN.Decimals,
	})
	if err != nil {
		return fmt.Errorf("dial TN: %w", err)
	}

	otherClient, err := chainother.Dial(c.Context, chainother.Config{
		RPCEndpoint:    cfg.Other.RPCEndpoint,
		GatewayAddress: cfg.Other.GatewayAddress,
		SignerKeyHex:   c.String("other-signer-key"),
		Decimals:       cfg.Other.Decimals,
	})
	if err != nil {
		return fmt.Errorf("dial Other: %w", err)
	}

	bounds := policy.Bounds{
		Min: decimal.NewFromFloat(cfg.Main.Min),
		Max: decimal.NewFromFloat(cfg.Main.Max),
	}

	routes := map[store.Direction]verifier.Route{
		store.DirectionTNToOther: {Chain: otherClient, ConfirmationDepth: cfg.Other.Confirmations},
		store.DirectionOtherToTN: {Chain: tnClient, ConfirmationDepth: cfg.TN.Confirmations},
	}
	const maxVerifyAttempts = 120
	v := verifier.New(st, routes, maxVerifyAttempts)

	tnToOther := watcher.New(watcher.Config{
		Chain:          store.ChainTN,
		Direction:      store.DirectionTNToOther,
		Confirmations:  cfg.TN.Confirmations,
		TickInterval:   time.Duration(cfg.TN.TimeInBetweenChecks) * time.Second,
		Decimals:       cfg.TN.Decimals,
		Bounds:         bounds,
		DestinationFees: policy.Fees{
			GatewayFee: decimal.NewFromFloat(cfg.Other.GatewayFee),
			NetworkFee: decimal.NewFromFloat(cfg.Other.NetworkFee),
		},
		GatewayAddress: cfg.TN.GatewayAddress,
	}, tnClient, otherClient, st, v)

	otherToTN := watcher.New(watcher.Config{
		Chain:          store.ChainOther,
		Direction:      store.DirectionOtherToTN,
		Confirmations:  cfg.Other.Confirmations,
		TickInterval:   time.Duration(cfg.Other.TimeInBetweenChecks) * time.Second,
		Decimals:       cfg.Other.Decimals,
		Bounds:         bounds,
		DestinationFees: policy.Fees{
			GatewayFee: decimal.NewFromFloat(cfg.TN.GatewayFee),
			NetworkFee: decimal.NewFromFloat(cfg.TN.NetworkFee),
		},
		GatewayAddress: cfg.Other.GatewayAddress,
	}, otherClient, tnClient, st, v)

	ctl := controller.New(controller.Config{
		TickInterval:   30 * time.Second,
		SendingTimeout: 15 * time.Minute,
	}, st, v, tnClient, otherClient)

	srv := api.New(cfg, st, tnClient, otherClient, ctl)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Main.Port),
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	runLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error("loop exited with error", "loop", name, "error", err)
			}
		}()
	}

	runLoop("watcher-tn", tnToOther.Run)
	runLoop("watcher-other", otherToTN.Run)
	runLoop("controller", ctl.Run)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("starting HTTP API", "port", cfg.Main.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server exited with error", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down, waiting for in-flight work to finish")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}

	wg.Wait()
	return nil
}
