// Command nopingd runs the host-liveness monitoring daemon.
//
// # Usage
//
//	nopingd [flags] /path/to/control.sock
//
// # Configuration
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (NOPINGD_*)
//   - Config file (--config)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pilot-net/nopingd/db/migrate"
	"github.com/pilot-net/nopingd/internal/alertforward"
	"github.com/pilot-net/nopingd/internal/audit"
	"github.com/pilot-net/nopingd/internal/config"
	"github.com/pilot-net/nopingd/internal/daemon"
	"github.com/pilot-net/nopingd/internal/fanout"
	"github.com/pilot-net/nopingd/internal/httpstatus"
	"github.com/pilot-net/nopingd/internal/pingset"
	"github.com/pilot-net/nopingd/internal/protocol"
	"github.com/pilot-net/nopingd/internal/secrets"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file")
		fpingPath  = flag.String("fping", "", "Path to fping binary")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("nopingd %s\n", Version)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: nopingd [flags] /path/to/control.sock")
		os.Exit(1)
	}
	socketPath := flag.Arg(0)

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg := config.DefaultConfig()
	if *configFile != "" {
		fileCfg, err := config.LoadFromFile(*configFile)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}
	cfg.ApplyEnvOverrides()
	if *fpingPath != "" {
		cfg.FpingPath = *fpingPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	listener, err := protocol.Listen(socketPath, logger)
	if err != nil {
		logger.Error("failed to bind control socket", "path", socketPath, "error", err)
		os.Exit(1)
	}

	periods := daemon.DefaultPeriods()
	if cfg.Periods.Untested > 0 {
		periods.Untested = cfg.Periods.Untested
	}
	if cfg.Periods.Active > 0 {
		periods.Active = cfg.Periods.Active
	}
	if cfg.Periods.Defunct > 0 {
		periods.Defunct = cfg.Periods.Defunct
	}

	burst := cfg.ProbeBurst
	if burst <= 0 {
		burst = 200
	}
	factory := pingset.NewFpingFactory(burst)
	if cfg.FpingPath != "" {
		factory.FpingPath = cfg.FpingPath
	}

	opts := &daemon.Options{}

	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Error("failed to connect to postgres, audit trail disabled", "error", err)
		} else if err := migrate.Run(ctx, pool, logger); err != nil {
			logger.Error("failed to apply database migrations, audit trail disabled", "error", err)
			pool.Close()
		} else {
			writer := audit.NewWriter(pool, logger)
			writer.Start()
			defer writer.Stop()
			opts.Audit = writer
			logger.Info("audit trail enabled", "postgres", true)
		}
	}

	if cfg.Redis.Addr != "" {
		fo, err := fanout.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, logger)
		if err != nil {
			logger.Error("failed to connect to redis, fanout disabled", "error", err)
		} else {
			defer fo.Close()
			opts.Fanout = fo
			logger.Info("redis pub/sub fanout enabled", "addr", cfg.Redis.Addr)
		}
	}

	if cfg.AlertForward.WebhookURL != "" {
		secretsCfg := secrets.Config{
			Backend:          cfg.Secrets.Backend,
			OnePasswordHost:  cfg.Secrets.OnePasswordHost,
			OnePasswordToken: cfg.Secrets.OnePasswordToken,
			OnePasswordVault: cfg.Secrets.OnePasswordVault,
			LocalKeyDir:      cfg.Secrets.LocalKeyDir,
			GracePeriod:      cfg.Secrets.GracePeriod,
		}
		keyStore, err := secrets.NewKeyStore(secretsCfg, logger)
		if err != nil {
			logger.Error("failed to initialize key store, alert forwarding disabled", "error", err)
		} else {
			fwd, err := alertforward.New(alertforward.Config{
				WebhookURL:    cfg.AlertForward.WebhookURL,
				TokenHash:     cfg.AlertForward.TokenHash,
				RequestHeader: cfg.AlertForward.RequestHead,
			}, keyStore, logger)
			if err != nil {
				logger.Error("failed to initialize alert forwarder, disabled", "error", err)
			} else {
				opts.AlertForward = fwd
				logger.Info("alert forwarding enabled", "webhook", cfg.AlertForward.WebhookURL)
			}
		}
	}

	d := daemon.New(logger, listener, periods, factory, opts)

	if cfg.HTTPStatus.ListenAddr != "" {
		statusServer := httpstatus.NewServer(d.Registry(), d.SelfStatus(), logger)
		httpSrv := &http.Server{
			Addr:         cfg.HTTPStatus.ListenAddr,
			Handler:      statusServer,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http status endpoint listening", "addr", cfg.HTTPStatus.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http status server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting nopingd",
		"version", Version,
		"socket", socketPath,
		"untested_period", periods.Untested,
		"active_period", periods.Active,
		"defunct_period", periods.Defunct,
	)

	runErr := d.Run(ctx)

	if runErr != nil {
		logger.Error("daemon exited with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("nopingd shutdown complete")
}
