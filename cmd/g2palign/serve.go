package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/g2palign/internal/app"
	"github.com/MrWong99/g2palign/internal/config"
	"github.com/MrWong99/g2palign/internal/observe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the alignment HTTP API",
	Long: `Serve the alignment HTTP API. With --config the file is watched and the
log level and align settings are reloaded without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveConfig   string
	serveInterval time.Duration
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "YAML config file (default: built-in defaults)")
	serveCmd.Flags().DurationVar(&serveInterval, "watch-interval", 5*time.Second, "config file polling interval")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	// The watcher callback is bound after the app exists.
	var onChange func(old, new *config.Config)
	if serveConfig != "" {
		watcher, err = config.NewWatcher(serveConfig, func(old, new *config.Config) {
			if onChange != nil {
				onChange(old, new)
			}
		}, config.WithInterval(serveInterval))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("config file %q not found", serveConfig)
			}
			return err
		}
		cfg = watcher.Current()
	} else {
		cfg = config.Default()
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	if !cmd.Flags().Changed("verbose") && !cmd.Flags().Changed("quiet") {
		logLevel.Set(cfg.Server.LogLevel.Level())
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("g2palign starting",
		"config", serveConfig,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(observe.TelemetryConfig{ServiceName: "g2palign", ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	tel.Install()
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	p, err := buildG2P(cfg, reg)
	if err != nil {
		return err
	}
	dec, err := buildDecoder(ctx, cfg, reg)
	if err != nil {
		return err
	}

	application, err := app.New(cfg, &app.Providers{G2P: p, Decoder: dec}, app.WithLogLevel(logLevel))
	if err != nil {
		_ = dec.Close()
		return err
	}
	onChange = application.ApplyConfig

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
