// Package app wires the g2palign subsystems into a running service.
//
// The App struct owns the full lifecycle: New assembles the alignment
// pipeline from already-constructed providers, Run serves the HTTP API until
// its context ends, and Shutdown releases the decoder.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/g2palign/internal/aligner"
	"github.com/MrWong99/g2palign/internal/config"
	"github.com/MrWong99/g2palign/internal/health"
	"github.com/MrWong99/g2palign/internal/observe"
	"github.com/MrWong99/g2palign/internal/server"
	"github.com/MrWong99/g2palign/internal/splice"
	"github.com/MrWong99/g2palign/pkg/provider/decoder"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// shutdownTimeout bounds how long in-flight HTTP requests may run after Run's
// context ends.
const shutdownTimeout = 15 * time.Second

// Providers holds the constructed backends. Populated by main.go via the
// config registry.
type Providers struct {
	G2P     g2p.Provider
	Decoder decoder.Decoder
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	aligner *aligner.Aligner
	server  *server.Server
	metrics *observe.Metrics

	level *slog.LevelVar

	// listeners override cfg addresses; tests pass pre-bound sockets.
	apiLn     net.Listener
	metricsLn net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogLevel lets config reloads adjust lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListeners serves the API on api and, if non-nil, /metrics on metrics
// instead of listening on the configured addresses.
func WithListeners(api, metrics net.Listener) Option {
	return func(a *App) {
		a.apiLn = api
		a.metricsLn = metrics
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New assembles the aligner, health checks and HTTP server. The App takes
// ownership of providers.Decoder.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.G2P == nil || providers.Decoder == nil {
		return nil, errors.New("app: g2p provider and decoder are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	al, err := aligner.New(providers.G2P, providers.Decoder,
		append(AlignOptions(cfg.Align), aligner.WithMetrics(a.metrics))...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.aligner = al
	a.closers = append(a.closers, al.Close)

	checkers := []health.Checker{health.G2P(providers.G2P)}
	if p, ok := providers.Decoder.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("decoder", p))
	}

	srvOpts := []server.Option{
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		server.WithSampleRate(cfg.Decoder.SampleRate),
		server.WithHealth(health.New(checkers...)),
		server.WithMetrics(a.metrics),
	}
	if cfg.Server.MetricsAddr == "" && a.metricsLn == nil {
		srvOpts = append(srvOpts, server.WithExtraRoute("GET /metrics", promhttp.Handler()))
	}
	a.server = server.New(al, providers.G2P, srvOpts...)

	return a, nil
}

// AlignOptions converts the align config section to aligner options.
func AlignOptions(c config.AlignConfig) []aligner.Option {
	var spliceOpts []splice.Option
	if len(c.SilenceLabels) > 0 {
		spliceOpts = append(spliceOpts, splice.WithSilenceLabels(c.SilenceLabels...))
	}
	if c.Target != nil {
		spliceOpts = append(spliceOpts, splice.WithTarget(*c.Target))
	}
	opts := []aligner.Option{
		aligner.WithLanguage(c.Language),
		aligner.WithSplicer(splice.New(spliceOpts...)),
	}
	if len(c.Tiers) > 0 {
		opts = append(opts, aligner.WithTiers(c.Tiers...))
	}
	if c.DecodeTimeout > 0 {
		opts = append(opts, aligner.WithDecodeTimeout(c.DecodeTimeout))
	}
	return opts
}

// Aligner returns the alignment pipeline.
func (a *App) Aligner() *aligner.Aligner {
	return a.aligner
}

// Handler returns the API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// ApplyConfig applies the live-reloadable parts of a changed config. It
// matches the [config.Watcher] callback signature.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AlignChanged {
		if err := a.aligner.Reconfigure(AlignOptions(new.Align)...); err != nil {
			slog.Warn("keeping previous alignment settings", "err", err)
			return
		}
		slog.Info("alignment settings reloaded",
			"language", new.Align.Language,
			"tiers", len(new.Align.Tiers),
		)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the API (and a separate metrics listener when configured) until
// ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	servers := []*http.Server{a.newHTTPServer(a.cfg.Server.ListenAddr, a.server.Handler())}
	listeners := []net.Listener{a.apiLn}
	if a.cfg.Server.MetricsAddr != "" || a.metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		servers = append(servers, a.newHTTPServer(a.cfg.Server.MetricsAddr, mux))
		listeners = append(listeners, a.metricsLn)
	}

	for i, srv := range servers {
		ln := listeners[i]
		tls := i == 0 && a.cfg.Server.TLS != nil
		addr := srv.Addr
		if ln != nil {
			addr = ln.Addr().String()
		}
		g.Go(func() error {
			slog.Info("listening", "addr", addr, "tls", tls)
			var err error
			switch {
			case ln != nil && tls:
				err = srv.ServeTLS(ln, a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
			case ln != nil:
				err = srv.Serve(ln)
			case tls:
				err = srv.ListenAndServeTLS(a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
			default:
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (a *App) newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
