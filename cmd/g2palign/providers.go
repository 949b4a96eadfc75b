package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/g2palign/internal/config"
	"github.com/MrWong99/g2palign/internal/observe"
	"github.com/MrWong99/g2palign/internal/resilience"
	"github.com/MrWong99/g2palign/pkg/provider/decoder"
	"github.com/MrWong99/g2palign/pkg/provider/decoder/remote"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
	"github.com/MrWong99/g2palign/pkg/provider/g2p/readalong"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterG2P("readalong", func(cfg config.G2PConfig, baseURL string) (g2p.Provider, error) {
		return readalong.New(baseURL,
			readalong.WithTimeout(cfg.Timeout),
			readalong.WithOutputLang(cfg.OutputLang),
			readalong.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		)
	})

	reg.RegisterDecoder("remote", func(ctx context.Context, cfg config.DecoderConfig) (decoder.Decoder, error) {
		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		var opts []remote.Option
		if len(cfg.Headers) > 0 {
			h := make(http.Header, len(cfg.Headers))
			for k, v := range cfg.Headers {
				h.Set(k, v)
			}
			opts = append(opts, remote.WithHeader(h))
		}
		return remote.Dial(ctx, cfg.URL, opts...)
	})
}

// buildG2P creates the primary G2P replica and one fallback per configured
// replica URL, each behind its own circuit breaker. A lone primary still gets
// a breaker.
func buildG2P(cfg *config.Config, reg *config.Registry) (g2p.Provider, error) {
	cb := resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.G2P.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.G2P.CircuitBreaker.ResetTimeout,
		HalfOpenMax:  cfg.G2P.CircuitBreaker.HalfOpenMax,
		OnStateChange: func(name string, to resilience.State) {
			observe.DefaultMetrics().RecordCircuitTransition(context.Background(), name, to.String())
		},
	}

	primary, err := reg.CreateG2P(cfg.G2P, cfg.G2P.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create g2p provider %q: %w", cfg.G2P.Name, err)
	}
	slog.Info("provider created", "kind", "g2p", "name", cfg.G2P.Name, "url", cfg.G2P.BaseURL)

	fb := resilience.NewG2PFallback(primary, cfg.G2P.BaseURL, resilience.FallbackConfig{CircuitBreaker: cb})
	for _, u := range cfg.G2P.FallbackURLs {
		p, err := reg.CreateG2P(cfg.G2P, u)
		if err != nil {
			return nil, fmt.Errorf("create g2p fallback %q: %w", u, err)
		}
		fb.AddFallback(u, p)
		slog.Info("provider created", "kind", "g2p", "name", cfg.G2P.Name, "url", u, "role", "fallback")
	}
	return fb, nil
}

// buildDecoder connects the configured decoder.
func buildDecoder(ctx context.Context, cfg *config.Config, reg *config.Registry) (decoder.Decoder, error) {
	dec, err := reg.CreateDecoder(ctx, cfg.Decoder)
	if err != nil {
		return nil, fmt.Errorf("create decoder %q: %w", cfg.Decoder.Name, err)
	}
	slog.Info("provider created", "kind", "decoder", "name", cfg.Decoder.Name, "url", cfg.Decoder.URL)
	return dec, nil
}

// loadConfig loads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
