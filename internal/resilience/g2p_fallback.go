package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// IsG2PFailure classifies conversion service errors. Transport errors, 5xx
// responses and rate limiting count against the replica. Rejected requests and
// malformed payloads are deterministic and would fail the same way on any
// replica, so they do not.
func IsG2PFailure(err error) bool {
	if !IsUpstreamFailure(err) || errors.Is(err, g2p.ErrMalformed) {
		return false
	}
	var se *g2p.ServiceError
	if errors.As(err, &se) {
		switch {
		case se.Status == 0:
			return true
		case se.Status == http.StatusTooManyRequests:
			return true
		case se.Status >= 500:
			return true
		default:
			return false
		}
	}
	return true
}

// G2PFallback implements [g2p.Provider] with failover across conversion
// service replicas. Each replica has its own circuit breaker.
type G2PFallback struct {
	group *FallbackGroup[g2p.Provider]
}

var _ g2p.Provider = (*G2PFallback)(nil)

// NewG2PFallback creates a [G2PFallback] with primary as the preferred
// replica. A nil IsFailure classifier defaults to [IsG2PFailure].
func NewG2PFallback(primary g2p.Provider, primaryName string, cfg FallbackConfig) *G2PFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = IsG2PFailure
	}
	return &G2PFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional replica.
func (f *G2PFallback) AddFallback(name string, p g2p.Provider) {
	f.group.AddFallback(name, p)
}

// States returns the breaker state of every replica.
func (f *G2PFallback) States() map[string]State {
	return f.group.States()
}

// Langs lists languages from the first healthy replica.
func (f *G2PFallback) Langs(ctx context.Context) ([]g2p.Language, error) {
	return ExecuteWithResult(ctx, f.group, func(p g2p.Provider) ([]g2p.Language, error) {
		return p.Langs(ctx)
	})
}

// Path returns the conversion path from the first healthy replica.
func (f *G2PFallback) Path(ctx context.Context, lang string) ([]string, error) {
	return ExecuteWithResult(ctx, f.group, func(p g2p.Provider) ([]string, error) {
		return p.Path(ctx, lang)
	})
}

// Convert converts text on the first healthy replica.
func (f *G2PFallback) Convert(ctx context.Context, lang, text string) ([]g2p.ConversionChain, error) {
	return ExecuteWithResult(ctx, f.group, func(p g2p.Provider) ([]g2p.ConversionChain, error) {
		return p.Convert(ctx, lang, text)
	})
}
