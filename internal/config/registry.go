package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/g2palign/pkg/provider/decoder"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// G2PFactory builds a conversion client for one service replica at baseURL.
type G2PFactory func(cfg G2PConfig, baseURL string) (g2p.Provider, error)

// DecoderFactory connects a decoder. The context bounds connection setup.
type DecoderFactory func(ctx context.Context, cfg DecoderConfig) (decoder.Decoder, error)

// Registry maps provider names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	g2p     map[string]G2PFactory
	decoder map[string]DecoderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		g2p:     make(map[string]G2PFactory),
		decoder: make(map[string]DecoderFactory),
	}
}

// RegisterG2P registers a G2P provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterG2P(name string, factory G2PFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.g2p[name] = factory
}

// RegisterDecoder registers a decoder factory under name.
func (r *Registry) RegisterDecoder(name string, factory DecoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoder[name] = factory
}

// CreateG2P instantiates the provider registered under cfg.Name for the
// replica at baseURL.
func (r *Registry) CreateG2P(cfg G2PConfig, baseURL string) (g2p.Provider, error) {
	r.mu.RLock()
	factory, ok := r.g2p[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: g2p/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg, baseURL)
}

// CreateDecoder instantiates the decoder registered under cfg.Name.
func (r *Registry) CreateDecoder(ctx context.Context, cfg DecoderConfig) (decoder.Decoder, error) {
	r.mu.RLock()
	factory, ok := r.decoder[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: decoder/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(ctx, cfg)
}
