// Package mock provides a test double for the g2p.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Chains: []g2p.ConversionChain{chain}}
//	chains, _ := p.Convert(ctx, "eng", "cat")
//	// p.ConvertCalls[0].Text == "cat"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// ConvertCall records a single invocation of Provider.Convert.
type ConvertCall struct {
	Lang string
	Text string
}

// Provider is a mock implementation of g2p.Provider.
type Provider struct {
	mu sync.Mutex

	// Languages is returned by Langs.
	Languages []g2p.Language

	// LangsErr, if non-nil, is returned as the error from Langs.
	LangsErr error

	// PathResult is returned by Path.
	PathResult []string

	// PathErr, if non-nil, is returned as the error from Path.
	PathErr error

	// Chains is returned by Convert. Each call receives a fresh copy of the
	// slice header so callers cannot observe each other's reordering.
	Chains []g2p.ConversionChain

	// ConvertErr, if non-nil, is returned as the error from Convert.
	ConvertErr error

	// ConvertCalls records every call to Convert.
	ConvertCalls []ConvertCall

	// LangsCalls counts calls to Langs.
	LangsCalls int
}

// Langs records the call and returns Languages, LangsErr.
func (p *Provider) Langs(_ context.Context) ([]g2p.Language, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LangsCalls++
	if p.LangsErr != nil {
		return nil, p.LangsErr
	}
	return p.Languages, nil
}

// Path returns PathResult, PathErr.
func (p *Provider) Path(_ context.Context, _ string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PathErr != nil {
		return nil, p.PathErr
	}
	return p.PathResult, nil
}

// Convert records the call and returns Chains, ConvertErr.
func (p *Provider) Convert(_ context.Context, lang, text string) ([]g2p.ConversionChain, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConvertCalls = append(p.ConvertCalls, ConvertCall{Lang: lang, Text: text})
	if p.ConvertErr != nil {
		return nil, p.ConvertErr
	}
	out := make([]g2p.ConversionChain, len(p.Chains))
	copy(out, p.Chains)
	return out, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConvertCalls = nil
	p.LangsCalls = 0
}

// Ensure Provider implements g2p.Provider at compile time.
var _ g2p.Provider = (*Provider)(nil)
