// Package aligner is the caller-facing alignment pipeline.
//
// [Aligner.Align] fetches conversion chains for the text once, then walks the
// configured search tiers in order. Each tier reconfigures the decoder, submits
// the dictionary and canonical text built from those chains, runs the decoder
// and splices the result. A tier whose run yields no word segments is a tier
// failure and the next, looser tier is tried. Every other error aborts the
// request. No partial tree is ever returned.
//
// The decoder is stateful and exclusively owned, so an Aligner runs one
// decoder pipeline at a time. Concurrent callers queue for it. A run that has
// started is never interrupted: when the caller goes away the decoder still
// finishes (bounded by the decode timeout) and the request then ends with the
// caller's context error.
package aligner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/g2palign/internal/dictionary"
	"github.com/MrWong99/g2palign/internal/observe"
	"github.com/MrWong99/g2palign/internal/resilience"
	"github.com/MrWong99/g2palign/internal/splice"
	"github.com/MrWong99/g2palign/pkg/provider/decoder"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
	"github.com/MrWong99/g2palign/pkg/types"
)

const (
	// DefaultLanguage is the input language used when a request names none.
	DefaultLanguage = "eng"

	// DefaultDecodeTimeout bounds one decoder exchange.
	DefaultDecodeTimeout = 2 * time.Minute
)

var (
	// ErrNoAlignment is returned when every search tier produced an empty
	// alignment.
	ErrNoAlignment = errors.New("aligner: no alignment found")

	// ErrNoWords is returned when none of the text's tokens could be
	// converted, leaving nothing to align.
	ErrNoWords = errors.New("aligner: text has no translatable words")

	// ErrInvalidRequest is wrapped by errors about malformed requests.
	ErrInvalidRequest = errors.New("aligner: invalid request")

	// errEmptyTier marks a tier failure. It never leaves the package.
	errEmptyTier = errors.New("decoder returned no words")
)

// Request is one alignment request.
type Request struct {
	// Samples is mono audio in [-1, 1].
	Samples []float32

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Text is the transcript the audio is aligned against.
	Text string

	// Lang is the input language code. Empty selects the Aligner default.
	Lang string
}

func (r Request) validate() error {
	switch {
	case len(r.Samples) == 0:
		return fmt.Errorf("%w: no audio samples", ErrInvalidRequest)
	case r.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidRequest, r.SampleRate)
	case r.Text == "":
		return fmt.Errorf("%w: empty text", ErrInvalidRequest)
	}
	return nil
}

// Option is a functional option for configuring an Aligner.
type Option func(*settings)

// settings are the per-request knobs. They can be replaced while the Aligner
// serves requests; each request uses the settings current when it started.
type settings struct {
	splicer *splice.Splicer
	tiers   []decoder.TierSettings
	lang    string
	metrics *observe.Metrics
	timeout time.Duration
}

// WithTiers replaces the search tiers. Tiers are tried in the given order.
func WithTiers(tiers ...decoder.TierSettings) Option {
	return func(s *settings) { s.tiers = append([]decoder.TierSettings(nil), tiers...) }
}

// WithSplicer replaces the default [splice.Splicer].
func WithSplicer(sp *splice.Splicer) Option {
	return func(s *settings) { s.splicer = sp }
}

// WithMetrics records pipeline metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithDecodeTimeout bounds each decoder exchange. Zero disables the bound.
func WithDecodeTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithLanguage sets the default input language.
func WithLanguage(lang string) Option {
	return func(s *settings) { s.lang = lang }
}

// Aligner turns audio and text into a time-aligned segment tree.
type Aligner struct {
	g2p g2p.Provider
	dec decoder.Decoder

	mu  sync.RWMutex
	cfg settings

	// sem holds the decoder. It is a channel so that waiting can be
	// abandoned when the caller's context ends.
	sem chan struct{}
}

// New returns an Aligner that owns dec. Closing the Aligner closes dec.
func New(p g2p.Provider, dec decoder.Decoder, opts ...Option) (*Aligner, error) {
	if p == nil || dec == nil {
		return nil, errors.New("aligner: g2p provider and decoder are required")
	}
	cfg, err := apply(settings{
		tiers:   decoder.DefaultTiers(),
		lang:    DefaultLanguage,
		timeout: DefaultDecodeTimeout,
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Aligner{
		g2p: p,
		dec: dec,
		cfg: cfg,
		sem: make(chan struct{}, 1),
	}, nil
}

func apply(s settings, opts []Option) (settings, error) {
	for _, o := range opts {
		o(&s)
	}
	if s.splicer == nil {
		s.splicer = splice.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.lang == "" {
		s.lang = DefaultLanguage
	}
	if len(s.tiers) == 0 {
		return s, errors.New("aligner: at least one search tier is required")
	}
	return s, nil
}

// Reconfigure applies opts on top of the current settings. Requests already
// running keep the settings they started with. On error nothing changes.
func (a *Aligner) Reconfigure(opts ...Option) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg, err := apply(a.cfg, opts)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *Aligner) current() settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Tiers returns a copy of the configured search tiers.
func (a *Aligner) Tiers() []decoder.TierSettings {
	return append([]decoder.TierSettings(nil), a.current().tiers...)
}

// Language returns the default input language.
func (a *Aligner) Language() string {
	return a.current().lang
}

// Close releases the decoder.
func (a *Aligner) Close() error {
	return a.dec.Close()
}

// Align aligns req.Samples against req.Text and returns the spliced sentence
// segment. The result satisfies [types.Segment.Validate].
func (a *Aligner) Align(ctx context.Context, req Request) (*types.Segment, error) {
	start := time.Now()
	ctx = observe.EnsureRequestID(ctx)
	cfg := a.current()
	if req.Lang == "" {
		req.Lang = cfg.lang
	}

	ctx, span := observe.StartSpan(ctx, "aligner.Align")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", observe.RequestID(ctx)),
		attribute.String("lang", req.Lang),
		attribute.Int("samples", len(req.Samples)),
		attribute.Int("sample_rate", req.SampleRate),
	)

	m := cfg.metrics
	m.ActiveAlignments.Add(ctx, 1)
	defer m.ActiveAlignments.Add(ctx, -1)

	tree, err := a.align(ctx, cfg, req)

	status := "ok"
	switch {
	case errors.Is(err, ErrNoAlignment):
		status = "no_alignment"
	case err != nil:
		status = "error"
	}
	m.RecordAlignment(ctx, status)
	m.AlignDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return nil, err
	}
	return tree, nil
}

func (a *Aligner) align(ctx context.Context, cfg settings, req Request) (*types.Segment, error) {
	log := observe.Logger(ctx)
	if err := req.validate(); err != nil {
		return nil, err
	}

	chains, err := a.convert(ctx, cfg.metrics, req)
	if err != nil {
		return nil, err
	}

	// Dictionary errors are fatal before the decoder is touched.
	built, err := dictionary.Build(ctx, chains)
	if err != nil {
		return nil, err
	}
	if len(built.Words) == 0 {
		return nil, ErrNoWords
	}

	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-a.sem }()

	steps := make([]resilience.Step[decoder.TierSettings], len(cfg.tiers))
	for i, t := range cfg.tiers {
		steps[i] = resilience.Step[decoder.TierSettings]{Name: t.String(), Value: t}
	}
	tree, err := resilience.Escalate(ctx, resilience.Escalation{
		Retryable: func(err error) bool { return errors.Is(err, errEmptyTier) },
		OnAttempt: func(ctx context.Context, tier string, err error) {
			outcome := "aligned"
			switch {
			case errors.Is(err, errEmptyTier):
				outcome = "empty"
				log.Warn("aligner: tier produced no alignment", "tier", tier)
			case err != nil:
				outcome = "error"
			}
			cfg.metrics.RecordTierAttempt(ctx, tier, outcome)
		},
	}, steps, func(ctx context.Context, tier decoder.TierSettings) (*types.Segment, error) {
		return a.runTier(ctx, cfg, tier, req, chains)
	})
	if errors.Is(err, resilience.ErrExhausted) {
		return nil, fmt.Errorf("%w after %d tiers", ErrNoAlignment, len(cfg.tiers))
	}
	if err != nil {
		return nil, err
	}
	log.Info("aligner: aligned", "lang", req.Lang, "words", len(built.Words), "entries", len(built.Entries))
	return tree, nil
}

// convert fetches one conversion chain per token.
func (a *Aligner) convert(ctx context.Context, m *observe.Metrics, req Request) ([]g2p.ConversionChain, error) {
	ctx, span := observe.StartSpan(ctx, "aligner.convert")
	defer span.End()

	start := time.Now()
	chains, err := a.g2p.Convert(ctx, req.Lang, req.Text)
	m.G2PDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", "convert")))
	if err != nil {
		m.RecordProviderRequest(ctx, "g2p", "convert", "error")
		m.RecordProviderError(ctx, "g2p", "convert")
		span.RecordError(err)
		return nil, err
	}
	m.RecordProviderRequest(ctx, "g2p", "convert", "ok")
	span.SetAttributes(attribute.Int("tokens", len(chains)))
	return chains, nil
}

// runTier runs the full build, decode and splice pipeline under one tier.
func (a *Aligner) runTier(ctx context.Context, cfg settings, tier decoder.TierSettings, req Request, chains []g2p.ConversionChain) (*types.Segment, error) {
	ctx, span := observe.StartSpan(ctx, "aligner.tier")
	defer span.End()
	span.SetAttributes(attribute.String("tier", tier.String()))

	dict, err := dictionary.Build(ctx, chains)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tree, err := a.decode(ctx, cfg, tier, req, dict)
	cfg.metrics.DecoderDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("tier", tier.String())))
	if cerr := ctx.Err(); cerr != nil {
		observe.Logger(ctx).Info("aligner: request abandoned during decoder run", "tier", tier.String(), "err", cerr)
		return nil, cerr
	}
	if err != nil {
		cfg.metrics.RecordProviderError(ctx, "decoder", "run")
		span.RecordError(err)
		return nil, fmt.Errorf("aligner: tier %s: %w", tier, err)
	}
	if tree == nil || cfg.splicer.WordCount(tree) == 0 {
		return nil, errEmptyTier
	}

	start = time.Now()
	tree, err = cfg.splicer.Splice(ctx, tree, chains, dict)
	cfg.metrics.SpliceDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := tree.Validate(types.DefaultTolerance); err != nil {
		return nil, fmt.Errorf("aligner: tier %s: %w", tier, err)
	}
	return tree, nil
}

// decode drives one decoder exchange. The decoder has no cooperative
// cancellation, so the exchange runs detached from ctx and only the decode
// timeout ends it early.
func (a *Aligner) decode(ctx context.Context, cfg settings, tier decoder.TierSettings, req Request, dict *dictionary.Result) (*types.Segment, error) {
	m := cfg.metrics
	ctx = context.WithoutCancel(ctx)
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}
	if err := a.dec.Configure(ctx, decoder.Config{SampleRate: req.SampleRate, Tier: tier}); err != nil {
		return nil, err
	}
	if err := a.dec.SetDictionary(ctx, dict.Entries); err != nil {
		return nil, err
	}
	if err := a.dec.SetReferenceText(ctx, dict.Text); err != nil {
		return nil, err
	}
	tree, err := a.dec.Run(ctx, req.Samples)
	if err != nil {
		return nil, err
	}
	m.RecordProviderRequest(ctx, "decoder", "run", "ok")
	return tree, nil
}
