// Package decoder defines the boundary to an external forced-alignment speech
// decoder.
//
// A Decoder is a stateful, exclusively owned resource: Configure,
// SetDictionary and SetReferenceText mutate decoder-global state that the
// next Run consumes. Callers must not share one Decoder between concurrent
// alignment requests. The orchestrator owns a single instance and serialises
// access to it.
package decoder

import (
	"context"
	"fmt"

	"github.com/MrWong99/g2palign/pkg/types"
)

// Tier names a search-tolerance tier.
type Tier string

const (
	TierStrict   Tier = "strict"
	TierModerate Tier = "moderate"
	TierLoose    Tier = "loose"
)

// TierSettings is one named set of decoder pruning thresholds. Smaller
// thresholds keep more hypotheses alive; zero disables pruning entirely.
type TierSettings struct {
	Name Tier `json:"name" yaml:"name"`

	// Beam is the HMM state pruning threshold.
	Beam float64 `json:"beam" yaml:"beam"`

	// PBeam is the phone transition pruning threshold.
	PBeam float64 `json:"pbeam" yaml:"pbeam"`

	// WBeam is the word transition pruning threshold.
	WBeam float64 `json:"wbeam" yaml:"wbeam"`
}

// String returns the tier name.
func (t TierSettings) String() string {
	return string(t.Name)
}

// DefaultTiers returns the ordered strict → moderate → loose tier set.
func DefaultTiers() []TierSettings {
	return []TierSettings{
		{Name: TierStrict, Beam: 1e-100, PBeam: 1e-100, WBeam: 1e-80},
		{Name: TierModerate, Beam: 1e-200, PBeam: 1e-200, WBeam: 1e-160},
		{Name: TierLoose, Beam: 0, PBeam: 0, WBeam: 0},
	}
}

// Config is applied by [Decoder.Configure] before every run.
type Config struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Tier selects the pruning thresholds.
	Tier TierSettings
}

// Validate reports whether cfg can be applied.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("decoder: sample rate %d must be positive", c.SampleRate)
	}
	if c.Tier.Beam < 0 || c.Tier.PBeam < 0 || c.Tier.WBeam < 0 {
		return fmt.Errorf("decoder: tier %q has negative thresholds", c.Tier.Name)
	}
	return nil
}

// Decoder is the abstraction over a forced-alignment decoder.
type Decoder interface {
	// Configure reinitialises the decoder with the given sample rate and
	// pruning thresholds, discarding any previous dictionary and text.
	Configure(ctx context.Context, cfg Config) error

	// SetDictionary installs the pronunciation dictionary.
	SetDictionary(ctx context.Context, entries []types.DictionaryEntry) error

	// SetReferenceText installs the text the audio is aligned against.
	SetReferenceText(ctx context.Context, text string) error

	// Run aligns mono samples in [-1, 1] against the reference text and
	// returns the sentence-level root segment with word and phone children.
	// A root with no word children means the decoder found no alignment.
	Run(ctx context.Context, samples []float32) (*types.Segment, error)

	// Close releases the decoder. Calling Close more than once is safe.
	Close() error
}
