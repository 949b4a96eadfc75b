// Package mock provides a test double for the decoder.Decoder interface.
//
// Results are scripted per tier name: Results["strict"] is returned by Run
// while the strict tier is configured. Every call is recorded so tests can
// assert the exact sequence of decoder state changes.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/g2palign/pkg/provider/decoder"
	"github.com/MrWong99/g2palign/pkg/types"
)

// Call records one mutating or running call, in order.
type Call struct {
	// Method is one of "Configure", "SetDictionary", "SetReferenceText", "Run".
	Method string

	// Config is set for Configure calls.
	Config decoder.Config

	// Entries is a copy of the dictionary for SetDictionary calls.
	Entries []types.DictionaryEntry

	// Text is set for SetReferenceText calls.
	Text string

	// Samples is the number of samples for Run calls.
	Samples int
}

// Decoder is a mock implementation of decoder.Decoder.
type Decoder struct {
	mu sync.Mutex

	// Results maps a tier name to the tree returned by Run. Each Run returns
	// a deep copy. A missing entry yields an empty root.
	Results map[decoder.Tier]*types.Segment

	// RunErr maps a tier name to an error returned by Run.
	RunErr map[decoder.Tier]error

	// ConfigureErr, if non-nil, is returned as the error from Configure.
	ConfigureErr error

	// RunHook, if set, is called by Run with its context before the result is
	// produced. It runs without the mock's lock held, so it may block. If the
	// context has ended when the hook returns, Run returns the context error.
	RunHook func(ctx context.Context)

	// Calls records every call in order.
	Calls []Call

	// Closed is set by Close.
	Closed bool

	current decoder.Config
}

// Configure records the call and remembers the tier for Run.
func (d *Decoder) Configure(_ context.Context, cfg decoder.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{Method: "Configure", Config: cfg})
	if d.ConfigureErr != nil {
		return d.ConfigureErr
	}
	d.current = cfg
	return nil
}

// SetDictionary records the call.
func (d *Decoder) SetDictionary(_ context.Context, entries []types.DictionaryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{Method: "SetDictionary", Entries: append([]types.DictionaryEntry(nil), entries...)})
	return nil
}

// SetReferenceText records the call.
func (d *Decoder) SetReferenceText(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{Method: "SetReferenceText", Text: text})
	return nil
}

// Run records the call and returns the scripted result for the configured tier.
func (d *Decoder) Run(ctx context.Context, samples []float32) (*types.Segment, error) {
	d.mu.Lock()
	hook := d.RunHook
	d.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{Method: "Run", Samples: len(samples)})
	if hook != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	tier := d.current.Tier.Name
	if err := d.RunErr[tier]; err != nil {
		return nil, err
	}
	if res, ok := d.Results[tier]; ok && res != nil {
		c := res.Clone()
		return &c, nil
	}
	return &types.Segment{}, nil
}

// Close marks the decoder closed.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

// CallsTo returns the recorded calls for method. Thread-safe.
func (d *Decoder) CallsTo(method string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Ensure Decoder implements decoder.Decoder at compile time.
var _ decoder.Decoder = (*Decoder)(nil)
