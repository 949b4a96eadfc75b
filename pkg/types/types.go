// Package types defines the shared types used across all g2palign packages.
//
// These types form the lingua franca between the decoder boundary, the
// splicer, the orchestrator and the HTTP API. They are intentionally minimal:
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSegment is returned by [Segment.Validate] when a segment tree
// violates the duration or contiguity invariants.
var ErrInvalidSegment = errors.New("invalid segment tree")

// DefaultTolerance is the rounding tolerance, in seconds, used when comparing
// segment durations and boundaries.
const DefaultTolerance = 1e-6

// DictionaryEntry is one pronunciation submitted to the decoder.
type DictionaryEntry struct {
	// Word is the orthographic form as it appears in the reference text.
	Word string `json:"word"`

	// Phones is the space-separated canonical phone string (e.g., "K AE T").
	Phones string `json:"phones"`
}

// Segment is a time-aligned span produced by the decoder and relabelled by the
// splicer. The decoder produces three levels: sentence (root), word and phone.
// Phone segments are leaves and have no children.
//
// The JSON field names follow the compact decoder wire format.
type Segment struct {
	// Label is the text of the segment (word, phone or sentence).
	Label string `json:"t"`

	// Begin is the start time in seconds from the beginning of the audio.
	Begin float64 `json:"b"`

	// Duration is the length of the segment in seconds.
	Duration float64 `json:"d"`

	// Children holds the sub-segments in time order. Nil for leaves.
	Children []Segment `json:"w,omitempty"`
}

// End returns the end time of the segment.
func (s *Segment) End() float64 {
	return s.Begin + s.Duration
}

// IsLeaf reports whether s has no children.
func (s *Segment) IsLeaf() bool {
	return len(s.Children) == 0
}

// Words returns the children of a sentence segment that carry phone
// segments. Structural children without phones are omitted.
func (s *Segment) Words() []Segment {
	var out []Segment
	for _, c := range s.Children {
		if !c.IsLeaf() {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Segment) Clone() Segment {
	c := *s
	if s.Children != nil {
		c.Children = make([]Segment, len(s.Children))
		for i := range s.Children {
			c.Children[i] = s.Children[i].Clone()
		}
	}
	return c
}

// Validate checks the tree rooted at s: for every non-leaf segment the child
// durations must sum to the parent duration, and children must be time
// ordered and contiguous. Comparisons use tol; a non-positive tol selects
// [DefaultTolerance].
func (s *Segment) Validate(tol float64) error {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return s.validate(tol, "root")
}

func (s *Segment) validate(tol float64, path string) error {
	if s.Duration < -tol {
		return fmt.Errorf("%w: %s %q has negative duration %g", ErrInvalidSegment, path, s.Label, s.Duration)
	}
	if s.IsLeaf() {
		return nil
	}
	var sum float64
	for i := range s.Children {
		c := &s.Children[i]
		sum += c.Duration
		if i > 0 {
			prev := &s.Children[i-1]
			if math.Abs(prev.End()-c.Begin) > tol {
				return fmt.Errorf("%w: %s %q: child %d ends at %g but child %d begins at %g",
					ErrInvalidSegment, path, s.Label, i-1, prev.End(), i, c.Begin)
			}
		}
		if err := c.validate(tol, fmt.Sprintf("%s/%d", path, i)); err != nil {
			return err
		}
	}
	if math.Abs(sum-s.Duration) > tol {
		return fmt.Errorf("%w: %s %q: children sum to %g, want %g", ErrInvalidSegment, path, s.Label, sum, s.Duration)
	}
	return nil
}
