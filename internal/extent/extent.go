// Package extent maps character spans through a chain of G2P conversion
// edges.
//
// Each [g2p.ConversionEdge] carries its own sparse set of alignment pairs
// between its input and output text. Adjacent edges never share a coordinate
// space, so a span is carried from one representation to the next by boundary
// search: the start of the mapped span is taken from the first pair whose
// source position equals the span start, and the end from the last pair whose
// source position equals the final code point of the span.
//
// A chain with n edges has n+1 text levels. Level 0 is the token text (the
// input of edge 0) and level i+1 is the output of edge i. [Forward] and
// [Backward] move an [Extent] between levels one edge at a time; any edge that
// cannot be crossed aborts the whole composition with an [*UnmappedError].
//
// All positions are code point (rune) indices, never byte offsets.
package extent

import (
	"errors"
	"fmt"

	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// ErrUnmapped is the sentinel matched by every [*UnmappedError].
var ErrUnmapped = errors.New("extent unmapped")

// Direction is the traversal direction of a composition step.
type Direction int

const (
	// DirForward maps an input span to an output span.
	DirForward Direction = iota

	// DirBackward maps an output span to an input span.
	DirBackward
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	if d == DirBackward {
		return "backward"
	}
	return "forward"
}

// Extent is a half-open [Start, End) interval of code point indices into a
// specific string.
type Extent struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of code points covered by e.
func (e Extent) Len() int {
	return e.End - e.Start
}

// IsEmpty reports whether e covers no code points.
func (e Extent) IsEmpty() bool {
	return e.End <= e.Start
}

// Valid reports whether 0 <= Start <= End <= n.
func (e Extent) Valid(n int) bool {
	return e.Start >= 0 && e.Start <= e.End && e.End <= n
}

// Overlaps reports whether e and o share at least one code point.
func (e Extent) Overlaps(o Extent) bool {
	return e.Start < o.End && o.Start < e.End
}

// Union returns the smallest extent covering both e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{Start: min(e.Start, o.Start), End: max(e.End, o.End)}
}

// Contains reports whether o lies entirely within e.
func (e Extent) Contains(o Extent) bool {
	return o.Start >= e.Start && o.End <= e.End
}

// Slice returns the substring of s covered by e, clamped to the bounds of s.
func (e Extent) Slice(s string) string {
	r := []rune(s)
	start := min(max(e.Start, 0), len(r))
	end := min(max(e.End, start), len(r))
	return string(r[start:end])
}

// String formats e as "[start,end)".
func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d)", e.Start, e.End)
}

// Full returns the extent covering all of s.
func Full(s string) Extent {
	return Extent{Start: 0, End: len([]rune(s))}
}

// UnmappedError reports that a span boundary has no alignment pair on one
// edge of the chain.
type UnmappedError struct {
	// Edge is the index of the edge that could not be crossed.
	Edge int

	// Direction is the traversal direction of the failed step.
	Direction Direction

	// Extent is the span presented to the failed step.
	Extent Extent

	// Boundary is the position for which no pair was found.
	Boundary int
}

// Error implements error.
func (e *UnmappedError) Error() string {
	return fmt.Sprintf("extent: edge %d (%s): no alignment pair for position %d of %s",
		e.Edge, e.Direction, e.Boundary, e.Extent)
}

// Is makes every UnmappedError match [ErrUnmapped].
func (e *UnmappedError) Is(target error) bool {
	return target == ErrUnmapped
}

// Step maps ext, an extent on edge's input text, to the corresponding extent
// on its output text.
func Step(edge g2p.ConversionEdge, ext Extent) (Extent, error) {
	return step(edge.Alignments, ext, DirForward)
}

// StepBack maps ext, an extent on edge's output text, to the corresponding
// extent on its input text.
func StepBack(edge g2p.ConversionEdge, ext Extent) (Extent, error) {
	return step(edge.Alignments, ext, DirBackward)
}

func step(pairs []g2p.AlignmentPair, ext Extent, dir Direction) (Extent, error) {
	from := func(p g2p.AlignmentPair) int { return p.In }
	to := func(p g2p.AlignmentPair) int { return p.Out }
	if dir == DirBackward {
		from, to = to, from
	}

	startFound := false
	var out Extent
	for _, p := range pairs {
		if from(p) == ext.Start {
			out.Start = to(p)
			startFound = true
			break
		}
	}
	if !startFound {
		return Extent{}, &UnmappedError{Edge: -1, Direction: dir, Extent: ext, Boundary: ext.Start}
	}
	if ext.IsEmpty() {
		return Extent{Start: out.Start, End: out.Start}, nil
	}

	last := ext.End - 1
	endFound := false
	for _, p := range pairs {
		if from(p) == last {
			out.End = to(p) + 1
			endFound = true
		}
	}
	if !endFound {
		return Extent{}, &UnmappedError{Edge: -1, Direction: dir, Extent: ext, Boundary: last}
	}
	// Crossing alignments can invert the span; clamp so the result stays a
	// valid half-open interval.
	if out.End < out.Start {
		out.End = out.Start
	}
	return out, nil
}

// Forward maps ext from level from to level to (from <= to) by applying
// [Step] for edges from..to-1 in chain order.
func Forward(chain g2p.ConversionChain, ext Extent, from, to int) (Extent, error) {
	if err := checkLevels(chain, from, to); err != nil {
		return Extent{}, err
	}
	if from > to {
		return Extent{}, fmt.Errorf("extent: forward from level %d to lower level %d", from, to)
	}
	cur := ext
	for i := from; i < to; i++ {
		next, err := Step(chain.Edges[i], cur)
		if err != nil {
			return Extent{}, withEdge(err, i)
		}
		cur = next
	}
	return cur, nil
}

// Backward maps ext from level from to level to (from >= to) by applying
// [StepBack] for edges from-1 down to to in reverse chain order.
func Backward(chain g2p.ConversionChain, ext Extent, from, to int) (Extent, error) {
	if err := checkLevels(chain, from, to); err != nil {
		return Extent{}, err
	}
	if from < to {
		return Extent{}, fmt.Errorf("extent: backward from level %d to higher level %d", from, to)
	}
	cur := ext
	for i := from - 1; i >= to; i-- {
		next, err := StepBack(chain.Edges[i], cur)
		if err != nil {
			return Extent{}, withEdge(err, i)
		}
		cur = next
	}
	return cur, nil
}

// ComposeForward maps an extent on the token text (level 0) to the canonical
// representation (the last level).
func ComposeForward(chain g2p.ConversionChain, ext Extent) (Extent, error) {
	return Forward(chain, ext, 0, len(chain.Edges))
}

// ComposeBackward maps an extent on the canonical representation back to the
// output of edge stopAt. Passing -1 for stopAt maps all the way to the token
// text.
func ComposeBackward(chain g2p.ConversionChain, ext Extent, stopAt int) (Extent, error) {
	return Backward(chain, ext, len(chain.Edges), stopAt+1)
}

func checkLevels(chain g2p.ConversionChain, levels ...int) error {
	for _, l := range levels {
		if l < 0 || l > len(chain.Edges) {
			return fmt.Errorf("extent: level %d out of range [0,%d]", l, len(chain.Edges))
		}
	}
	return nil
}

func withEdge(err error, edge int) error {
	var ue *UnmappedError
	if errors.As(err, &ue) {
		ue.Edge = edge
	}
	return err
}
