// Package splice relabels decoder output with an earlier representation of
// the conversion chain.
//
// The decoder only knows canonical phones ("K AE T"). For every word segment
// the [Splicer] locates each phone label in the canonical phone text, maps its
// extent back through the word's chain to the target representation (the IPA
// anchor by default) and replaces the phone children with target substrings.
// Phones whose target extents coincide or overlap are merged into one segment
// whose duration is the sum of the merged durations.
//
// A canonical phone is never split into several target segments.
package splice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/g2palign/internal/dictionary"
	"github.com/MrWong99/g2palign/internal/extent"
	"github.com/MrWong99/g2palign/internal/observe"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
	"github.com/MrWong99/g2palign/pkg/types"
)

// TargetIPA selects each chain's IPA anchor edge as the target representation.
const TargetIPA = -1

// DefaultSilenceLabels are the structural word labels the decoder emits for
// utterance boundaries, silence and filler noise.
var DefaultSilenceLabels = []string{
	"<s>", "</s>", "<sil>",
	"[NOISE]", "++NOISE++", "++BREATH++", "++UH++", "++UM++",
}

// Option is a functional option for configuring a Splicer.
type Option func(*Splicer)

// WithSilenceLabels replaces the set of word labels that are skipped.
func WithSilenceLabels(labels ...string) Option {
	return func(s *Splicer) {
		s.silence = make(map[string]bool, len(labels))
		for _, l := range labels {
			s.silence[l] = true
		}
	}
}

// WithTarget selects the edge whose output is the target representation.
// [TargetIPA] selects the chain's anchor edge.
func WithTarget(edge int) Option {
	return func(s *Splicer) { s.target = edge }
}

// Splicer relabels decoder trees. A Splicer holds no per-request state and is
// safe for concurrent use.
type Splicer struct {
	silence map[string]bool
	target  int
}

// New returns a Splicer targeting the IPA anchor with the default silence
// labels.
func New(opts ...Option) *Splicer {
	s := &Splicer{target: TargetIPA}
	WithSilenceLabels(DefaultSilenceLabels...)(s)
	for _, o := range opts {
		o(s)
	}
	return s
}

// WordCount returns the number of word segments in tree that Splice would
// relabel: words with phone children whose label is not a silence label.
func (s *Splicer) WordCount(tree *types.Segment) int {
	n := 0
	for _, w := range tree.Words() {
		if !s.silence[w.Label] {
			n++
		}
	}
	return n
}

// phone is a located canonical phone and its target extent.
type phone struct {
	seg    types.Segment
	target extent.Extent
}

// Splice relabels tree in place and returns it. chains and dict must be the
// chains and dictionary the decoder was configured with.
func (s *Splicer) Splice(ctx context.Context, tree *types.Segment, chains []g2p.ConversionChain, dict *dictionary.Result) (*types.Segment, error) {
	log := observe.Logger(ctx)
	loc := NewLocator(dict.Phones)

	next := 0
	for i := range tree.Children {
		seg := &tree.Children[i]
		if s.silence[seg.Label] || seg.IsLeaf() {
			continue
		}

		found := baseWord(seg.Label)
		if next >= len(dict.Words) {
			return nil, &MismatchError{WordIndex: i, Found: found, Reason: "unexpected extra word"}
		}
		word := dict.Words[next]
		if found != word.Text {
			return nil, &MismatchError{
				WordIndex:  i,
				Expected:   word.Text,
				Found:      found,
				Similarity: matchr.JaroWinkler(word.Text, found, false),
				Reason:     "word label differs from reference",
			}
		}
		if word.Chain < 0 || word.Chain >= len(chains) {
			return nil, fmt.Errorf("splice: word %d refers to chain %d of %d", i, word.Chain, len(chains))
		}
		chain := chains[word.Chain]

		edge := s.target
		if edge == TargetIPA {
			edge = chain.IPAEdge()
		}
		if edge < 0 || edge >= len(chain.Edges) {
			return nil, fmt.Errorf("splice: word %d %q: chain has no target edge %d", i, word.Text, edge)
		}
		targetText := chain.Level(edge + 1)
		wordTarget := extent.Full(targetText)

		phones := make([]phone, 0, len(seg.Children))
		for _, ph := range seg.Children {
			cursor := loc.Cursor()
			ext, ok := loc.Find(ph.Label, word.Span)
			if !ok {
				return nil, &PhoneNotFoundError{WordIndex: i, Word: word.Text, Phone: ph.Label, Cursor: cursor}
			}
			local := extent.Extent{
				Start: ext.Start - word.Span.Start + word.Canonical.Start,
				End:   ext.End - word.Span.Start + word.Canonical.Start,
			}
			tgt, err := extent.ComposeBackward(chain, local, edge)
			switch {
			case errors.Is(err, extent.ErrUnmapped):
				log.Debug("splice: phone unmapped, widening to word",
					"word", word.Text, "phone", ph.Label, "extent", local.String(), "err", err)
				tgt = wordTarget
			case err != nil:
				return nil, fmt.Errorf("splice: word %d %q: %w", i, word.Text, err)
			}
			phones = append(phones, phone{seg: ph, target: tgt})
		}

		groups := group(phones)
		if err := checkGroups(i, chain, edge+1, groups); err != nil {
			return nil, err
		}

		children := make([]types.Segment, len(groups))
		for k, g := range groups {
			children[k] = types.Segment{
				Label:    g.target.Slice(targetText),
				Begin:    g.seg.Begin,
				Duration: g.seg.Duration,
			}
		}
		if len(children) < len(seg.Children) {
			log.Debug("splice: merged phones",
				"word", word.Text, "before", len(seg.Children), "after", len(children))
		}
		seg.Children = children
		next++
	}

	if next < len(dict.Words) {
		missing := make([]string, 0, len(dict.Words)-next)
		for _, w := range dict.Words[next:] {
			missing = append(missing, w.Text)
		}
		return nil, &MismatchError{
			WordIndex: -1,
			Expected:  strings.Join(missing, " "),
			Reason:    "words not aligned",
		}
	}
	return tree, nil
}

// group merges consecutive phones whose target extents are identical or
// overlap. Each returned phone carries the first member's begin time, the
// summed duration and the union extent.
func group(phones []phone) []phone {
	var out []phone
	for _, p := range phones {
		if n := len(out); n > 0 && joins(out[n-1].target, p.target) {
			last := &out[n-1]
			last.target = last.target.Union(p.target)
			last.seg.Duration += p.seg.Duration
			continue
		}
		out = append(out, p)
	}
	return out
}

func joins(g, e extent.Extent) bool {
	if g == e || g.Overlaps(e) {
		return true
	}
	// Empty extents inside the group carry no text of their own.
	return e.IsEmpty() && g.Contains(e)
}

// checkGroups compares the merged target labels against the word's target
// form at level. Groups must lie within the word, follow each other without
// going back and together cover every code point of the word that maps on to
// the canonical phones. Whitespace and code points the chain leaves unpaired
// (stress marks, silent letters) need no cover.
func checkGroups(wordIndex int, chain g2p.ConversionChain, level int, groups []phone) error {
	targetText := chain.Level(level)
	runes := []rune(targetText)
	mismatch := func(reason string) error {
		var found strings.Builder
		for _, g := range groups {
			found.WriteString(g.target.Slice(targetText))
		}
		return &MismatchError{
			WordIndex:  wordIndex,
			Expected:   targetText,
			Found:      found.String(),
			Similarity: matchr.JaroWinkler(targetText, found.String(), false),
			Reason:     reason,
		}
	}

	word := extent.Full(targetText)
	covered := make([]bool, len(runes))
	prev := 0
	for _, g := range groups {
		if !word.Contains(g.target) || g.target.Start < prev {
			return mismatch("target phones out of order")
		}
		for k := g.target.Start; k < g.target.End; k++ {
			covered[k] = true
		}
		prev = g.target.End
	}

	last := len(chain.Edges)
	for k, r := range runes {
		if covered[k] || unicode.IsSpace(r) {
			continue
		}
		if _, err := extent.Forward(chain, extent.Extent{Start: k, End: k + 1}, level, last); err != nil {
			continue
		}
		return mismatch("target phones do not cover word")
	}
	return nil
}

// baseWord strips an alternate-pronunciation suffix such as "(2)".
func baseWord(label string) string {
	if !strings.HasSuffix(label, ")") {
		return label
	}
	open := strings.LastIndexByte(label, '(')
	if open <= 0 {
		return label
	}
	for _, r := range label[open+1 : len(label)-1] {
		if r < '0' || r > '9' {
			return label
		}
	}
	if open+2 > len(label)-1 {
		return label
	}
	return label[:open]
}
