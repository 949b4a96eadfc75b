package g2p

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// AlignmentPair asserts that the code point at In in an edge's input text
// corresponds to the code point at Out in its output text.
type AlignmentPair struct {
	In  int
	Out int
}

// ConversionEdge is one step of a conversion chain. Edges are immutable once
// received from the service.
type ConversionEdge struct {
	// InputText is the text consumed by this edge.
	InputText string

	// OutputText is the text produced by this edge.
	OutputText string

	// OutLang is the language code of OutputText. Empty for untranslatable
	// tokens.
	OutLang string

	// IsIPA marks the anchor edge whose output is the IPA representation.
	IsIPA bool

	// Alignments is the unordered, possibly sparse set of code point
	// correspondences between InputText and OutputText.
	Alignments []AlignmentPair
}

// ConversionChain is the ordered list of edges converting one token from its
// source text to the canonical phone representation. Edge 0 consumes
// TokenText and edge i's output is edge i+1's input.
type ConversionChain struct {
	TokenText string
	Edges     []ConversionEdge

	// Source is the token's position in the utterance. It is set by
	// [LocateTokens]; chains built by hand may leave it zero.
	Source Token
}

// Translatable reports whether the chain carries a usable conversion.
func (c *ConversionChain) Translatable() bool {
	return len(c.Edges) > 0 && c.Edges[0].OutLang != ""
}

// Canonical returns the text of the final representation.
func (c *ConversionChain) Canonical() string {
	if len(c.Edges) == 0 {
		return ""
	}
	return c.Edges[len(c.Edges)-1].OutputText
}

// IPAEdge returns the index of the anchor edge, or -1 when the chain has none.
func (c *ConversionChain) IPAEdge() int {
	for i, e := range c.Edges {
		if e.IsIPA {
			return i
		}
	}
	return -1
}

// Level returns the text at level l: level 0 is TokenText and level i+1 is the
// output of edge i.
func (c *ConversionChain) Level(l int) string {
	if l <= 0 {
		return c.TokenText
	}
	return c.Edges[l-1].OutputText
}

// Validate checks the chain invariants for a translatable chain: edges link
// up, exactly one edge is the IPA anchor, and every alignment pair lies within
// its edge's texts. Untranslatable chains are always valid.
func (c *ConversionChain) Validate() error {
	if !c.Translatable() {
		return nil
	}
	if c.Edges[0].InputText != c.TokenText {
		return fmt.Errorf("edge 0 input %q does not match token %q", c.Edges[0].InputText, c.TokenText)
	}
	ipa := 0
	for i, e := range c.Edges {
		if e.OutLang == "" {
			return fmt.Errorf("edge %d has no output language", i)
		}
		if i > 0 && c.Edges[i-1].OutputText != e.InputText {
			return fmt.Errorf("edge %d input %q does not match edge %d output %q", i, e.InputText, i-1, c.Edges[i-1].OutputText)
		}
		if e.IsIPA {
			ipa++
		}
		nIn := utf8.RuneCountInString(e.InputText)
		nOut := utf8.RuneCountInString(e.OutputText)
		for _, p := range e.Alignments {
			if p.In < 0 || p.In >= nIn || p.Out < 0 || p.Out >= nOut {
				return fmt.Errorf("edge %d alignment (%d,%d) out of range for %d/%d code points", i, p.In, p.Out, nIn, nOut)
			}
		}
	}
	if ipa != 1 {
		return fmt.Errorf("chain has %d IPA anchor edges, want exactly 1", ipa)
	}
	return nil
}

// Token is one word of the utterance and its place in it.
type Token struct {
	// Text is the word as written in the utterance.
	Text string

	// Start and End delimit the word in the utterance, in code points.
	Start int
	End   int
}

// LocateTokens sets Source on every chain by finding its TokenText in text,
// in order. Tokens are searched at or after the end of the previous token, so
// the service may drop text between tokens but may not reorder or invent
// them. Whitespace-only tokens get an empty span at the current position.
func LocateTokens(text string, chains []ConversionChain) error {
	src := []rune(text)
	pos := 0
	for i := range chains {
		tok := []rune(chains[i].TokenText)
		if strings.TrimSpace(chains[i].TokenText) == "" {
			chains[i].Source = Token{Text: chains[i].TokenText, Start: pos, End: pos}
			continue
		}
		at := indexRunes(src, tok, pos)
		if at < 0 {
			return &ParseError{
				Token:  i,
				Reason: fmt.Sprintf("token %q not found in text after code point %d", chains[i].TokenText, pos),
			}
		}
		pos = at + len(tok)
		chains[i].Source = Token{Text: chains[i].TokenText, Start: at, End: pos}
	}
	return nil
}

func indexRunes(s, sub []rune, from int) int {
	for i := from; i+len(sub) <= len(s); i++ {
		if slices.Equal(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
