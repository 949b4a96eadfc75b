// Package dictionary builds the pronunciation dictionary and reference text
// submitted to the decoder from per-token conversion chains.
//
// Each translatable token contributes one [types.DictionaryEntry] whose phones
// are obtained by composing the full token extent forward through its chain.
// Untranslatable tokens are logged and excluded from both the dictionary and
// the reference text, so the decoder never produces a word for them.
package dictionary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/g2palign/internal/extent"
	"github.com/MrWong99/g2palign/internal/observe"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
	"github.com/MrWong99/g2palign/pkg/types"
)

// BuildError reports a token whose chain could not be composed.
type BuildError struct {
	// TokenIndex is the index of the token in the chain list.
	TokenIndex int

	// Token is the token text.
	Token string

	// Err is the underlying cause, usually an [*extent.UnmappedError].
	Err error
}

// Error implements error.
func (e *BuildError) Error() string {
	return fmt.Sprintf("dictionary: token %d %q: %v", e.TokenIndex, e.Token, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// Word is one token that made it into the dictionary.
type Word struct {
	// Chain is the index of the token's chain in the list passed to Build.
	Chain int

	// Text is the word form submitted in the reference text.
	Text string

	// Phones is the canonical phone string for the word.
	Phones string

	// Span locates Phones within [Result.Phones].
	Span extent.Extent

	// Canonical locates Phones within the canonical text of the word's chain.
	Canonical extent.Extent

	// Source is the token's place in the utterance.
	Source g2p.Token
}

// Result is the output of [Build].
type Result struct {
	// Entries is the de-duplicated pronunciation dictionary in first-seen
	// order.
	Entries []types.DictionaryEntry

	// Text is the reference text: the word forms of all included tokens
	// joined by single spaces.
	Text string

	// Words lists the included tokens in order.
	Words []Word

	// Phones is the canonical phone strings of all included tokens joined by
	// single spaces. It is the text the splicer searches decoder labels in.
	Phones string
}

// Build composes every translatable chain forward and returns the dictionary
// and reference text. It fails with a [*BuildError] on the first chain that
// cannot be composed.
func Build(ctx context.Context, chains []g2p.ConversionChain) (*Result, error) {
	log := observe.Logger(ctx)

	res := &Result{}
	seen := make(map[types.DictionaryEntry]bool)
	var (
		words  []string
		phones strings.Builder
		pos    int
	)
	for i := range chains {
		chain := &chains[i]
		if !chain.Translatable() {
			log.Info("dictionary: skipping untranslatable token",
				"token", i, "text", chain.TokenText, "start", chain.Source.Start, "end", chain.Source.End)
			continue
		}

		word := chain.TokenText
		if word == "" {
			word = chain.Edges[0].InputText
		}
		p, canon, err := Pronounce(*chain)
		if err != nil {
			return nil, &BuildError{TokenIndex: i, Token: word, Err: err}
		}

		entry := types.DictionaryEntry{Word: word, Phones: p}
		if !seen[entry] {
			seen[entry] = true
			res.Entries = append(res.Entries, entry)
		}

		if len(words) > 0 {
			phones.WriteByte(' ')
			pos++
		}
		n := len([]rune(p))
		res.Words = append(res.Words, Word{
			Chain:     i,
			Text:      word,
			Phones:    p,
			Span:      extent.Extent{Start: pos, End: pos + n},
			Canonical: canon,
			Source:    chain.Source,
		})
		phones.WriteString(p)
		pos += n
		words = append(words, word)
	}
	res.Text = strings.Join(words, " ")
	res.Phones = phones.String()

	log.Debug("dictionary: built",
		"tokens", len(chains),
		"words", len(res.Words),
		"entries", len(res.Entries),
	)
	return res, nil
}

// ErrEmptyPronunciation is returned by [Pronounce] when a token composes to no
// phones at all.
var ErrEmptyPronunciation = errors.New("empty pronunciation")

// Pronounce composes the full token extent of chain forward and returns the
// canonical phone string for the token together with its extent on the
// chain's canonical text.
//
// Alignment pairs are sparse, so the composed span may stop short of trailing
// output code points that no pair targets (e.g. the final phone of "K AE T"
// when only the separator before it is paired). The span is widened over such
// unpaired code points and then out to whole space-delimited phone symbols.
func Pronounce(chain g2p.ConversionChain) (string, extent.Extent, error) {
	ext, err := extent.ComposeForward(chain, extent.Full(chain.TokenText))
	if err != nil {
		return "", extent.Extent{}, err
	}
	canonical := []rune(chain.Canonical())
	ext = widen(ext, canonical, chain.Edges[len(chain.Edges)-1].Alignments)

	for ext.Start < ext.End && unicode.IsSpace(canonical[ext.Start]) {
		ext.Start++
	}
	for ext.End > ext.Start && unicode.IsSpace(canonical[ext.End-1]) {
		ext.End--
	}
	if ext.IsEmpty() {
		return "", extent.Extent{}, ErrEmptyPronunciation
	}
	return string(canonical[ext.Start:ext.End]), ext, nil
}

func widen(ext extent.Extent, canonical []rune, pairs []g2p.AlignmentPair) extent.Extent {
	n := len(canonical)
	ext.Start = min(max(ext.Start, 0), n)
	ext.End = min(max(ext.End, ext.Start), n)

	paired := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		paired[p.Out] = true
	}
	for ext.End < n && !paired[ext.End] {
		ext.End++
	}
	for ext.Start > 0 && !unicode.IsSpace(canonical[ext.Start-1]) {
		ext.Start--
	}
	for ext.End < n && !unicode.IsSpace(canonical[ext.End]) {
		ext.End++
	}
	return ext
}
