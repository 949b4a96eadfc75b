package readalong

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// tokenPayload is one element of the /convert response array.
type tokenPayload struct {
	Text        string              `json:"text"`
	Conversions []conversionPayload `json:"conversions"`
}

// conversionPayload is one conversion step as sent by the service. OutLang is
// a pointer because the service marks untranslatable tokens with null.
type conversionPayload struct {
	InLang              string     `json:"in_lang"`
	OutLang             *string    `json:"out_lang"`
	InputText           string     `json:"input_text"`
	Text                string     `json:"text"`
	Alignments          [][]int    `json:"alignments"`
	SubstringAlignments [][]string `json:"substring_alignments"`
}

// decodeChains turns the raw /convert payload into validated chains in
// source-to-canonical order.
func decodeChains(tokens []tokenPayload, outLang, anchor string) ([]g2p.ConversionChain, error) {
	chains := make([]g2p.ConversionChain, 0, len(tokens))
	for i, tok := range tokens {
		chain, err := decodeChain(tok, outLang, anchor)
		if err != nil {
			return nil, &g2p.ParseError{Token: i, Reason: err.Error()}
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

func decodeChain(tok tokenPayload, outLang, anchor string) (g2p.ConversionChain, error) {
	convs := tok.Conversions
	if len(convs) == 0 || convs[0].OutLang == nil || *convs[0].OutLang == "" {
		return g2p.ConversionChain{TokenText: tok.Text}, nil
	}

	// Composed responses list the canonical conversion first.
	if len(convs) > 1 && *convs[0].OutLang == outLang {
		convs = slices.Clone(convs)
		slices.Reverse(convs)
	}

	edges := make([]g2p.ConversionEdge, 0, len(convs))
	for j, c := range convs {
		if c.OutLang == nil || *c.OutLang == "" {
			return g2p.ConversionChain{}, fmt.Errorf("conversion %d has no output language", j)
		}
		edge := g2p.ConversionEdge{
			OutLang:    *c.OutLang,
			InputText:  c.InputText,
			OutputText: c.Text,
			IsIPA:      *c.OutLang == anchor,
		}

		switch {
		case len(c.Alignments) > 0:
			pairs, err := positionalPairs(c.Alignments)
			if err != nil {
				return g2p.ConversionChain{}, fmt.Errorf("conversion %d: %w", j, err)
			}
			edge.Alignments = pairs
		case len(c.SubstringAlignments) > 0:
			in, out, pairs, err := substringPairs(c.SubstringAlignments)
			if err != nil {
				return g2p.ConversionChain{}, fmt.Errorf("conversion %d: %w", j, err)
			}
			edge.Alignments = pairs
			if edge.InputText == "" {
				edge.InputText = in
			}
			if edge.OutputText == "" {
				edge.OutputText = out
			}
		}

		if edge.InputText == "" {
			switch {
			case j > 0:
				edge.InputText = edges[j-1].OutputText
			case tok.Text != "":
				edge.InputText = tok.Text
			default:
				return g2p.ConversionChain{}, fmt.Errorf("conversion %d has no input text", j)
			}
		}
		edges = append(edges, edge)
	}

	if last := edges[len(edges)-1].OutLang; last != outLang {
		return g2p.ConversionChain{}, fmt.Errorf("chain ends in %q, want %q", last, outLang)
	}
	markAnchorFallback(edges)

	chain := g2p.ConversionChain{TokenText: tok.Text, Edges: edges}
	if chain.TokenText == "" {
		chain.TokenText = edges[0].InputText
	}
	if err := chain.Validate(); err != nil {
		return g2p.ConversionChain{}, err
	}
	return chain, nil
}

// markAnchorFallback flags the single edge whose output language looks like
// IPA when the path anchor matched none.
func markAnchorFallback(edges []g2p.ConversionEdge) {
	for _, e := range edges {
		if e.IsIPA {
			return
		}
	}
	idx := -1
	for i, e := range edges {
		if strings.Contains(e.OutLang, "-ipa") {
			if idx >= 0 {
				return
			}
			idx = i
		}
	}
	if idx >= 0 {
		edges[idx].IsIPA = true
	}
}

func positionalPairs(raw [][]int) ([]g2p.AlignmentPair, error) {
	pairs := make([]g2p.AlignmentPair, 0, len(raw))
	for k, a := range raw {
		if len(a) != 2 {
			return nil, fmt.Errorf("alignment %d has %d elements, want 2", k, len(a))
		}
		pairs = append(pairs, g2p.AlignmentPair{In: a[0], Out: a[1]})
	}
	return pairs, nil
}

// substringPairs expands [[in, out], ...] substring alignments into input and
// output texts and positional pairs. Every code point of an input substring is
// paired with every code point of its output substring.
func substringPairs(raw [][]string) (string, string, []g2p.AlignmentPair, error) {
	var (
		in, out strings.Builder
		pairs   []g2p.AlignmentPair
		ip, op  int
	)
	for k, a := range raw {
		if len(a) != 2 {
			return "", "", nil, fmt.Errorf("substring alignment %d has %d elements, want 2", k, len(a))
		}
		li := utf8.RuneCountInString(a[0])
		lo := utf8.RuneCountInString(a[1])
		for x := 0; x < li; x++ {
			for y := 0; y < lo; y++ {
				pairs = append(pairs, g2p.AlignmentPair{In: ip + x, Out: op + y})
			}
		}
		in.WriteString(a[0])
		out.WriteString(a[1])
		ip += li
		op += lo
	}
	return in.String(), out.String(), pairs, nil
}
