package g2p_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

func chainsFor(texts ...string) []g2p.ConversionChain {
	out := make([]g2p.ConversionChain, len(texts))
	for i, t := range texts {
		out[i] = g2p.ConversionChain{TokenText: t}
	}
	return out
}

func TestLocateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		tokens []string
		want   []g2p.Token
	}{
		{
			name:   "words and number",
			text:   "ab 123",
			tokens: []string{"ab", "123"},
			want:   []g2p.Token{{Text: "ab", Start: 0, End: 2}, {Text: "123", Start: 3, End: 6}},
		},
		{
			name:   "code points not bytes",
			text:   "  été  là",
			tokens: []string{"été", "là"},
			want:   []g2p.Token{{Text: "été", Start: 2, End: 5}, {Text: "là", Start: 7, End: 9}},
		},
		{
			name:   "repeated word advances",
			text:   "cat cat",
			tokens: []string{"cat", "cat"},
			want:   []g2p.Token{{Text: "cat", Start: 0, End: 3}, {Text: "cat", Start: 4, End: 7}},
		},
		{
			name:   "punctuation dropped by the service",
			text:   "oui, non",
			tokens: []string{"oui", "non"},
			want:   []g2p.Token{{Text: "oui", Start: 0, End: 3}, {Text: "non", Start: 5, End: 8}},
		},
		{
			name:   "whitespace token",
			text:   "a b",
			tokens: []string{"a", " ", "b"},
			want:   []g2p.Token{{Text: "a", Start: 0, End: 1}, {Text: " ", Start: 1, End: 1}, {Text: "b", Start: 2, End: 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chains := chainsFor(tt.tokens...)
			if err := g2p.LocateTokens(tt.text, chains); err != nil {
				t.Fatalf("LocateTokens: %v", err)
			}
			for i, w := range tt.want {
				if chains[i].Source != w {
					t.Errorf("token %d Source = %+v, want %+v", i, chains[i].Source, w)
				}
			}
		})
	}
}

func TestLocateTokens_NotFound(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"unknown token": {"ab", "xyz"},
		"reordered":     {"cd", "ab"},
	}
	for name, tokens := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := g2p.LocateTokens("ab cd", chainsFor(tokens...))
			var pe *g2p.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ParseError", err)
			}
			if pe.Token != 1 {
				t.Errorf("ParseError.Token = %d, want 1", pe.Token)
			}
			if !errors.Is(err, g2p.ErrMalformed) {
				t.Error("errors.Is(err, ErrMalformed) = false")
			}
		})
	}
}
