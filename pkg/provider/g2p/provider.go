// Package g2p defines the Provider interface for grapheme-to-phoneme
// conversion services and the conversion chain data model they return.
//
// A G2P service does not return a single phonetic string for a word. It
// returns a [ConversionChain]: an ordered list of [ConversionEdge] values, each
// converting its input text to an output text (orthography → IPA → canonical
// phones) and carrying a character-offset alignment between the two. Chains are
// validated at the service boundary by [ConversionChain.Validate] so that
// malformed payloads are rejected with a [*ParseError] instead of failing deep
// inside the extent composer.
//
// Implementations must be safe for concurrent use.
package g2p

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultOutputLang is the canonical phone representation understood by the
// decoder.
const DefaultOutputLang = "eng-arpabet"

// ErrMalformed is the sentinel matched by every [*ParseError].
var ErrMalformed = errors.New("malformed conversion payload")

// Language is one supported input language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Provider is the abstraction over any G2P conversion backend.
type Provider interface {
	// Langs lists the supported input languages.
	Langs(ctx context.Context) ([]Language, error)

	// Path returns the ordered list of intermediate language codes on the
	// conversion path from lang to the provider's output language.
	Path(ctx context.Context, lang string) ([]string, error)

	// Convert converts text written in lang and returns one chain per token,
	// in token order, normalised to source-to-canonical edge order.
	// Untranslatable tokens are returned with an empty edge list.
	Convert(ctx context.Context, lang, text string) ([]ConversionChain, error)
}

// IPAAnchor returns the IPA anchor language from a conversion path: the first
// entry containing "-ipa", or lang+"-ipa" when no entry does.
func IPAAnchor(lang string, path []string) string {
	for _, l := range path {
		if strings.Contains(l, "-ipa") {
			return l
		}
	}
	return lang + "-ipa"
}

// ServiceError reports a failed exchange with the conversion service.
type ServiceError struct {
	// Op names the failed operation (e.g., "convert", "langs").
	Op string

	// Status is the HTTP status code, or 0 for transport failures.
	Status int

	// StatusText is the HTTP status line text.
	StatusText string

	// Detail is the first message of a structured {"detail":[{"msg":...}]}
	// body, when present.
	Detail string

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements error.
func (e *ServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "g2p: %s", e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
		if e.StatusText != "" {
			fmt.Fprintf(&b, " %s", e.StatusText)
		}
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying transport error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// ParseError reports a conversion payload that does not form a valid chain.
type ParseError struct {
	// Token is the index of the offending token, or -1 for the whole payload.
	Token int

	// Reason describes the violated invariant.
	Reason string
}

// Error implements error.
func (e *ParseError) Error() string {
	if e.Token < 0 {
		return "g2p: malformed payload: " + e.Reason
	}
	return fmt.Sprintf("g2p: malformed payload: token %d: %s", e.Token, e.Reason)
}

// Is makes every ParseError match [ErrMalformed].
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformed
}
