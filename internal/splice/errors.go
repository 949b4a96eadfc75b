package splice

import (
	"errors"
	"fmt"
)

var (
	// ErrPhoneNotFound is matched by every [*PhoneNotFoundError].
	ErrPhoneNotFound = errors.New("phone not found")

	// ErrMismatch is matched by every [*MismatchError].
	ErrMismatch = errors.New("alignment mismatch")
)

// PhoneNotFoundError reports a decoder phone label that does not occur in the
// canonical phone text at or after the locator cursor.
type PhoneNotFoundError struct {
	// WordIndex is the index of the word segment in the decoder tree.
	WordIndex int

	// Word is the word segment label.
	Word string

	// Phone is the label that could not be located.
	Phone string

	// Cursor is the locator position the search started from.
	Cursor int
}

// Error implements error.
func (e *PhoneNotFoundError) Error() string {
	return fmt.Sprintf("splice: word %d %q: phone %q not found at or after position %d",
		e.WordIndex, e.Word, e.Phone, e.Cursor)
}

// Is makes every PhoneNotFoundError match [ErrPhoneNotFound].
func (e *PhoneNotFoundError) Is(target error) bool {
	return target == ErrPhoneNotFound
}

// MismatchError reports that the decoder segmented the utterance differently
// from the dictionary it was given.
type MismatchError struct {
	// WordIndex is the index of the word segment in the decoder tree, or -1
	// when the decoder produced too few words.
	WordIndex int

	// Expected is the word form (or target form) the dictionary predicts.
	Expected string

	// Found is what the decoder produced.
	Found string

	// Similarity is the Jaro-Winkler similarity of Expected and Found in
	// [0, 1], to tell near misses from wholesale desynchronisation.
	Similarity float64

	// Reason describes the failed check.
	Reason string
}

// Error implements error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("splice: word %d: %s: expected %q, found %q (similarity %.2f)",
		e.WordIndex, e.Reason, e.Expected, e.Found, e.Similarity)
}

// Is makes every MismatchError match [ErrMismatch].
func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}
