package splice

import "github.com/MrWong99/g2palign/internal/extent"

// Locator finds decoder phone labels as literal substrings of the canonical
// phone text. Its cursor only moves forward: a label is searched for at or
// after the end of the previous match, never in text already consumed.
type Locator struct {
	text   []rune
	cursor int
}

// NewLocator returns a Locator over text with the cursor at position 0.
func NewLocator(text string) *Locator {
	return &Locator{text: []rune(text)}
}

// Cursor returns the current cursor position in code points.
func (l *Locator) Cursor() int {
	return l.cursor
}

// Find locates label within window, starting at the later of the cursor and
// window.Start. On success the cursor advances to the end of the match.
func (l *Locator) Find(label string, window extent.Extent) (extent.Extent, bool) {
	needle := []rune(label)
	if len(needle) == 0 {
		return extent.Extent{}, false
	}
	from := max(l.cursor, window.Start, 0)
	to := min(window.End, len(l.text))
	for i := from; i+len(needle) <= to; i++ {
		if runesEqual(l.text[i:i+len(needle)], needle) {
			l.cursor = i + len(needle)
			return extent.Extent{Start: i, End: l.cursor}, true
		}
	}
	return extent.Extent{}, false
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
