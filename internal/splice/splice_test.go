package splice_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/g2palign/internal/dictionary"
	"github.com/MrWong99/g2palign/internal/extent"
	"github.com/MrWong99/g2palign/internal/splice"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
	"github.com/MrWong99/g2palign/pkg/types"
)

// ── Fixtures ──────────────────────────────────────────────────────────────────

func pairs(raw ...[2]int) []g2p.AlignmentPair {
	out := make([]g2p.AlignmentPair, len(raw))
	for i, r := range raw {
		out[i] = g2p.AlignmentPair{In: r[0], Out: r[1]}
	}
	return out
}

func chain(word, ipa, arpa string, ipaPairs, arpaPairs []g2p.AlignmentPair) g2p.ConversionChain {
	return g2p.ConversionChain{
		TokenText: word,
		Edges: []g2p.ConversionEdge{
			{InputText: word, OutputText: ipa, OutLang: "eng-ipa", IsIPA: true, Alignments: ipaPairs},
			{InputText: ipa, OutputText: arpa, OutLang: "eng-arpabet", Alignments: arpaPairs},
		},
	}
}

var identity3 = pairs([2]int{0, 0}, [2]int{1, 1}, [2]int{2, 2})

// sparseCat maps æ only to the space before AE, leaving most canonical code
// points unpaired.
func sparseCat() g2p.ConversionChain {
	return chain("cat", "kæt", "K AE T", identity3,
		pairs([2]int{0, 0}, [2]int{1, 1}, [2]int{1, 2}, [2]int{2, 4}))
}

// denseCat maps K→k, AE→æ and T→t individually.
func denseCat() g2p.ConversionChain {
	return chain("cat", "kæt", "K AE T", identity3,
		pairs([2]int{0, 0}, [2]int{1, 2}, [2]int{1, 3}, [2]int{2, 5}))
}

func denseDog() g2p.ConversionChain {
	return chain("dog", "dɔg", "D AO G", identity3,
		pairs([2]int{0, 0}, [2]int{1, 2}, [2]int{1, 3}, [2]int{2, 5}))
}

func catWord() types.Segment {
	return types.Segment{
		Label: "cat", Begin: 0.10, Duration: 0.30,
		Children: []types.Segment{
			{Label: "K", Begin: 0.10, Duration: 0.08},
			{Label: "AE", Begin: 0.18, Duration: 0.12},
			{Label: "T", Begin: 0.30, Duration: 0.10},
		},
	}
}

func dogWord(begin float64) types.Segment {
	return types.Segment{
		Label: "dog", Begin: begin, Duration: 0.30,
		Children: []types.Segment{
			{Label: "D", Begin: begin, Duration: 0.10},
			{Label: "AO", Begin: begin + 0.10, Duration: 0.10},
			{Label: "G", Begin: begin + 0.20, Duration: 0.10},
		},
	}
}

func sil(label string, begin, dur float64) types.Segment {
	return types.Segment{Label: label, Begin: begin, Duration: dur}
}

func root(words ...types.Segment) *types.Segment {
	r := &types.Segment{Label: "<sentence>", Children: words}
	if len(words) > 0 {
		r.Begin = words[0].Begin
		last := words[len(words)-1]
		r.Duration = last.End() - r.Begin
	}
	return r
}

func build(t *testing.T, chains ...g2p.ConversionChain) *dictionary.Result {
	t.Helper()
	d, err := dictionary.Build(context.Background(), chains)
	if err != nil {
		t.Fatalf("dictionary.Build: %v", err)
	}
	return d
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

type leaf struct {
	label    string
	begin    float64
	duration float64
}

func assertLeaves(t *testing.T, word types.Segment, want []leaf) {
	t.Helper()
	if len(word.Children) != len(want) {
		t.Fatalf("word %q has %d children %+v, want %d", word.Label, len(word.Children), word.Children, len(want))
	}
	for i, w := range want {
		got := word.Children[i]
		if got.Label != w.label || !near(got.Begin, w.begin) || !near(got.Duration, w.duration) {
			t.Errorf("child %d = {%q b%.3f d%.3f}, want {%q b%.3f d%.3f}",
				i, got.Label, got.Begin, got.Duration, w.label, w.begin, w.duration)
		}
		if !got.IsLeaf() {
			t.Errorf("child %d has children, want leaf", i)
		}
	}
}

// ── Scenarios ─────────────────────────────────────────────────────────────────

func TestSplice_SparseAlignmentMergesWord(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{sparseCat()}
	tree := root(catWord())
	before := len(tree.Children[0].Children)

	got, err := splice.New().Splice(context.Background(), tree, chains, build(t, chains...))
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if got != tree {
		t.Error("Splice did not return the tree it was given")
	}
	assertLeaves(t, got.Children[0], []leaf{{"kæt", 0.10, 0.30}})
	if removed := before - len(got.Children[0].Children); removed != 2 {
		t.Errorf("removed %d children, want 2", removed)
	}
	if err := got.Validate(types.DefaultTolerance); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSplice_DenseAlignmentKeepsPhones(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat()}
	tree := root(catWord())

	got, err := splice.New().Splice(context.Background(), tree, chains, build(t, chains...))
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	assertLeaves(t, got.Children[0], []leaf{
		{"k", 0.10, 0.08},
		{"æ", 0.18, 0.12},
		{"t", 0.30, 0.10},
	})
}

func TestSplice_PartialMerge(t *testing.T) {
	t.Parallel()

	// Both K and S map back onto the "ks" span of "æks".
	c := chain("ax", "æks", "AE K S",
		pairs([2]int{0, 0}, [2]int{1, 1}, [2]int{1, 2}),
		pairs([2]int{0, 0}, [2]int{0, 1}, [2]int{1, 3}, [2]int{2, 3}, [2]int{1, 5}, [2]int{2, 5}))
	chains := []g2p.ConversionChain{c}

	tree := root(types.Segment{
		Label: "ax", Begin: 0, Duration: 0.3,
		Children: []types.Segment{
			{Label: "AE", Begin: 0, Duration: 0.1},
			{Label: "K", Begin: 0.1, Duration: 0.1},
			{Label: "S", Begin: 0.2, Duration: 0.1},
		},
	})
	got, err := splice.New().Splice(context.Background(), tree, chains, build(t, chains...))
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	assertLeaves(t, got.Children[0], []leaf{
		{"æ", 0, 0.1},
		{"ks", 0.1, 0.2},
	})
	if err := got.Validate(types.DefaultTolerance); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSplice_MultipleWordsWithSilence(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat(), {TokenText: "%%"}, denseDog()}
	tree := root(
		sil("<s>", 0, 0.10),
		catWord(),
		sil("<sil>", 0.40, 0.05),
		dogWord(0.45),
		sil("</s>", 0.75, 0.05),
	)

	got, err := splice.New().Splice(context.Background(), tree, chains, build(t, chains...))
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	assertLeaves(t, got.Children[1], []leaf{{"k", 0.10, 0.08}, {"æ", 0.18, 0.12}, {"t", 0.30, 0.10}})
	assertLeaves(t, got.Children[3], []leaf{{"d", 0.45, 0.10}, {"ɔ", 0.55, 0.10}, {"g", 0.65, 0.10}})
	if got.Children[0].Label != "<s>" || got.Children[2].Label != "<sil>" {
		t.Error("silence segments were modified")
	}
	if err := got.Validate(types.DefaultTolerance); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSplice_AlternatePronunciationLabel(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat()}
	w := catWord()
	w.Label = "cat(2)"

	got, err := splice.New().Splice(context.Background(), root(w), chains, build(t, chains...))
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if len(got.Children[0].Children) != 3 {
		t.Errorf("children = %+v", got.Children[0].Children)
	}
}

func TestSplice_CanonicalTarget(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{sparseCat()}
	got, err := splice.New(splice.WithTarget(1)).Splice(context.Background(), root(catWord()), chains, build(t, chains...))
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	assertLeaves(t, got.Children[0], []leaf{{"K", 0.10, 0.08}, {"AE", 0.18, 0.12}, {"T", 0.30, 0.10}})
}

func TestSplice_UnpairedStressMarkNeedsNoCover(t *testing.T) {
	t.Parallel()

	// The stress mark has no pair on the IPA to ARPABET edge.
	c := g2p.ConversionChain{
		TokenText: "cat",
		Edges: []g2p.ConversionEdge{
			{InputText: "cat", OutputText: "ˈkæt", OutLang: "eng-ipa", IsIPA: true,
				Alignments: pairs([2]int{0, 1}, [2]int{1, 2}, [2]int{2, 3})},
			{InputText: "ˈkæt", OutputText: "K AE T", OutLang: "eng-arpabet",
				Alignments: pairs([2]int{1, 0}, [2]int{2, 2}, [2]int{2, 3}, [2]int{3, 5})},
		},
	}
	chains := []g2p.ConversionChain{c}

	got, err := splice.New().Splice(context.Background(), root(catWord()), chains, build(t, chains...))
	if err != nil {
		t.Fatalf("Splice: %v", err)
	}
	assertLeaves(t, got.Children[0], []leaf{{"k", 0.10, 0.08}, {"æ", 0.18, 0.12}, {"t", 0.30, 0.10}})
}

func TestSplice_CustomSilenceLabels(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat()}
	pause := types.Segment{
		Label: "PAUSE", Begin: 0, Duration: 0.10,
		Children: []types.Segment{{Label: "SIL", Begin: 0, Duration: 0.10}},
	}
	tree := root(pause, catWord())

	if _, err := splice.New(splice.WithSilenceLabels("PAUSE")).Splice(context.Background(), tree, chains, build(t, chains...)); err != nil {
		t.Fatalf("Splice: %v", err)
	}
}

// ── Errors ────────────────────────────────────────────────────────────────────

func TestSplice_WordMismatch(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat()}
	w := catWord()
	w.Label = "cut"

	_, err := splice.New().Splice(context.Background(), root(w), chains, build(t, chains...))
	var me *splice.MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MismatchError", err)
	}
	if me.Expected != "cat" || me.Found != "cut" || me.WordIndex != 0 {
		t.Errorf("MismatchError = %+v", me)
	}
	if me.Similarity <= 0 || me.Similarity >= 1 {
		t.Errorf("Similarity = %v, want in (0,1)", me.Similarity)
	}
	if !errors.Is(err, splice.ErrMismatch) {
		t.Error("errors.Is(err, ErrMismatch) = false")
	}
}

func TestSplice_PhonesDoNotCoverWord(t *testing.T) {
	t.Parallel()

	// The decoder skipped AE, so nothing is labelled æ.
	chains := []g2p.ConversionChain{denseCat()}
	w := catWord()
	w.Children = []types.Segment{
		{Label: "K", Begin: 0.10, Duration: 0.15},
		{Label: "T", Begin: 0.25, Duration: 0.15},
	}

	_, err := splice.New().Splice(context.Background(), root(w), chains, build(t, chains...))
	var me *splice.MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MismatchError", err)
	}
	if me.Reason != "target phones do not cover word" {
		t.Errorf("Reason = %q", me.Reason)
	}
	if me.Expected != "kæt" || me.Found != "kt" || me.WordIndex != 0 {
		t.Errorf("MismatchError = %+v", me)
	}
	if !errors.Is(err, splice.ErrMismatch) {
		t.Error("errors.Is(err, ErrMismatch) = false")
	}
}

func TestSplice_ExtraWord(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat()}
	tree := root(catWord(), dogWord(0.40))

	_, err := splice.New().Splice(context.Background(), tree, chains, build(t, chains...))
	var me *splice.MismatchError
	if !errors.As(err, &me) || me.WordIndex != 1 {
		t.Fatalf("err = %v, want *MismatchError for word 1", err)
	}
}

func TestSplice_MissingWord(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat(), denseDog()}
	_, err := splice.New().Splice(context.Background(), root(catWord()), chains, build(t, chains...))
	var me *splice.MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MismatchError", err)
	}
	if me.WordIndex != -1 || me.Expected != "dog" {
		t.Errorf("MismatchError = %+v", me)
	}
}

func TestSplice_PhoneNotFound(t *testing.T) {
	t.Parallel()

	chains := []g2p.ConversionChain{denseCat()}
	w := catWord()
	w.Children[1].Label = "EH"

	_, err := splice.New().Splice(context.Background(), root(w), chains, build(t, chains...))
	var pe *splice.PhoneNotFoundError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PhoneNotFoundError", err)
	}
	if pe.Phone != "EH" || pe.Word != "cat" || pe.Cursor != 1 {
		t.Errorf("PhoneNotFoundError = %+v", pe)
	}
	if !errors.Is(err, splice.ErrPhoneNotFound) {
		t.Error("errors.Is(err, ErrPhoneNotFound) = false")
	}
}

func TestSplice_PhoneOrderViolation(t *testing.T) {
	t.Parallel()

	// The decoder reports T first: T is found at the end of the word, so AE
	// can only be searched for after it and is missing.
	chains := []g2p.ConversionChain{denseCat()}
	w := catWord()
	w.Children[0].Label, w.Children[2].Label = "T", "K"

	_, err := splice.New().Splice(context.Background(), root(w), chains, build(t, chains...))
	if !errors.Is(err, splice.ErrPhoneNotFound) {
		t.Fatalf("err = %v, want ErrPhoneNotFound", err)
	}
}

// ── Locator ───────────────────────────────────────────────────────────────────

func TestLocator_MonotonicCursor(t *testing.T) {
	t.Parallel()

	loc := splice.NewLocator("K AE T K AE T")
	window := extent.Extent{Start: 0, End: 13}
	labels := []string{"K", "AE", "T", "K", "AE", "T"}
	want := []extent.Extent{
		{Start: 0, End: 1}, {Start: 2, End: 4}, {Start: 5, End: 6},
		{Start: 7, End: 8}, {Start: 9, End: 11}, {Start: 12, End: 13},
	}

	prev := loc.Cursor()
	for i, l := range labels {
		got, ok := loc.Find(l, window)
		if !ok {
			t.Fatalf("Find(%q) #%d failed", l, i)
		}
		if got != want[i] {
			t.Errorf("Find(%q) #%d = %v, want %v", l, i, got, want[i])
		}
		if loc.Cursor() < prev {
			t.Fatalf("cursor decreased from %d to %d", prev, loc.Cursor())
		}
		prev = loc.Cursor()
	}
}

func TestLocator_WindowBounds(t *testing.T) {
	t.Parallel()

	loc := splice.NewLocator("K AE T D AO G")
	if _, ok := loc.Find("D", extent.Extent{Start: 0, End: 6}); ok {
		t.Error("found D outside its window")
	}
	if loc.Cursor() != 0 {
		t.Errorf("failed Find moved cursor to %d", loc.Cursor())
	}
	got, ok := loc.Find("D", extent.Extent{Start: 7, End: 13})
	if !ok || got != (extent.Extent{Start: 7, End: 8}) {
		t.Errorf("Find(D) = %v, %v", got, ok)
	}
	if _, ok := loc.Find("K", extent.Extent{Start: 0, End: 13}); ok {
		t.Error("found K behind the cursor")
	}
}

func TestLocator_MultiByte(t *testing.T) {
	t.Parallel()

	loc := splice.NewLocator("ʃ ɛ ʁ ʃ")
	got, ok := loc.Find("ʃ", extent.Extent{Start: 1, End: 7})
	if !ok || got != (extent.Extent{Start: 6, End: 7}) {
		t.Errorf("Find = %v, %v, want [6,7)", got, ok)
	}
}
