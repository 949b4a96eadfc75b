package readalong

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// ---- test helpers ----

// fraPath is the conversion path served for "fra".
var fraPath = []string{"fra", "fra-ipa", "eng-ipa", "eng-arpabet"}

// composedResponse is a /convert answer listing the canonical conversion
// first, the way the service sends composed conversions.
const composedResponse = `[
  {"text": "ab", "conversions": [
    {"in_lang": "fra-ipa", "out_lang": "eng-arpabet", "input_text": "aβ", "text": "AA B", "alignments": [[0,0],[0,1],[1,3]]},
    {"in_lang": "fra", "out_lang": "fra-ipa", "input_text": "ab", "text": "aβ", "alignments": [[0,0],[1,1]]}
  ]},
  {"text": "123", "conversions": [
    {"in_lang": "fra", "out_lang": null, "input_text": "123", "text": "123", "alignments": []}
  ]}
]`

// newTestServer starts a conversion service under /api/v2 whose /convert
// handler is convert. It returns the provider base URL.
func newTestServer(t *testing.T, convert http.HandlerFunc) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/langs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"code":"fra","name":"Français"},{"code":"git","name":"Gitksan"}]`))
	})
	mux.HandleFunc("GET /api/v2/path/{lang}/{out}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("lang") != "fra" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":[{"msg":"no path from that language"}]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fraPath)
	})
	if convert != nil {
		mux.HandleFunc("POST /api/v2/convert", convert)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v2"
}

func staticConvert(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, baseURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(baseURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", baseURL, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "")
		if p.baseURL != DefaultBaseURL {
			t.Errorf("baseURL = %q, want %q", p.baseURL, DefaultBaseURL)
		}
		if p.OutputLang() != g2p.DefaultOutputLang {
			t.Errorf("OutputLang() = %q, want %q", p.OutputLang(), g2p.DefaultOutputLang)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5000/api/v2/")
		if p.baseURL != "http://localhost:5000/api/v2" {
			t.Errorf("baseURL = %q, want trailing slash stripped", p.baseURL)
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5000/api/v2",
			WithTimeout(5*time.Second),
			WithOutputLang("eng-ipa"),
		)
		if p.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, 5*time.Second)
		}
		if p.OutputLang() != "eng-ipa" {
			t.Errorf("OutputLang() = %q, want eng-ipa", p.OutputLang())
		}
	})

	t.Run("custom http client", func(t *testing.T) {
		hc := &http.Client{}
		p := mustNew(t, "http://localhost:5000/api/v2", WithHTTPClient(hc), WithTimeout(time.Second))
		if p.httpClient != hc {
			t.Error("WithHTTPClient client not used")
		}
	})
}

// ---- Langs / Path ----

func TestLangs(t *testing.T) {
	t.Parallel()
	p := mustNew(t, newTestServer(t, nil))

	langs, err := p.Langs(context.Background())
	if err != nil {
		t.Fatalf("Langs: %v", err)
	}
	want := []g2p.Language{{Code: "fra", Name: "Français"}, {Code: "git", Name: "Gitksan"}}
	if !slices.Equal(langs, want) {
		t.Errorf("Langs = %v, want %v", langs, want)
	}
}

func TestPath(t *testing.T) {
	t.Parallel()
	p := mustNew(t, newTestServer(t, nil))

	path, err := p.Path(context.Background(), "fra")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if !slices.Equal(path, fraPath) {
		t.Errorf("Path = %v, want %v", path, fraPath)
	}
}

func TestPath_ErrorDetail(t *testing.T) {
	t.Parallel()
	p := mustNew(t, newTestServer(t, nil))

	_, err := p.Path(context.Background(), "xyz")
	var se *g2p.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *g2p.ServiceError", err)
	}
	if se.Op != "path" || se.Status != http.StatusNotFound {
		t.Errorf("ServiceError = %+v, want op path status 404", se)
	}
	if se.Detail != "no path from that language" {
		t.Errorf("Detail = %q, want service message", se.Detail)
	}
}

// ---- Convert ----

func TestConvert_Composed(t *testing.T) {
	t.Parallel()

	var got convertRequest
	base := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		staticConvert(composedResponse)(w, r)
	})
	p := mustNew(t, base)

	chains, err := p.Convert(context.Background(), "fra", "ab 123")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	want := convertRequest{InLang: "fra", OutLang: "eng-arpabet", ComposeFrom: "fra-ipa", Text: "ab 123"}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}

	if len(chains) != 2 {
		t.Fatalf("got %d chains, want 2", len(chains))
	}

	c := chains[0]
	if c.TokenText != "ab" || len(c.Edges) != 2 {
		t.Fatalf("chain 0 = %+v, want 2 edges for \"ab\"", c)
	}
	if c.Edges[0].OutLang != "fra-ipa" || c.Edges[1].OutLang != "eng-arpabet" {
		t.Errorf("edge order = %q, %q; want source-to-canonical", c.Edges[0].OutLang, c.Edges[1].OutLang)
	}
	if c.IPAEdge() != 0 {
		t.Errorf("IPAEdge() = %d, want 0", c.IPAEdge())
	}
	if c.Canonical() != "AA B" {
		t.Errorf("Canonical() = %q, want %q", c.Canonical(), "AA B")
	}
	wantPairs := []g2p.AlignmentPair{{In: 0, Out: 0}, {In: 0, Out: 1}, {In: 1, Out: 3}}
	if !slices.Equal(c.Edges[1].Alignments, wantPairs) {
		t.Errorf("edge 1 alignments = %v, want %v", c.Edges[1].Alignments, wantPairs)
	}

	if chains[1].Translatable() {
		t.Errorf("chain 1 = %+v, want untranslatable", chains[1])
	}
	if chains[1].TokenText != "123" {
		t.Errorf("chain 1 token = %q, want 123", chains[1].TokenText)
	}

	wantSources := []g2p.Token{{Text: "ab", Start: 0, End: 2}, {Text: "123", Start: 3, End: 6}}
	for i, w := range wantSources {
		if chains[i].Source != w {
			t.Errorf("chain %d Source = %+v, want %+v", i, chains[i].Source, w)
		}
	}
}

func TestConvert_TokenNotInText(t *testing.T) {
	t.Parallel()

	p := mustNew(t, newTestServer(t, staticConvert(composedResponse)))
	_, err := p.Convert(context.Background(), "fra", "ba 123")
	var pe *g2p.ParseError
	if !errors.As(err, &pe) || pe.Token != 0 {
		t.Fatalf("err = %v, want *g2p.ParseError for token 0", err)
	}
	if !errors.Is(err, g2p.ErrMalformed) {
		t.Error("errors.Is(err, ErrMalformed) = false")
	}
}

func TestConvert_SubstringAlignments(t *testing.T) {
	t.Parallel()

	const body = `[{"text": "ab", "conversions": [
	  {"in_lang": "fra", "out_lang": "fra-ipa", "substring_alignments": [["a","ɑ"],["b","b"]]},
	  {"in_lang": "fra-ipa", "out_lang": "eng-arpabet", "substring_alignments": [["ɑ","AA"],["b","B"]]}
	]}]`
	p := mustNew(t, newTestServer(t, staticConvert(body)))

	chains, err := p.Convert(context.Background(), "fra", "ab")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(chains) != 1 || len(chains[0].Edges) != 2 {
		t.Fatalf("chains = %+v, want one chain with 2 edges", chains)
	}
	e0, e1 := chains[0].Edges[0], chains[0].Edges[1]
	if e0.InputText != "ab" || e0.OutputText != "ɑb" {
		t.Errorf("edge 0 texts = %q -> %q, want ab -> ɑb", e0.InputText, e0.OutputText)
	}
	if e1.InputText != "ɑb" || e1.OutputText != "AAB" {
		t.Errorf("edge 1 texts = %q -> %q, want ɑb -> AAB", e1.InputText, e1.OutputText)
	}
	want := []g2p.AlignmentPair{{In: 0, Out: 0}, {In: 0, Out: 1}, {In: 1, Out: 2}}
	if !slices.Equal(e1.Alignments, want) {
		t.Errorf("edge 1 alignments = %v, want %v", e1.Alignments, want)
	}
}

func TestConvert_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{
			name: "alignment out of range",
			body: `[{"text": "ab", "conversions": [
			  {"out_lang": "fra-ipa", "input_text": "ab", "text": "aβ", "alignments": [[0,0],[5,1]]},
			  {"out_lang": "eng-arpabet", "input_text": "aβ", "text": "AA B", "alignments": [[0,0]]}
			]}]`,
		},
		{
			name: "chain ends in wrong language",
			body: `[{"text": "ab", "conversions": [
			  {"out_lang": "fra-ipa", "input_text": "ab", "text": "aβ", "alignments": [[0,0]]}
			]}]`,
		},
		{
			name: "edges do not link",
			body: `[{"text": "ab", "conversions": [
			  {"out_lang": "fra-ipa", "input_text": "ab", "text": "aβ", "alignments": [[0,0]]},
			  {"out_lang": "eng-arpabet", "input_text": "xy", "text": "AA B", "alignments": [[0,0]]}
			]}]`,
		},
		{
			name: "alignment arity",
			body: `[{"text": "ab", "conversions": [
			  {"out_lang": "fra-ipa", "input_text": "ab", "text": "aβ", "alignments": [[0]]},
			  {"out_lang": "eng-arpabet", "input_text": "aβ", "text": "AA B", "alignments": [[0,0]]}
			]}]`,
		},
		{
			name: "not json",
			body: `<html>oops</html>`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := mustNew(t, newTestServer(t, staticConvert(tc.body)))
			_, err := p.Convert(context.Background(), "fra", "ab")
			if !errors.Is(err, g2p.ErrMalformed) {
				t.Errorf("err = %v, want g2p.ErrMalformed", err)
			}
		})
	}
}

func TestConvert_ServiceError(t *testing.T) {
	t.Parallel()

	base := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"msg":"text is empty"},{"msg":"ignored"}]}`))
	})
	p := mustNew(t, base)

	_, err := p.Convert(context.Background(), "fra", "ab")
	var se *g2p.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *g2p.ServiceError", err)
	}
	if se.Op != "convert" || se.Status != http.StatusUnprocessableEntity || se.Detail != "text is empty" {
		t.Errorf("ServiceError = %+v", se)
	}
}

func TestConvert_UnstructuredErrorBody(t *testing.T) {
	t.Parallel()

	base := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	})
	p := mustNew(t, base)

	_, err := p.Convert(context.Background(), "fra", "ab")
	var se *g2p.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *g2p.ServiceError", err)
	}
	if se.Detail != "" {
		t.Errorf("Detail = %q, want empty for unstructured body", se.Detail)
	}
}

func TestConvert_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p := mustNew(t, base)
	_, err := p.Langs(context.Background())
	var se *g2p.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *g2p.ServiceError", err)
	}
	if se.Status != 0 || se.Err == nil {
		t.Errorf("ServiceError = %+v, want transport failure", se)
	}
}

// ---- Rate limiting ----

func TestRateLimit(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /langs", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := mustNew(t, srv.URL, WithRateLimit(0.001, 1))

	if _, err := p.Langs(context.Background()); err != nil {
		t.Fatalf("first Langs: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Langs(ctx)
	var se *g2p.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("second Langs err = %v, want *g2p.ServiceError", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}
