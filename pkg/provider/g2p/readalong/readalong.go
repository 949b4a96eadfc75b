// Package readalong provides a G2P provider backed by a ReadAlong-style
// conversion HTTP API (the "g2p" api/v2 endpoints).
//
// Three endpoints are used:
//
//   - GET  /langs: supported input languages.
//   - GET  /path/{lang}/{out_lang}: conversion path from lang to out_lang.
//   - POST /convert: per-token conversion chains.
//
// Conversions are requested with compose_from set to the IPA anchor of the
// path, so the service answers with two edges per token: source → IPA and
// IPA → canonical phones. The service lists them canonical-first; [Provider]
// normalises every chain to source-to-canonical order and validates it before
// returning.
//
// Example usage:
//
//	p, err := readalong.New("http://localhost:5000/api/v2")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chains, err := p.Convert(ctx, "fra", "bonjour le monde")
//
// Requests are paced by a token-bucket limiter (see [WithRateLimit]).
package readalong

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

// DefaultBaseURL is the base URL of a locally running conversion service.
const DefaultBaseURL = "http://localhost:5000/api/v2"

// Ensure Provider implements the g2p.Provider interface at compile time.
var _ g2p.Provider = (*Provider)(nil)

// Provider implements g2p.Provider over HTTP/JSON.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	outLang    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout time.Duration
	outLang string
	rps     float64
	burst   int
	client  *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithOutputLang overrides the canonical output language. Default:
// [g2p.DefaultOutputLang].
func WithOutputLang(lang string) Option {
	return func(c *config) {
		c.outLang = lang
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given
// burst. A non-positive rps disables limiting (the default).
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.rps = rps
		c.burst = burst
	}
}

// WithHTTPClient replaces the HTTP client. WithTimeout is ignored when set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.client = hc
	}
}

// New constructs a new Provider.
//
// baseURL is the API root (e.g., "http://localhost:5000/api/v2"). If empty,
// DefaultBaseURL is used. A trailing slash is stripped automatically.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("readalong: invalid base url %q: %w", baseURL, err)
	}

	cfg := &config{outLang: g2p.DefaultOutputLang}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := cfg.client
	if httpClient == nil {
		httpClient = &http.Client{}
		if cfg.timeout > 0 {
			httpClient.Timeout = cfg.timeout
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.rps > 0 {
		burst := cfg.burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.rps), burst)
	}

	return &Provider{
		baseURL:    baseURL,
		outLang:    cfg.outLang,
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

// OutputLang returns the canonical output language requested from the service.
func (p *Provider) OutputLang() string {
	return p.outLang
}

// Langs implements g2p.Provider.
func (p *Provider) Langs(ctx context.Context) ([]g2p.Language, error) {
	var langs []g2p.Language
	if err := p.do(ctx, "langs", http.MethodGet, "/langs", nil, &langs); err != nil {
		return nil, err
	}
	return langs, nil
}

// Path implements g2p.Provider.
func (p *Provider) Path(ctx context.Context, lang string) ([]string, error) {
	var path []string
	endpoint := "/path/" + url.PathEscape(lang) + "/" + url.PathEscape(p.outLang)
	if err := p.do(ctx, "path", http.MethodGet, endpoint, nil, &path); err != nil {
		return nil, err
	}
	return path, nil
}

// convertRequest is the JSON request body sent to /convert.
type convertRequest struct {
	InLang      string `json:"in_lang"`
	OutLang     string `json:"out_lang"`
	ComposeFrom string `json:"compose_from,omitempty"`
	Text        string `json:"text"`
}

// Convert implements g2p.Provider. It resolves the IPA anchor through
// [Provider.Path], requests composed conversions, and returns validated
// chains in token order.
func (p *Provider) Convert(ctx context.Context, lang, text string) ([]g2p.ConversionChain, error) {
	path, err := p.Path(ctx, lang)
	if err != nil {
		return nil, err
	}
	anchor := g2p.IPAAnchor(lang, path)

	var tokens []tokenPayload
	req := convertRequest{
		InLang:      lang,
		OutLang:     p.outLang,
		ComposeFrom: anchor,
		Text:        text,
	}
	if err := p.do(ctx, "convert", http.MethodPost, "/convert", req, &tokens); err != nil {
		return nil, err
	}
	chains, err := decodeChains(tokens, p.outLang, anchor)
	if err != nil {
		return nil, err
	}
	if err := g2p.LocateTokens(text, chains); err != nil {
		return nil, err
	}
	return chains, nil
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// responses become *g2p.ServiceError.
func (p *Provider) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return &g2p.ServiceError{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("readalong: %s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("readalong: %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &g2p.ServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &g2p.ServiceError{
			Op:         op,
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Detail:     errorDetail(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &g2p.ParseError{Token: -1, Reason: fmt.Sprintf("%s: decode response: %v", op, err)}
	}
	return nil
}

// errorResponse is the structured error body returned by the service.
type errorResponse struct {
	Detail []struct {
		Msg string `json:"msg"`
	} `json:"detail"`
}

// errorDetail extracts the first detail message from an error body. Bodies
// that are not structured yield an empty string.
func errorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var er errorResponse
	if err := json.Unmarshal(data, &er); err != nil || len(er.Detail) == 0 {
		return ""
	}
	return er.Detail[0].Msg
}
