// Package server exposes the alignment pipeline over HTTP.
//
// Routes:
//
//   - POST /v1/align: multipart form with an "audio" WAV file, the "text"
//     transcript and an optional "lang" code. Responds with the aligned
//     segment tree as JSON.
//   - GET /v1/langs: languages supported by the conversion service.
//   - GET /v1/path/{lang}: conversion path and IPA anchor for lang.
//
// Errors are JSON objects {"error": "...", "request_id": "..."} with a status
// code chosen by [StatusFor].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/g2palign/internal/aligner"
	"github.com/MrWong99/g2palign/internal/health"
	"github.com/MrWong99/g2palign/internal/observe"
	"github.com/MrWong99/g2palign/internal/resilience"
	"github.com/MrWong99/g2palign/pkg/audio"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
	"github.com/MrWong99/g2palign/pkg/types"
)

// DefaultMaxUploadBytes bounds request bodies when no limit is configured.
const DefaultMaxUploadBytes = 64 << 20

// maxMemory is the part of a multipart form kept in memory; the rest spills
// to temporary files.
const maxMemory = 8 << 20

// Aligner is the pipeline the server drives. *aligner.Aligner implements it.
type Aligner interface {
	Align(ctx context.Context, req aligner.Request) (*types.Segment, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithMaxUploadBytes bounds the size of alignment request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithSampleRate resamples uploaded audio to rate before alignment. Zero keeps
// the recording's own rate.
func WithSampleRate(rate int) Option {
	return func(s *Server) { s.sampleRate = rate }
}

// WithHealth serves /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records HTTP metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithExtraRoute mounts h at pattern, outside the instrumented API routes.
// Used for /metrics when it shares the API listener.
func WithExtraRoute(pattern string, h http.Handler) Option {
	return func(s *Server) { s.extra = append(s.extra, route{pattern, h}) }
}

type route struct {
	pattern string
	handler http.Handler
}

// Server holds the HTTP handlers for the alignment API.
type Server struct {
	aligner    Aligner
	g2p        g2p.Provider
	maxUpload  int64
	sampleRate int
	health     *health.Handler
	metrics    *observe.Metrics
	extra      []route
}

// New creates a Server in front of al. p answers the language discovery
// routes.
func New(al Aligner, p g2p.Provider, opts ...Option) *Server {
	s := &Server{
		aligner:   al,
		g2p:       p,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/align", s.handleAlign)
	api.HandleFunc("GET /v1/langs", s.handleLangs)
	api.HandleFunc("GET /v1/path/{lang}", s.handlePath)
	if s.health != nil {
		s.health.Register(api)
	}

	root := http.NewServeMux()
	for _, r := range s.extra {
		root.Handle(r.pattern, r.handler)
	}
	root.Handle("/", observe.Middleware(s.metrics)(api))
	return root
}

func (s *Server) handleAlign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.ContentLength > s.maxUpload {
		writeError(ctx, w, &http.MaxBytesError{Limit: s.maxUpload})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	req, err := s.parseAlign(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	tree, err := s.aligner.Align(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) parseAlign(r *http.Request) (aligner.Request, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return aligner.Request{}, badRequest(err)
	}
	defer r.MultipartForm.RemoveAll()

	text := r.FormValue("text")
	if text == "" {
		return aligner.Request{}, badRequest(errors.New(`missing "text" field`))
	}

	f, _, err := r.FormFile("audio")
	if err != nil {
		return aligner.Request{}, badRequest(errors.New(`missing "audio" file`))
	}
	defer f.Close()

	var opts []audio.Option
	if s.sampleRate > 0 {
		opts = append(opts, audio.WithSampleRate(s.sampleRate))
	}
	clip, err := audio.DecodeWAV(f, opts...)
	if err != nil {
		return aligner.Request{}, badRequest(err)
	}

	return aligner.Request{
		Samples:    clip.Samples,
		SampleRate: clip.SampleRate,
		Text:       text,
		Lang:       r.FormValue("lang"),
	}, nil
}

func (s *Server) handleLangs(w http.ResponseWriter, r *http.Request) {
	langs, err := s.g2p.Langs(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, langs)
}

// pathResponse is the body of GET /v1/path/{lang}.
type pathResponse struct {
	Lang      string   `json:"lang"`
	Path      []string `json:"path"`
	IPAAnchor string   `json:"ipa_anchor"`
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	lang := r.PathValue("lang")
	path, err := s.g2p.Path(r.Context(), lang)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, pathResponse{
		Lang:      lang,
		Path:      path,
		IPAAnchor: g2p.IPAAnchor(lang, path),
	})
}

// requestError marks errors caused by the client's input.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{err: err}
}

// StatusFor maps a pipeline error to an HTTP status code. Malformed conversion
// payloads and splice failures are server faults and map to 500 like any
// unclassified error.
func StatusFor(err error) int {
	var (
		maxBytes *http.MaxBytesError
		reqErr   *requestError
		svcErr   *g2p.ServiceError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr), errors.Is(err, aligner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, aligner.ErrNoAlignment), errors.Is(err, aligner.ErrNoWords):
		return http.StatusUnprocessableEntity
	case errors.As(err, &svcErr):
		return http.StatusBadGateway
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the JSON body of every error response.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	log := observe.Logger(ctx)
	if status >= http.StatusInternalServerError {
		log.Error("server: request failed", "status", status, "err", err)
	} else {
		log.Info("server: request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: observe.RequestID(ctx)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
