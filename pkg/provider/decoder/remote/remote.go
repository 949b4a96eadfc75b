// Package remote implements decoder.Decoder over a WebSocket connection to a
// decoder sidecar process.
//
// One connection corresponds to one decoder instance on the sidecar, so a
// [Decoder] is an exclusively owned resource exactly like an in-process
// recogniser. The protocol is strictly request/response: every text frame sent
// by the client is answered by one text frame from the sidecar.
//
// A transport failure (including a context ending mid-exchange, which closes
// the WebSocket) marks the connection broken. The decoder state on the sidecar
// is lost with it, so only Configure and Ping redial; other calls fail with
// [ErrBroken] until then.
//
// Client → sidecar (text frames, JSON):
//
//	{"type":"configure","sample_rate":16000,"beam":1e-100,"pbeam":1e-100,"wbeam":1e-80}
//	{"type":"dictionary","entries":[{"word":"cat","phones":"K AE T"}]}
//	{"type":"text","text":"cat"}
//	{"type":"run","sample_count":48000}   followed by one binary frame of
//	                                       little-endian float32 samples
//	{"type":"ping"}
//
// Sidecar → client:
//
//	{"type":"ok"}
//	{"type":"alignment","alignment":{"t":"<s>","b":0,"d":1.2,"w":[...]}}
//	{"type":"error","message":"..."}
package remote

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/g2palign/pkg/provider/decoder"
	"github.com/MrWong99/g2palign/pkg/types"
)

// Compile-time assertion that Decoder satisfies decoder.Decoder.
var _ decoder.Decoder = (*Decoder)(nil)

// defaultReadLimit bounds a single sidecar response. Alignment trees for long
// recordings are a few megabytes at most.
const defaultReadLimit = 32 << 20

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("remote decoder: closed")

	// ErrBroken is returned when the connection was lost and the call needs
	// decoder state that only a new Configure can establish.
	ErrBroken = errors.New("remote decoder: connection lost; reconfigure to reconnect")
)

// RemoteError is an error reported by the sidecar.
type RemoteError struct {
	Op      string
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote decoder: %s: %s", e.Op, e.Message)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Decoder.
type Option func(*options)

type options struct {
	header    http.Header
	readLimit int64
}

// WithHeader adds HTTP headers to the WebSocket handshake (e.g., auth tokens).
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// WithReadLimit overrides the maximum size of a sidecar response in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// ── Decoder ────────────────────────────────────────────────────────────────────

// Decoder is a decoder.Decoder backed by a sidecar connection. Calls are
// serialised internally; callers should still own the instance exclusively
// because configuration is connection-global.
type Decoder struct {
	url  string
	opts options

	mu     sync.Mutex
	conn   *websocket.Conn
	broken bool
	closed bool
}

// Dial connects to the sidecar at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Decoder, error) {
	o := options{readLimit: defaultReadLimit}
	for _, fn := range opts {
		fn(&o)
	}
	d := &Decoder{url: url, opts: o}
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	d.conn = conn
	return d, nil
}

func (d *Decoder) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPHeader: d.opts.header,
	})
	if err != nil {
		return nil, fmt.Errorf("remote decoder: dial %s: %w", d.url, err)
	}
	conn.SetReadLimit(d.opts.readLimit)
	return conn, nil
}

// reconnectLocked replaces a broken connection. Must be called with d.mu held.
func (d *Decoder) reconnectLocked(ctx context.Context) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	slog.Info("remote decoder: reconnected", "url", d.url)
	d.conn = conn
	d.broken = false
	return nil
}

// breakLocked drops the connection after a transport failure.
func (d *Decoder) breakLocked(op string, err error) {
	if d.broken {
		return
	}
	slog.Warn("remote decoder: connection lost", "url", d.url, "op", op, "err", err)
	d.broken = true
	_ = d.conn.CloseNow()
}

// ── Protocol message types ─────────────────────────────────────────────────────

type configureMessage struct {
	Type       string  `json:"type"`
	SampleRate int     `json:"sample_rate"`
	Beam       float64 `json:"beam"`
	PBeam      float64 `json:"pbeam"`
	WBeam      float64 `json:"wbeam"`
}

type dictionaryMessage struct {
	Type    string                  `json:"type"`
	Entries []types.DictionaryEntry `json:"entries"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type runMessage struct {
	Type        string `json:"type"`
	SampleCount int    `json:"sample_count"`
}

type response struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Alignment *types.Segment `json:"alignment"`
}

// Configure implements decoder.Decoder.
func (d *Decoder) Configure(ctx context.Context, cfg decoder.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := d.exchange(ctx, "configure", configureMessage{
		Type:       "configure",
		SampleRate: cfg.SampleRate,
		Beam:       cfg.Tier.Beam,
		PBeam:      cfg.Tier.PBeam,
		WBeam:      cfg.Tier.WBeam,
	}, nil)
	return err
}

// SetDictionary implements decoder.Decoder.
func (d *Decoder) SetDictionary(ctx context.Context, entries []types.DictionaryEntry) error {
	_, err := d.exchange(ctx, "dictionary", dictionaryMessage{Type: "dictionary", Entries: entries}, nil)
	return err
}

// SetReferenceText implements decoder.Decoder.
func (d *Decoder) SetReferenceText(ctx context.Context, text string) error {
	_, err := d.exchange(ctx, "text", textMessage{Type: "text", Text: text}, nil)
	return err
}

// Run implements decoder.Decoder.
func (d *Decoder) Run(ctx context.Context, samples []float32) (*types.Segment, error) {
	resp, err := d.exchange(ctx, "run", runMessage{Type: "run", SampleCount: len(samples)}, encodeSamples(samples))
	if err != nil {
		return nil, err
	}
	if resp.Type != "alignment" {
		return nil, fmt.Errorf("remote decoder: run: unexpected response type %q", resp.Type)
	}
	if resp.Alignment == nil {
		return &types.Segment{}, nil
	}
	return resp.Alignment, nil
}

// Ping checks that the sidecar answers. A decoder busy with another request is
// reported healthy without waiting for it.
func (d *Decoder) Ping(ctx context.Context) error {
	if !d.mu.TryLock() {
		return nil
	}
	defer d.mu.Unlock()
	_, err := d.exchangeLocked(ctx, "ping", map[string]string{"type": "ping"}, nil)
	return err
}

// Close implements decoder.Decoder.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.broken {
		return nil
	}
	return d.conn.Close(websocket.StatusNormalClosure, "decoder closed")
}

func (d *Decoder) exchange(ctx context.Context, op string, msg any, payload []byte) (*response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchangeLocked(ctx, op, msg, payload)
}

// exchangeLocked sends msg (and an optional binary payload) and reads one
// response. Must be called with d.mu held.
func (d *Decoder) exchangeLocked(ctx context.Context, op string, msg any, payload []byte) (*response, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.broken {
		if op != "configure" && op != "ping" {
			return nil, fmt.Errorf("remote decoder: %s: %w", op, ErrBroken)
		}
		if err := d.reconnectLocked(ctx); err != nil {
			return nil, fmt.Errorf("remote decoder: %s: %w", op, err)
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("remote decoder: %s: marshal: %w", op, err)
	}
	if err := d.conn.Write(ctx, websocket.MessageText, data); err != nil {
		d.breakLocked(op, err)
		return nil, fmt.Errorf("remote decoder: %s: write: %w", op, err)
	}
	if payload != nil {
		if err := d.conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
			d.breakLocked(op, err)
			return nil, fmt.Errorf("remote decoder: %s: write samples: %w", op, err)
		}
	}

	typ, raw, err := d.conn.Read(ctx)
	if err != nil {
		d.breakLocked(op, err)
		return nil, fmt.Errorf("remote decoder: %s: read: %w", op, err)
	}
	if typ != websocket.MessageText {
		d.breakLocked(op, errors.New("binary response"))
		return nil, fmt.Errorf("remote decoder: %s: unexpected binary response", op)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("remote decoder: %s: decode response: %w", op, err)
	}
	if resp.Type == "error" {
		return nil, &RemoteError{Op: op, Message: resp.Message}
	}
	return &resp, nil
}

// encodeSamples packs samples as little-endian float32.
func encodeSamples(samples []float32) []byte {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(s))
	}
	return buf
}

// DecodeSamples unpacks a little-endian float32 payload. It is the inverse of
// the encoding used by Run and is exported for sidecar implementations and
// tests.
func DecodeSamples(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("remote decoder: sample payload length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}
