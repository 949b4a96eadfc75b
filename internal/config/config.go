// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the g2palign service.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/g2palign/pkg/provider/decoder"
)

// LogLevel controls log verbosity for the g2palign server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for g2palign.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	G2P     G2PConfig     `yaml:"g2p"`
	Decoder DecoderConfig `yaml:"decoder"`
	Align   AlignConfig   `yaml:"align"`
}

// ServerConfig holds network and logging settings for the HTTP API.
type ServerConfig struct {
	// ListenAddr is the TCP address the API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr, if set, serves /metrics on a separate listener. When
	// empty, /metrics is served on ListenAddr.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadBytes bounds the size of an alignment request body.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// TLS configures TLS for the API. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// G2PConfig selects and tunes the conversion service client.
type G2PConfig struct {
	// Name selects a provider registered in the [Registry]. Default: readalong.
	Name string `yaml:"name"`

	// BaseURL is the API root of the primary conversion service.
	BaseURL string `yaml:"base_url"`

	// FallbackURLs lists replicas tried in order when the primary fails.
	FallbackURLs []string `yaml:"fallback_urls"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout"`

	// OutputLang is the canonical phone representation. Default: eng-arpabet.
	OutputLang string `yaml:"output_lang"`

	// RequestsPerSecond paces requests per replica. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the limiter bucket size.
	Burst int `yaml:"burst"`

	// CircuitBreaker tunes the per-replica breaker.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the breaker's tuning knobs.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// DecoderConfig selects and tunes the forced-alignment decoder.
type DecoderConfig struct {
	// Name selects a decoder registered in the [Registry]. Default: remote.
	Name string `yaml:"name"`

	// URL is the WebSocket endpoint of the decoder sidecar.
	URL string `yaml:"url"`

	// Headers are sent with the WebSocket handshake.
	Headers map[string]string `yaml:"headers"`

	// DialTimeout bounds connection setup.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// SampleRate is the rate audio is resampled to before decoding.
	SampleRate int `yaml:"sample_rate"`
}

// AlignConfig holds alignment pipeline settings. All fields can be changed
// without restarting.
type AlignConfig struct {
	// Language is the default input language code.
	Language string `yaml:"language"`

	// Tiers are the search tiers in escalation order.
	Tiers []decoder.TierSettings `yaml:"tiers"`

	// SilenceLabels replaces the default structural word labels.
	SilenceLabels []string `yaml:"silence_labels"`

	// Target selects the edge whose output labels the result. Nil selects
	// each chain's IPA anchor.
	Target *int `yaml:"target"`

	// DecodeTimeout bounds one decoder exchange (configure through run). It
	// applies even when the request that started the run is abandoned.
	DecodeTimeout time.Duration `yaml:"decode_timeout"`
}
