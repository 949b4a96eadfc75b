package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/g2palign/pkg/provider/decoder"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
	"github.com/MrWong99/g2palign/pkg/provider/g2p/readalong"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultMaxUploadBytes = 64 << 20
	DefaultG2PName        = "readalong"
	DefaultG2PTimeout     = 30 * time.Second
	DefaultDecoderName    = "remote"
	DefaultDecoderURL     = "ws://localhost:5001/decode"
	DefaultDialTimeout    = 10 * time.Second
	DefaultSampleRate     = 16000
	DefaultLanguage       = "eng"
	DefaultDecodeTimeout  = 2 * time.Minute
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"g2p":     {"readalong"},
	"decoder": {"remote"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}

	g := &cfg.G2P
	if g.Name == "" {
		g.Name = DefaultG2PName
	}
	if g.BaseURL == "" {
		g.BaseURL = readalong.DefaultBaseURL
	}
	if g.Timeout == 0 {
		g.Timeout = DefaultG2PTimeout
	}
	if g.OutputLang == "" {
		g.OutputLang = g2p.DefaultOutputLang
	}

	d := &cfg.Decoder
	if d.Name == "" {
		d.Name = DefaultDecoderName
	}
	if d.URL == "" {
		d.URL = DefaultDecoderURL
	}
	if d.DialTimeout == 0 {
		d.DialTimeout = DefaultDialTimeout
	}
	if d.SampleRate == 0 {
		d.SampleRate = DefaultSampleRate
	}

	a := &cfg.Align
	if a.Language == "" {
		a.Language = DefaultLanguage
	}
	if len(a.Tiers) == 0 {
		a.Tiers = decoder.DefaultTiers()
	}
	if a.DecodeTimeout == 0 {
		a.DecodeTimeout = DefaultDecodeTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// G2P
	validateProviderName("g2p", cfg.G2P.Name)
	if err := validateURL(cfg.G2P.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("g2p.base_url: %w", err))
	}
	for i, u := range cfg.G2P.FallbackURLs {
		if err := validateURL(u, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("g2p.fallback_urls[%d]: %w", i, err))
		}
		if u == cfg.G2P.BaseURL {
			slog.Warn("g2p fallback repeats the primary base_url", "url", u)
		}
	}
	if cfg.G2P.Timeout < 0 {
		errs = append(errs, fmt.Errorf("g2p.timeout %v must not be negative", cfg.G2P.Timeout))
	}
	if cfg.G2P.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("g2p.requests_per_second %g must not be negative", cfg.G2P.RequestsPerSecond))
	}
	if cfg.G2P.Burst < 0 {
		errs = append(errs, fmt.Errorf("g2p.burst %d must not be negative", cfg.G2P.Burst))
	}
	if cb := cfg.G2P.CircuitBreaker; cb.MaxFailures < 0 || cb.ResetTimeout < 0 || cb.HalfOpenMax < 0 {
		errs = append(errs, errors.New("g2p.circuit_breaker values must not be negative"))
	}

	// Decoder
	validateProviderName("decoder", cfg.Decoder.Name)
	if cfg.Decoder.Name == DefaultDecoderName {
		if err := validateURL(cfg.Decoder.URL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("decoder.url: %w", err))
		}
	}
	if cfg.Decoder.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("decoder.sample_rate %d must not be negative", cfg.Decoder.SampleRate))
	}

	// Align
	errs = append(errs, validateAlign(&cfg.Align)...)

	return errors.Join(errs...)
}

func validateAlign(a *AlignConfig) []error {
	var errs []error
	seen := make(map[decoder.Tier]int, len(a.Tiers))
	for i, t := range a.Tiers {
		prefix := fmt.Sprintf("align.tiers[%d]", i)
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[t.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of align.tiers[%d]", prefix, t.Name, prev))
			}
			seen[t.Name] = i
		}
		if t.Beam < 0 || t.PBeam < 0 || t.WBeam < 0 {
			errs = append(errs, fmt.Errorf("%s: beam thresholds must not be negative", prefix))
		}
	}
	if a.DecodeTimeout < 0 {
		errs = append(errs, fmt.Errorf("align.decode_timeout %v must not be negative", a.DecodeTimeout))
	}
	if a.Target != nil && *a.Target < 0 {
		errs = append(errs, fmt.Errorf("align.target %d must not be negative; omit it to select the IPA anchor", *a.Target))
	}
	for i, l := range a.SilenceLabels {
		if l == "" {
			errs = append(errs, fmt.Errorf("align.silence_labels[%d] is empty", i))
		}
	}
	return errs
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("scheme %q is invalid; valid values: %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
