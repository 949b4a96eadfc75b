package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Alignment settings
// and the log level are applied live; every other change is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AlignChanged is true if any align.* value changed.
	AlignChanged bool
	Align        AlignDiff

	// RestartRequired names changed settings that only take effect after a
	// restart (e.g., "g2p.base_url").
	RestartRequired []string
}

// AlignDiff describes which alignment settings changed.
type AlignDiff struct {
	LanguageChanged      bool
	TiersChanged         bool
	SilenceLabelsChanged bool
	TargetChanged        bool
	DecodeTimeoutChanged bool
}

// Changed reports whether any setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.AlignChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.Align = diffAlign(&old.Align, &new.Align)
	d.AlignChanged = d.Align != AlignDiff{}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.metrics_addr", old.Server.MetricsAddr != new.Server.MetricsAddr)
	restart("server.max_upload_bytes", old.Server.MaxUploadBytes != new.Server.MaxUploadBytes)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("g2p.name", old.G2P.Name != new.G2P.Name)
	restart("g2p.base_url", old.G2P.BaseURL != new.G2P.BaseURL)
	restart("g2p.fallback_urls", !slices.Equal(old.G2P.FallbackURLs, new.G2P.FallbackURLs))
	restart("g2p.timeout", old.G2P.Timeout != new.G2P.Timeout)
	restart("g2p.output_lang", old.G2P.OutputLang != new.G2P.OutputLang)
	restart("g2p.requests_per_second", old.G2P.RequestsPerSecond != new.G2P.RequestsPerSecond)
	restart("g2p.burst", old.G2P.Burst != new.G2P.Burst)
	restart("g2p.circuit_breaker", old.G2P.CircuitBreaker != new.G2P.CircuitBreaker)
	restart("decoder.name", old.Decoder.Name != new.Decoder.Name)
	restart("decoder.url", old.Decoder.URL != new.Decoder.URL)
	restart("decoder.headers", !maps.Equal(old.Decoder.Headers, new.Decoder.Headers))
	restart("decoder.dial_timeout", old.Decoder.DialTimeout != new.Decoder.DialTimeout)
	restart("decoder.sample_rate", old.Decoder.SampleRate != new.Decoder.SampleRate)

	return d
}

func diffAlign(old, new *AlignConfig) AlignDiff {
	return AlignDiff{
		LanguageChanged:      old.Language != new.Language,
		TiersChanged:         !slices.Equal(old.Tiers, new.Tiers),
		SilenceLabelsChanged: !slices.Equal(old.SilenceLabels, new.SilenceLabels),
		TargetChanged:        !intPtrEqual(old.Target, new.Target),
		DecodeTimeoutChanged: old.DecodeTimeout != new.DecodeTimeout,
	}
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
