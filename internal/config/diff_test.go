package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/g2palign/internal/config"
	"github.com/MrWong99/g2palign/pkg/provider/decoder"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is live; got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_Align(t *testing.T) {
	t.Parallel()
	one := 1

	tests := []struct {
		name   string
		mutate func(*config.AlignConfig)
		want   config.AlignDiff
	}{
		{
			name:   "language",
			mutate: func(a *config.AlignConfig) { a.Language = "fra" },
			want:   config.AlignDiff{LanguageChanged: true},
		},
		{
			name:   "tiers",
			mutate: func(a *config.AlignConfig) { a.Tiers = a.Tiers[:1] },
			want:   config.AlignDiff{TiersChanged: true},
		},
		{
			name:   "tier threshold",
			mutate: func(a *config.AlignConfig) { a.Tiers[0].Beam = 1e-50 },
			want:   config.AlignDiff{TiersChanged: true},
		},
		{
			name:   "silence labels",
			mutate: func(a *config.AlignConfig) { a.SilenceLabels = []string{"sp"} },
			want:   config.AlignDiff{SilenceLabelsChanged: true},
		},
		{
			name:   "target set",
			mutate: func(a *config.AlignConfig) { a.Target = &one },
			want:   config.AlignDiff{TargetChanged: true},
		},
		{
			name:   "decode timeout",
			mutate: func(a *config.AlignConfig) { a.DecodeTimeout = 30 * time.Second },
			want:   config.AlignDiff{DecodeTimeoutChanged: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			new.Align.Tiers = slices.Clone(old.Align.Tiers)
			tt.mutate(&new.Align)

			d := config.Diff(old, new)
			if !d.AlignChanged {
				t.Error("expected AlignChanged=true")
			}
			if d.Align != tt.want {
				t.Errorf("Align: got %+v, want %+v", d.Align, tt.want)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("align settings are live; got RestartRequired=%v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_SameTargetValue(t *testing.T) {
	t.Parallel()
	a, b := 2, 2
	old := config.Default()
	new := config.Default()
	old.Align.Target = &a
	new.Align.Target = &b
	if d := config.Diff(old, new); d.AlignChanged {
		t.Errorf("distinct pointers to equal targets should not count as a change: %+v", d.Align)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.G2P.FallbackURLs = []string{"http://replica-b:5000"}
	new.Decoder.Headers = map[string]string{"X-Key": "k"}
	new.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "server.tls", "g2p.fallback_urls", "decoder.headers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.AlignChanged || d.LogLevelChanged {
		t.Errorf("unexpected live changes: %+v", d)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogWarn
	new.Align.Tiers = []decoder.TierSettings{{Name: decoder.TierLoose}}
	new.Decoder.URL = "ws://other:5001/decode"

	d := config.Diff(old, new)
	if !d.LogLevelChanged || !d.Align.TiersChanged {
		t.Errorf("expected log level and tiers changes, got %+v", d)
	}
	if !slices.Contains(d.RestartRequired, "decoder.url") {
		t.Errorf("RestartRequired: got %v, want decoder.url", d.RestartRequired)
	}
}
