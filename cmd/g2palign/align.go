package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/g2palign/internal/aligner"
	"github.com/MrWong99/g2palign/internal/app"
	"github.com/MrWong99/g2palign/internal/config"
	"github.com/MrWong99/g2palign/pkg/audio"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Align a WAV recording with its transcript",
	Long: `Align a WAV recording with its transcript and print the segment tree as
JSON. Word segments carry the transcript's words; their children carry the
target representation (the IPA anchor unless --target selects another edge).`,
	Args: cobra.NoArgs,
	RunE: runAlign,
}

var (
	alignConfig   string
	alignAudio    string
	alignText     string
	alignTextFile string
	alignLang     string
	alignTarget   int
	alignOutput   string
	alignG2PURL   string
	alignDecURL   string
)

func init() {
	alignCmd.Flags().StringVarP(&alignConfig, "config", "c", "", "YAML config file (default: built-in defaults)")
	alignCmd.Flags().StringVarP(&alignAudio, "audio", "a", "", "WAV recording to align (required)")
	alignCmd.Flags().StringVarP(&alignText, "text", "t", "", "transcript text")
	alignCmd.Flags().StringVar(&alignTextFile, "text-file", "", "read the transcript from a file")
	alignCmd.Flags().StringVarP(&alignLang, "lang", "l", "", "input language code (default: align.language)")
	alignCmd.Flags().IntVar(&alignTarget, "target", -1, "edge whose output labels the result; -1 selects the IPA anchor")
	alignCmd.Flags().StringVarP(&alignOutput, "output", "o", "", "write JSON here instead of stdout")
	alignCmd.Flags().StringVar(&alignG2PURL, "g2p-url", "", "override g2p.base_url")
	alignCmd.Flags().StringVar(&alignDecURL, "decoder-url", "", "override decoder.url")
	_ = alignCmd.MarkFlagRequired("audio")
	alignCmd.MarkFlagsMutuallyExclusive("text", "text-file")

	rootCmd.AddCommand(alignCmd)
}

func runAlign(cmd *cobra.Command, _ []string) error {
	text, err := transcript()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(alignConfig)
	if err != nil {
		return err
	}
	if alignG2PURL != "" {
		cfg.G2P.BaseURL = alignG2PURL
	}
	if alignDecURL != "" {
		cfg.Decoder.URL = alignDecURL
	}
	if cmd.Flags().Changed("target") && alignTarget >= 0 {
		cfg.Align.Target = &alignTarget
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	clip, err := readClip(alignAudio, cfg.Decoder.SampleRate)
	if err != nil {
		return err
	}
	slog.Debug("audio loaded", "path", alignAudio, "duration", clip.Duration(), "sample_rate", clip.SampleRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	p, err := buildG2P(cfg, reg)
	if err != nil {
		return err
	}
	dec, err := buildDecoder(ctx, cfg, reg)
	if err != nil {
		return err
	}
	al, err := aligner.New(p, dec, app.AlignOptions(cfg.Align)...)
	if err != nil {
		_ = dec.Close()
		return err
	}
	defer al.Close()

	tree, err := al.Align(ctx, aligner.Request{
		Samples:    clip.Samples,
		SampleRate: clip.SampleRate,
		Text:       text,
		Lang:       alignLang,
	})
	if err != nil {
		return fmt.Errorf("align %s: %w", alignAudio, err)
	}

	out := cmd.OutOrStdout()
	if alignOutput != "" {
		f, err := os.Create(alignOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}

func transcript() (string, error) {
	switch {
	case alignText != "":
		return alignText, nil
	case alignTextFile != "":
		b, err := os.ReadFile(alignTextFile)
		if err != nil {
			return "", fmt.Errorf("read transcript: %w", err)
		}
		return string(b), nil
	default:
		return "", errors.New("one of --text or --text-file is required")
	}
}

func readClip(path string, rate int) (*audio.Clip, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open audio: %w", err)
		}
		defer f.Close()
		r = f
	}
	var opts []audio.Option
	if rate > 0 {
		opts = append(opts, audio.WithSampleRate(rate))
	}
	return audio.DecodeWAV(r, opts...)
}
