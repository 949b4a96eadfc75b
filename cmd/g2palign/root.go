package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	verbose bool
	quiet   bool

	// logLevel is shared by every handler so serve can change it on reload.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "g2palign",
	Short: "Force-align speech with text through grapheme-to-phoneme conversion chains",
	Long: `g2palign converts a transcript to phones with a G2P conversion service,
forced-aligns the phones against a recording with a decoder sidecar, and
relabels the resulting timings in the text's own orthography or IPA.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	logLevel.Set(level)

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
}
