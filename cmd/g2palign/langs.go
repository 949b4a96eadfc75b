package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/g2palign/internal/config"
	"github.com/MrWong99/g2palign/pkg/provider/g2p"
)

var langsCmd = &cobra.Command{
	Use:   "langs [lang]",
	Short: "List supported languages, or show the conversion path of one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLangs,
}

var (
	langsConfig string
	langsG2PURL string
)

func init() {
	langsCmd.Flags().StringVarP(&langsConfig, "config", "c", "", "YAML config file (default: built-in defaults)")
	langsCmd.Flags().StringVar(&langsG2PURL, "g2p-url", "", "override g2p.base_url")
	rootCmd.AddCommand(langsCmd)
}

func runLangs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(langsConfig)
	if err != nil {
		return err
	}
	if langsG2PURL != "" {
		cfg.G2P.BaseURL = langsG2PURL
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	p, err := buildG2P(cfg, reg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		lang := args[0]
		path, err := p.Path(ctx, lang)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "path:       %s\n", strings.Join(path, " -> "))
		fmt.Fprintf(out, "ipa anchor: %s\n", g2p.IPAAnchor(lang, path))
		return nil
	}

	langs, err := p.Langs(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, l := range langs {
		fmt.Fprintf(tw, "%s\t%s\n", l.Code, l.Name)
	}
	return tw.Flush()
}
