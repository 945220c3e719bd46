package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"skein/internal/config"
)

type fetchFeed struct {
	URL  string `toml:"url"`
	Tag  string `toml:"tag"`
	Rate int    `toml:"rate"`
	Keep int    `toml:"keep"`
	Path string `toml:"path"`
}

type fetchConfig struct {
	Feeds []fetchFeed `toml:"feeds"`
}

func newFetchConfCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetchconf",
		Short: "Generate the external fetcher's feed list",
		Long: "Resolves every feed's base tag and writes the list the fetcher needs\n" +
			"(URL, tag, refresh rate in minutes, retention, snapshot path) as TOML.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.openReader(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			conf := fetchConfig{Feeds: make([]fetchFeed, 0, len(r.feeds))}
			for _, f := range r.feeds {
				conf.Feeds = append(conf.Feeds, fetchFeed{URL: f.URL, Tag: f.Base(), Rate: f.Rate, Keep: f.Keep, Path: f.Path})
			}
			data, err := toml.Marshal(conf)
			if err != nil {
				return fmt.Errorf("encode fetcher config: %w", err)
			}

			target := strings.TrimSpace(output)
			if target == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			target, err = config.ExpandPath(target)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("write fetcher config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote fetcher config for %d feeds to %s\n", len(conf.Feeds), target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}
