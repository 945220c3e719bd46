package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"skein/internal/config"
	"skein/internal/snapshot"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <feed-url> <file>",
		Short: "Write a snapshot from a local RSS, Atom, or JSON feed file",
		Long: "Parses a feed document saved on disk and merges it into the feed's snapshot,\n" +
			"keeping the state of entries already present. This stands in for the\n" +
			"external fetcher during development; nothing is downloaded.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			url := strings.TrimSpace(args[0])
			fc, ok := cfg.FeedByURL(url)
			if !ok {
				return fmt.Errorf("feed %s is not configured", url)
			}

			path, err := config.ExpandPath(args[1])
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer file.Close()
			parsed, err := snapshot.Parse(file)
			if err != nil {
				return err
			}

			var prev *snapshot.Snapshot
			if _, err := os.Stat(fc.Path); err == nil {
				prev, err = snapshot.Read(fc.Path, true)
				if err != nil {
					return fmt.Errorf("read existing snapshot: %w", err)
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("check existing snapshot: %w", err)
			}
			snap := snapshot.FromFeed(parsed, prev, fc.Keep)
			if err := snapshot.Write(fc.Path, snap); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries into %s\n", len(snap.Entries), fc.Path)
			return nil
		},
	}
}
