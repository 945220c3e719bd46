package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skein/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		feedURL    string
		storyID    string
		since      time.Duration
		limit      int
		prune      time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded story state changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg)
			if errors.Is(err, journal.ErrDisabled) {
				return errors.New("the journal is disabled; set [journal] enabled = true")
			}
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if prune > 0 {
				removed, err := store.Prune(cmd.Context(), time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d changes\n", removed)
				return nil
			}

			q := journal.Query{FeedURL: strings.TrimSpace(feedURL), StoryID: strings.TrimSpace(storyID), Limit: limit}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			changes, err := store.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			if jsonOutput {
				if changes == nil {
					changes = []journal.Change{}
				}
				return writeJSON(cmd, changes)
			}
			if len(changes) == 0 {
				fmt.Fprintln(out, "No recorded changes")
				return nil
			}
			rows := make([][]string, 0, len(changes))
			for _, c := range changes {
				rows = append(rows, []string{
					c.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					c.FeedURL,
					c.StoryID,
					strings.Join(c.Added, ", "),
					strings.Join(c.Removed, ", "),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"When", "Feed", "Story", "Added", "Removed"}, rows, nil, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&feedURL, "feed", "", "Only changes for this feed URL")
	cmd.Flags().StringVar(&storyID, "story", "", "Only changes for this story id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only changes newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (default 50)")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete changes older than this instead of listing")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
