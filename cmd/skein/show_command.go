package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"skein/internal/protocol"
	"skein/internal/view"
)

type shownStory struct {
	Feed  string   `json:"feed"`
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Link  string   `json:"link,omitempty"`
	State []string `json:"state"`
}

type shownTag struct {
	Tag       string             `json:"tag"`
	Selection protocol.Selection `json:"selection"`
	Filter    string             `json:"filter"`
	Sort      string             `json:"sort"`
	Stories   []shownStory       `json:"stories"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOutput bool
		global     int
	)

	cmd := &cobra.Command{
		Use:   "show [tag...]",
		Short: "Show tag views as the interface would display them",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.openReader(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			board := view.New(r.cfg, r.registry, r.feeds, view.WithLogger(r.logger))
			for i := 0; i < global; i++ {
				if !board.NextGlobalFilter() {
					return fmt.Errorf("global filter position %d is past the configured list", global)
				}
			}
			if _, err := r.filterAll(cmd.Context(), board, false); err != nil {
				return err
			}

			tags := args
			if len(tags) == 0 {
				tags = board.Tags()
			}
			shown := make([]shownTag, 0, len(tags))
			for _, name := range tags {
				sel, ok := board.Selection(name)
				if !ok {
					return fmt.Errorf("no tag named %q", name)
				}
				entry := shownTag{
					Tag:       name,
					Selection: sel,
					Filter:    r.registry.FilterName(sel.Filter),
					Sort:      r.registry.SortName(sel.Sort),
				}
				for _, s := range board.Stories(name) {
					entry.Stories = append(entry.Stories, shownStory{Feed: s.Feed, ID: s.ID, Title: s.Title, Link: s.Link, State: s.State})
				}
				shown = append(shown, entry)
			}
			if jsonOutput {
				return writeJSON(cmd, shown)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for i, entry := range shown {
				if i > 0 {
					fmt.Fprintln(out)
				}
				title := fmt.Sprintf("%s (filter %s, sort %s)", entry.Tag, entry.Filter, entry.Sort)
				for _, line := range renderSectionHeader(title, colorize) {
					fmt.Fprintln(out, line)
				}
				stories := board.Stories(entry.Tag)
				if len(stories) == 0 {
					fmt.Fprintln(out, "No stories")
					continue
				}
				rows := make([][]string, 0, len(stories))
				for n, s := range stories {
					rows = append(rows, []string{strconv.Itoa(n + 1), storyTitle(s, colorize), s.ID, strings.Join(s.State, ", ")})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "Title", "ID", "State"}, rows, []columnAlignment{alignRight}, colorize))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&global, "global", 0, "Position in the global filter list to apply")
	return cmd
}
