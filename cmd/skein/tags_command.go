package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type tagsRow struct {
	URL      string   `json:"url"`
	Tags     []string `json:"tags"`
	Explicit bool     `json:"explicit"`
}

func newTagsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Resolve and list each feed's tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.openReader(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			rows := make([]tagsRow, 0, len(r.feeds))
			for _, f := range r.feeds {
				rows = append(rows, tagsRow{URL: f.URL, Tags: f.Tags, Explicit: f.BaseExplicit()})
			}
			if jsonOutput {
				return writeJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No feeds configured")
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, row := range rows {
				table = append(table, []string{row.URL, row.Tags[0], strings.Join(row.Tags[1:], ", "), yesNo(row.Explicit)})
			}
			fmt.Fprintln(out, renderTable([]string{"Feed", "Base", "Other Tags", "Configured"}, table, nil, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
