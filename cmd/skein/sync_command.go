package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type syncRow struct {
	URL      string `json:"url"`
	Base     string `json:"base"`
	Stories  int    `json:"stories"`
	Unread   int    `json:"unread"`
	Dequeued bool   `json:"dequeued"`
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reload every snapshot, stamp tags, and persist pending state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.openReader(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			results, err := r.updateAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := r.handler.Sync(); err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			rows := make([]syncRow, 0, len(results))
			for _, res := range results {
				row := syncRow{URL: res.URL, Stories: res.Stories, Dequeued: res.Dequeued}
				if f, ok := r.byURL[res.URL]; ok {
					row.Base = f.Base()
					for _, s := range f.Items {
						if !s.IsRead() {
							row.Unread++
						}
					}
				}
				rows = append(rows, row)
			}
			if jsonOutput {
				return writeJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			table := make([][]string, 0, len(rows))
			for _, row := range rows {
				status := "ok"
				if row.Dequeued {
					status = "unavailable"
				}
				table = append(table, []string{row.Base, row.URL, strconv.Itoa(row.Stories), strconv.Itoa(row.Unread), status})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Tag", "Feed", "Stories", "Unread", "Status"},
				table,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				shouldColorize(out),
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
