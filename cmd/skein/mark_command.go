package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"skein/internal/story"
)

func newMarkCommand(ctx *commandContext) *cobra.Command {
	var (
		read, unread   bool
		marked, unmark bool
		old            bool
		add, remove    []string
	)

	cmd := &cobra.Command{
		Use:   "mark <feed-url> <story-id>",
		Short: "Change a story's state tags and persist them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if read && unread {
				return errors.New("--read and --unread are mutually exclusive")
			}
			if marked && unmark {
				return errors.New("--marked and --unmarked are mutually exclusive")
			}

			r, err := ctx.openReader(cmd.Context())
			if err != nil {
				return err
			}
			defer r.close()

			f, err := r.feed(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if _, err := r.updateAll(cmd.Context()); err != nil {
				return err
			}
			var target *story.Story
			for _, s := range f.Items {
				if s.ID == args[1] {
					target = s
					break
				}
			}
			if target == nil {
				return fmt.Errorf("story %q not found in %s", args[1], f.URL)
			}

			switch {
			case read:
				target.Read()
			case unread:
				target.Unread()
			}
			switch {
			case marked:
				target.Mark()
			case unmark:
				target.Unmark()
			}
			if old {
				target.MarkOld()
			}
			for _, tag := range add {
				target.Set(tag)
			}
			for _, tag := range remove {
				target.Unset(tag)
			}

			out := cmd.OutOrStdout()
			if target.Marker != story.Updated {
				fmt.Fprintf(out, "%s unchanged: %s\n", target.ID, strings.Join(target.State, ", "))
				return nil
			}
			if err := r.handler.Sync(); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			fmt.Fprintf(out, "%s now %s\n", target.ID, strings.Join(target.State, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&read, "read", false, "Mark the story read")
	cmd.Flags().BoolVar(&unread, "unread", false, "Mark the story unread")
	cmd.Flags().BoolVar(&marked, "marked", false, "Flag the story")
	cmd.Flags().BoolVar(&unmark, "unmarked", false, "Clear the story's flag")
	cmd.Flags().BoolVar(&old, "old", false, "Clear the story's new tag")
	cmd.Flags().StringSliceVar(&add, "add", nil, "Add free-form tags")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "Remove free-form tags")
	return cmd
}
