package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"skein/internal/feed"
	"skein/internal/journal"
	"skein/internal/logging"
	"skein/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve worker commands on inherited descriptors",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := ctx.logger("worker", sessionID)
			if err != nil {
				return err
			}

			// The interface may be interrupted with us in its process group;
			// only a Kill command or losing the parent ends the worker.
			signal.Ignore(syscall.SIGINT)
			runCtx, cancel := signal.NotifyContext(logging.WithSession(cmd.Context(), sessionID), syscall.SIGTERM)
			defer cancel()

			var feedOpts []feed.Option
			if cfg.Journal.Enabled {
				store, err := journal.Open(cfg)
				if err != nil {
					logging.WarnWithContext(logger, "journal unavailable", "journal_open",
						logging.String(logging.FieldErrorHint, "check journal_path or disable the journal"),
						logging.String(logging.FieldImpact, "state changes will not be recorded in history"),
						logging.Error(err),
					)
				} else {
					defer store.Close()
					feedOpts = append(feedOpts, feed.WithChangeHook(store.Hook(runCtx, logger)))
				}
			}

			logger.Debug("worker serving", logging.String(logging.FieldEventType, "worker_serve"))
			if err := worker.Serve(runCtx, cfg, logger, feedOpts...); err != nil && runCtx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session identifier assigned by the interface")
	return cmd
}
