package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"skein/internal/view"
	"skein/internal/watcher"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var debounceMS int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh tag views whenever the fetcher rewrites a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			r, err := ctx.openReader(signalCtx)
			if err != nil {
				return err
			}
			defer r.close()
			// Between batches nothing is queued; keep the worker.
			r.handler.SetPersistent(true)

			board := view.New(r.cfg, r.registry, r.feeds, view.WithLogger(r.logger))
			out := cmd.OutOrStdout()
			results, err := r.filterAll(signalCtx, board, false)
			if err != nil {
				return err
			}
			printRound(cmd, results)

			byPath := make(map[string]string, len(r.feeds))
			for _, f := range r.feeds {
				byPath[filepath.Clean(f.Path)] = f.URL
			}
			w, err := watcher.New(r.cfg.Paths.FeedDir,
				watcher.WithDebounce(time.Duration(debounceMS)*time.Millisecond),
				watcher.WithMatch(func(name string) bool {
					_, ok := byPath[filepath.Join(r.cfg.Paths.FeedDir, name)]
					return ok
				}),
				watcher.WithLogger(r.logger),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", w.Dir())

			batches := make(chan []string)
			g, gctx := errgroup.WithContext(signalCtx)
			g.Go(func() error {
				return w.Run(gctx, batches)
			})
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case batch := <-batches:
						urls := make([]string, 0, len(batch))
						for _, path := range batch {
							if url, ok := byPath[filepath.Clean(path)]; ok {
								urls = append(urls, url)
							}
						}
						if len(urls) == 0 {
							continue
						}
						results, err := r.filter(gctx, board, urls, false)
						if err != nil {
							return err
						}
						printRound(cmd, results)
					}
				}
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&debounceMS, "debounce-ms", int(watcher.DefaultDebounce/time.Millisecond), "Quiet period before a change is processed")
	return cmd
}

func printRound(cmd *cobra.Command, results []feedResult) {
	out := cmd.OutOrStdout()
	for _, res := range results {
		if res.Dequeued {
			fmt.Fprintf(out, "%s: unavailable\n", res.URL)
			continue
		}
		fmt.Fprintf(out, "%s: %d stories, +%d -%d", res.URL, res.Stories, res.Applied.Inserted, res.Applied.Evicted)
		if res.Applied.Stale > 0 {
			fmt.Fprintf(out, " (%d stale)", res.Applied.Stale)
		}
		fmt.Fprintln(out)
	}
}
