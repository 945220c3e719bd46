package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"skein/internal/channel"
	"skein/internal/config"
	"skein/internal/feed"
	"skein/internal/filter"
)

// Descriptors a re-executed worker inherits from the interface.
const (
	CommandFD = 3
	ResultFD  = 4
)

// Serve runs an exec-mode worker over the inherited descriptors. Feeds and
// the registry are rebuilt from cfg; the interface's Hello reconciles any
// tags it already resolved. feedOpts apply to every feed, after the
// registry and logger.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, feedOpts ...feed.Option) error {
	cmdFile, err := inherit(CommandFD, "commands")
	if err != nil {
		return err
	}
	resultFile, err := inherit(ResultFD, "results")
	if err != nil {
		cmdFile.Close()
		return err
	}

	reg, err := filter.New(cfg)
	if err != nil {
		cmdFile.Close()
		resultFile.Close()
		return fmt.Errorf("build filter registry: %w", err)
	}
	opts := append([]feed.Option{feed.WithRegistry(reg), feed.WithLogger(logger)}, feedOpts...)
	feeds := feed.FromConfig(cfg, opts...)

	cmds := channel.New(cmdFile, nil, channel.WithLogger(logger), channel.WithName("commands"))
	results := channel.New(nil, resultFile, channel.WithLogger(logger), channel.WithName("results"))
	w := New(cmds, results, feeds, reg,
		WithLogger(logger),
		WithPollInterval(cfg.PollInterval()),
		WithSyncAttempts(cfg.Worker.SyncAttempts),
	)
	return w.Run(ctx)
}

// inherit adopts fd in non-blocking mode so reads can time out.
func inherit(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("worker: descriptor %d (%s) unavailable: %w", fd, name, err)
	}
	return os.NewFile(uintptr(fd), name), nil
}
