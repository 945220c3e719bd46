package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"skein/internal/config"
	"skein/internal/feed"
	"skein/internal/filter"
	"skein/internal/journal"
	"skein/internal/logging"
	"skein/internal/process"
	"skein/internal/worker"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// logger opens the named log file under the log directory and prunes old
// ones.
func (c *commandContext) logger(name, sessionID string) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg, name, sessionID)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	current := filepath.Join(cfg.Paths.LogDir, name+".log")
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "*.log", Exclude: []string{current}},
	)
	return logger, nil
}

// reader is a started worker plus the interface-side state that talks to it.
type reader struct {
	cfg      *config.Config
	registry *filter.Registry
	feeds    []*feed.Feed
	byURL    map[string]*feed.Feed
	handler  *process.Handler
	journal  *journal.Store
	logger   *slog.Logger
}

// openReader starts a worker and resolves base tags before returning.
func (c *commandContext) openReader(ctx context.Context) (*reader, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger("skein", "")
	if err != nil {
		return nil, err
	}
	reg, err := filter.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build filter registry: %w", err)
	}

	r := &reader{cfg: cfg, registry: reg, logger: logger}
	feedOpts := []feed.Option{feed.WithRegistry(reg), feed.WithLogger(logger)}
	inProcess := cfg.Worker.Mode == config.WorkerModeInProcess
	if inProcess && cfg.Journal.Enabled {
		// In-process workers commit with clones of these feeds, so the hook
		// travels with them.
		store, err := journal.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		r.journal = store
		feedOpts = append(feedOpts, feed.WithChangeHook(store.Hook(logging.WithSession(ctx, "inprocess"), logger)))
	}
	r.feeds = feed.FromConfig(cfg, feedOpts...)
	r.byURL = make(map[string]*feed.Feed, len(r.feeds))
	for _, f := range r.feeds {
		r.byURL[f.URL] = f
	}

	var launcher process.Launcher
	if inProcess {
		launcher = process.InProcessLauncher{
			Feeds:    r.feeds,
			Registry: reg,
			Options: []worker.Option{
				worker.WithPollInterval(cfg.PollInterval()),
				worker.WithSyncAttempts(cfg.Worker.SyncAttempts),
			},
			Logger: logger,
		}
	} else {
		exe, err := os.Executable()
		if err != nil {
			r.close()
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		launch := process.ExecLauncher{Executable: exe, Logger: logger}
		if c.configExists {
			launch.ConfigPath = c.configPath
		}
		launcher = launch
	}

	// The worker must outlive the start-up round: base tags are inferred
	// from the snapshots it loads there.
	handler, err := process.New(process.Options{
		Launcher:       launcher,
		Feeds:          r.feeds,
		Registry:       reg,
		Persistent:     true,
		ReceiveTimeout: cfg.ReceiveTimeout(),
		Logger:         logger,
	})
	if err != nil {
		r.close()
		return nil, err
	}
	r.handler = handler
	if err := handler.Start(ctx); err != nil {
		r.close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	if _, err := r.updateAll(ctx); err != nil {
		r.close()
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	if _, err := handler.Tags(); err != nil {
		r.close()
		return nil, fmt.Errorf("resolve tags: %w", err)
	}
	// Views start empty; commands that need full lists reload them.
	for _, f := range r.feeds {
		f.Clear()
	}
	handler.SetPersistent(cfg.Worker.Persistent)
	return r, nil
}

func (r *reader) close() error {
	var errs []error
	if r.handler != nil {
		if err := r.handler.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop worker: %w", err))
		}
	}
	if r.journal != nil {
		errs = append(errs, r.journal.Close())
	}
	return errors.Join(errs...)
}

func (r *reader) feed(url string) (*feed.Feed, error) {
	f, ok := r.byURL[url]
	if !ok {
		return nil, fmt.Errorf("feed %s is not configured", url)
	}
	return f, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
