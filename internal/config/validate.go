package config

import (
	"errors"
	"fmt"
	"strings"
)

// builtinFilters and builtinSorts mirror the names the filter registry
// installs ahead of configured entries.
var (
	builtinFilters = []string{"none", "unread", "read", "marked", "unmarked", "new"}
	builtinSorts   = []string{"none", "alphabetical", "by_date", "by_length"}
	sortKinds      = []string{"alphabetical", "by_date", "by_length", "by_state"}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateFeeds(); err != nil {
		return err
	}
	if err := c.validateFilters(); err != nil {
		return err
	}
	if err := c.validateSorts(); err != nil {
		return err
	}
	return c.validateTags()
}

func (c *Config) validateWorker() error {
	switch c.Worker.Mode {
	case WorkerModeExec, WorkerModeInProcess:
	default:
		return fmt.Errorf("worker.mode: unsupported value %q (want %q or %q)", c.Worker.Mode, WorkerModeExec, WorkerModeInProcess)
	}
	if err := ensurePositiveMap(map[string]int{
		"worker.poll_interval_ms":   c.Worker.PollIntervalMS,
		"worker.receive_timeout_ms": c.Worker.ReceiveTimeoutMS,
		"worker.sync_attempts":      c.Worker.SyncAttempts,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateFeeds() error {
	seen := make(map[string]struct{}, len(c.Feeds))
	for i, feed := range c.Feeds {
		if feed.URL == "" {
			return fmt.Errorf("feeds[%d].url must be set", i)
		}
		if _, dup := seen[feed.URL]; dup {
			return fmt.Errorf("feeds[%d].url %q is listed more than once", i, feed.URL)
		}
		seen[feed.URL] = struct{}{}
		if feed.Rate < 0 || feed.Keep < 0 {
			return fmt.Errorf("feeds[%d]: rate and keep must not be negative", i)
		}
		for j, tag := range feed.Tags {
			if j > 0 && tag == "" {
				return fmt.Errorf("feeds[%d].tags[%d] must not be empty", i, j)
			}
		}
		if feed.HardFilter != "" && !c.hasFilter(feed.HardFilter) {
			return fmt.Errorf("feeds[%d].hard_filter: unknown filter %q", i, feed.HardFilter)
		}
	}
	return nil
}

func (c *Config) validateFilters() error {
	seen := map[string]struct{}{}
	for _, name := range builtinFilters {
		seen[name] = struct{}{}
	}
	for i, f := range c.Filters {
		if f.Name == "" {
			return fmt.Errorf("filters[%d].name must be set", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("filters[%d].name %q is already defined", i, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	for _, name := range c.GlobalFilters {
		if !c.hasFilter(name) {
			return fmt.Errorf("global_filters: unknown filter %q", name)
		}
	}
	return nil
}

func (c *Config) validateSorts() error {
	seen := map[string]struct{}{}
	for _, name := range builtinSorts {
		seen[name] = struct{}{}
	}
	for i, s := range c.Sorts {
		if s.Name == "" {
			return fmt.Errorf("sorts[%d].name must be set", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("sorts[%d].name %q is already defined", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if !contains(sortKinds, s.Kind) {
			return fmt.Errorf("sorts[%d].kind: unsupported value %q", i, s.Kind)
		}
		if s.Kind == "by_state" && strings.TrimSpace(s.Field) == "" {
			return fmt.Errorf("sorts[%d].field must name a state tag for kind by_state", i)
		}
	}
	return nil
}

func (c *Config) validateTags() error {
	for i, tag := range c.Tags {
		if tag.Name == "" {
			return fmt.Errorf("tags[%d].name must be set", i)
		}
		for _, name := range tag.Filters {
			if !c.hasFilter(name) {
				return fmt.Errorf("tags[%d].filters: unknown filter %q", i, name)
			}
		}
		for _, name := range tag.Sorts {
			if !c.hasSort(name) {
				return fmt.Errorf("tags[%d].sorts: unknown sort %q", i, name)
			}
		}
	}
	return nil
}

func (c *Config) hasFilter(name string) bool {
	if contains(builtinFilters, name) {
		return true
	}
	for _, f := range c.Filters {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (c *Config) hasSort(name string) bool {
	if contains(builtinSorts, name) {
		return true
	}
	for _, s := range c.Sorts {
		if s.Name == name {
			return true
		}
	}
	return false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
