package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	FeedDir     string `toml:"feed_dir"`
	LogDir      string `toml:"log_dir"`
	JournalPath string `toml:"journal_path"`
}

// Worker controls how the background worker is launched and polled.
type Worker struct {
	// Mode is "exec" (re-executed child process) or "inprocess" (goroutine).
	Mode             string `toml:"mode"`
	PollIntervalMS   int    `toml:"poll_interval_ms"`
	ReceiveTimeoutMS int    `toml:"receive_timeout_ms"`
	// Persistent keeps the worker alive when no feed is queued.
	Persistent   bool `toml:"persistent"`
	SyncAttempts int  `toml:"sync_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Defaults apply to feeds that leave rate or keep unset.
type Defaults struct {
	Rate int `toml:"rate"`
	Keep int `toml:"keep"`
}

// Journal controls the state-change journal.
type Journal struct {
	Enabled bool `toml:"enabled"`
}

// Feed describes one subscription. An empty first tag asks for the base tag
// to be inferred from the snapshot title.
type Feed struct {
	URL        string   `toml:"url"`
	Tags       []string `toml:"tags"`
	Rate       int      `toml:"rate"`
	Keep       int      `toml:"keep"`
	HardFilter string   `toml:"hard_filter"`
	Path       string   `toml:"path"`
}

// Filter is a user-defined predicate. All non-empty clauses must hold.
type Filter struct {
	Name string `toml:"name"`
	// Field is "title", "link", or a precached field name. Keyword filters
	// without one match the title.
	Field    string   `toml:"field"`
	Includes []string `toml:"includes"`
	Excludes []string `toml:"excludes"`
	Require  []string `toml:"require"`
	Forbid   []string `toml:"forbid"`
}

// Sort is a user-defined ordering.
type Sort struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Field   string `toml:"field"`
	Reverse bool   `toml:"reverse"`
}

// Tag configures the filter and sort cycles of one tag view. Names refer to
// built-in or configured filters and sorts; "none" selects nothing.
type Tag struct {
	Name    string   `toml:"name"`
	Filters []string `toml:"filters"`
	Sorts   []string `toml:"sorts"`
}

// Config encapsulates all configuration values for skein.
//
// Configuration sections by subsystem:
//   - Paths: snapshot directory, logs, and the journal database
//   - Worker: launch mode, poll cadence, and persistence
//   - Logging: log format, level, and retention
//   - Defaults: rate and keep applied to feeds that omit them
//   - Journal: state-change journal toggle
//   - Feeds, Filters, Sorts, Tags: subscriptions and their views
type Config struct {
	Paths         Paths    `toml:"paths"`
	Worker        Worker   `toml:"worker"`
	Logging       Logging  `toml:"logging"`
	Defaults      Defaults `toml:"defaults"`
	Journal       Journal  `toml:"journal"`
	Precache      []string `toml:"precache"`
	GlobalFilters []string `toml:"global_filters"`
	Feeds         []Feed   `toml:"feeds"`
	Filters       []Filter `toml:"filters"`
	Sorts         []Sort   `toml:"sorts"`
	Tags          []Tag    `toml:"tags"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/skein/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("skein.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the snapshot and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.FeedDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Journal.Enabled && c.Paths.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.Paths.JournalPath), 0o755); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
	}
	return nil
}

// PollInterval is how long one worker receive waits before checking for
// cancellation or a vanished parent.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMS) * time.Millisecond
}

// ReceiveTimeout bounds a non-blocking interface-side receive.
func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.Worker.ReceiveTimeoutMS) * time.Millisecond
}

// FeedByURL returns the configured feed with the given URL.
func (c *Config) FeedByURL(feedURL string) (Feed, bool) {
	for _, f := range c.Feeds {
		if f.URL == feedURL {
			return f, true
		}
	}
	return Feed{}, false
}

// SnapshotPath returns where the fetcher writes the snapshot for feedURL.
func (c *Config) SnapshotPath(feedURL string) string {
	return filepath.Join(c.Paths.FeedDir, url.QueryEscape(feedURL))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
