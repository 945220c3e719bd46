package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"skein/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Workers run in-process and the journal is disabled unless an option says
// otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.FeedDir = filepath.Join(base, "feeds")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.JournalPath = filepath.Join(base, "journal.db")
	cfgVal.Worker.Mode = config.WorkerModeInProcess
	cfgVal.Worker.PollIntervalMS = 10
	cfgVal.Journal.Enabled = false
	cfgVal.GlobalFilters = []string{"none"}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithFeed subscribes to url. An empty first tag leaves the base tag to be
// inferred from the snapshot.
func WithFeed(url string, tags ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(tags) == 0 {
			tags = []string{""}
		}
		b.cfg.Feeds = append(b.cfg.Feeds, config.Feed{
			URL:  url,
			Tags: tags,
			Rate: b.cfg.Defaults.Rate,
			Keep: b.cfg.Defaults.Keep,
			Path: b.cfg.SnapshotPath(url),
		})
	}
}

// WithFilter registers a configured filter.
func WithFilter(f config.Filter) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Filters = append(b.cfg.Filters, f)
	}
}

// WithSort registers a configured sort.
func WithSort(s config.Sort) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sorts = append(b.cfg.Sorts, s)
	}
}

// WithTag configures a tag view's filter and sort cycles.
func WithTag(name string, filters, sorts []string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tags = append(b.cfg.Tags, config.Tag{Name: name, Filters: filters, Sorts: sorts})
	}
}

// WithJournal enables the state-change journal.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
	}
}

// WithWorkerMode overrides the worker launch mode.
func WithWorkerMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Mode = mode
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.FeedDir)
}

// WriteConfig saves cfg as TOML beside its temp directories and returns the
// file path, for code that loads configuration itself.
func WriteConfig(t testing.TB, cfg *config.Config) string {
	t.Helper()

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "skein.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
