package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"skein/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SKEIN_FEED_DIR", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantFeeds := filepath.Join(tempHome, ".local", "share", "skein", "feeds")
	if cfg.Paths.FeedDir != wantFeeds {
		t.Fatalf("unexpected feed dir: got %q want %q", cfg.Paths.FeedDir, wantFeeds)
	}
	if cfg.Worker.Mode != config.WorkerModeExec {
		t.Fatalf("unexpected worker mode: %q", cfg.Worker.Mode)
	}
	if cfg.PollInterval().Milliseconds() != 100 {
		t.Fatalf("unexpected poll interval: %v", cfg.PollInterval())
	}
	if len(cfg.GlobalFilters) != 1 || cfg.GlobalFilters[0] != "none" {
		t.Fatalf("expected global filters to default to none, got %v", cfg.GlobalFilters)
	}
}

func TestLoadCustomPathAppliesFeedDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "skein.toml")
	t.Setenv("SKEIN_FEED_DIR", "")

	type feed struct {
		URL  string   `toml:"url"`
		Tags []string `toml:"tags,omitempty"`
		Keep int      `toml:"keep,omitempty"`
	}
	type payload struct {
		Paths struct {
			FeedDir string `toml:"feed_dir"`
		} `toml:"paths"`
		Defaults struct {
			Rate int `toml:"rate"`
		} `toml:"defaults"`
		Feeds []feed `toml:"feeds"`
	}
	custom := payload{}
	custom.Paths.FeedDir = filepath.Join(tempDir, "feeds")
	custom.Defaults.Rate = 7
	custom.Feeds = []feed{
		{URL: "http://a.example/rss"},
		{URL: "http://b.example/rss", Tags: []string{"B", "Extra"}, Keep: 3},
	}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if len(cfg.Feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(cfg.Feeds))
	}
	first := cfg.Feeds[0]
	if first.Rate != 7 {
		t.Fatalf("expected default rate 7, got %d", first.Rate)
	}
	if len(first.Tags) != 1 || first.Tags[0] != "" {
		t.Fatalf("expected unresolved base tag, got %v", first.Tags)
	}
	if first.Path != cfg.SnapshotPath(first.URL) {
		t.Fatalf("unexpected snapshot path: %q", first.Path)
	}
	if !strings.HasPrefix(first.Path, custom.Paths.FeedDir) {
		t.Fatalf("expected snapshot under feed dir, got %q", first.Path)
	}
	if cfg.Feeds[1].Keep != 3 {
		t.Fatalf("expected keep override 3, got %d", cfg.Feeds[1].Keep)
	}
}

func TestLoadDefaultsKeywordFilterFieldToTitle(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "skein.toml")
	t.Setenv("SKEIN_FEED_DIR", "")

	body := "[paths]\nfeed_dir = \"" + filepath.Join(tempDir, "feeds") + "\"\n\n" +
		"[[filters]]\nname = \"no_ads\"\nexcludes = [\"sponsored\"]\n\n" +
		"[[filters]]\nname = \"starred\"\nrequire = [\"marked\"]\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(cfg.Filters))
	}
	if got := cfg.Filters[0].Field; got != "title" {
		t.Fatalf("keyword filter field = %q, want title", got)
	}
	if got := cfg.Filters[1].Field; got != "" {
		t.Fatalf("tag-only filter field = %q, want empty", got)
	}
}

func TestEnvOverridesFeedDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SKEIN_FEED_DIR", dir)

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.FeedDir != dir {
		t.Fatalf("expected feed dir from env, got %q", cfg.Paths.FeedDir)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if len(cfg.Feeds) == 0 {
		t.Fatal("expected sample to declare feeds")
	}

	loaded, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
	if loaded.Feeds[1].HardFilter != "no_security" {
		t.Fatalf("unexpected hard filter: %q", loaded.Feeds[1].HardFilter)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Mode = "thread"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown worker mode")
	}

	cfg = config.Default()
	cfg.Worker.PollIntervalMS = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive poll interval")
	}

	cfg = config.Default()
	cfg.Feeds = []config.Feed{{URL: "http://x"}, {URL: "http://x"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate feed url")
	}

	cfg = config.Default()
	cfg.Feeds = []config.Feed{{URL: "http://x", HardFilter: "missing"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown hard filter")
	}

	cfg = config.Default()
	cfg.Sorts = []config.Sort{{Name: "odd", Kind: "random"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown sort kind")
	}

	cfg = config.Default()
	cfg.Filters = []config.Filter{{Name: "unread"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when shadowing a built-in filter")
	}

	cfg = config.Default()
	cfg.Tags = []config.Tag{{Name: "T", Sorts: []string{"nope"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown tag sort")
	}
}
