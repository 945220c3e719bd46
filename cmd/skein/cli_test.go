package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"

	"skein/internal/config"
	"skein/internal/journal"
	"skein/internal/story"
	"skein/internal/testsupport"
)

const (
	techURL  = "http://tech.example/rss"
	titleURL = "http://inferred.example/rss"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	opts = append([]testsupport.ConfigOption{
		testsupport.WithFeed(techURL, "Tech"),
		testsupport.WithFeed(titleURL),
	}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Logging.Level = "error"

	testsupport.WriteSnapshot(t, cfg.Feeds[0].Path, "Tech News",
		testsupport.Entry("t1", "new"),
		testsupport.Entry("t2", "new"),
	)
	testsupport.WriteSnapshot(t, cfg.Feeds[1].Path, "Inferred Title",
		testsupport.Entry("i1"),
	)
	return &cliTestEnv{cfg: cfg, configPath: testsupport.WriteConfig(t, cfg)}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Feeds: 2")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestTagsResolvesInferredBase(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"tags", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	var rows []tagsRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode tags output %q: %v", out, err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 feeds, got %+v", rows)
	}
	if rows[0].Tags[0] != "Tech" || !rows[0].Explicit {
		t.Fatalf("unexpected explicit feed row: %+v", rows[0])
	}
	if rows[1].Tags[0] != "Inferred Title" || rows[1].Explicit {
		t.Fatalf("unexpected inferred feed row: %+v", rows[1])
	}
}

func TestShowRendersTagViews(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"show", "--json", "Tech"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var shown []shownTag
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode show output %q: %v", out, err)
	}
	if len(shown) != 1 || shown[0].Tag != "Tech" {
		t.Fatalf("unexpected tags: %+v", shown)
	}
	var ids []string
	for _, s := range shown[0].Stories {
		ids = append(ids, s.ID)
	}
	if !slices.Equal(ids, []string{"t1", "t2"}) {
		t.Fatalf("Tech stories = %v", ids)
	}
	if shown[0].Filter != "none" || shown[0].Sort != "none" {
		t.Fatalf("unexpected selection names: %+v", shown[0])
	}

	out, _, err = runCLI(t, []string{"show"}, env.configPath)
	if err != nil {
		t.Fatalf("show table: %v", err)
	}
	requireContains(t, out, "== Tech (filter none, sort none) ==")
	requireContains(t, out, "== Inferred Title (filter none, sort none) ==")

	if _, _, err := runCLI(t, []string{"show", "Missing"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestMarkPersistsAndJournals(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithJournal())

	out, _, err := runCLI(t, []string{"mark", techURL, "t1", "--read", "--old"}, env.configPath)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	requireContains(t, out, "t1 now")

	state := testsupport.StateOf(t, env.cfg.Feeds[0].Path, "t1")
	if !slices.Contains(state, story.TagRead) || slices.Contains(state, story.TagNew) {
		t.Fatalf("disk state = %v, want read and not new", state)
	}

	out, _, err = runCLI(t, []string{"history", "--json", "--feed", techURL}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var changes []journal.Change
	if err := json.Unmarshal([]byte(out), &changes); err != nil {
		t.Fatalf("decode history %q: %v", out, err)
	}
	if len(changes) == 0 {
		t.Fatal("expected the mark to be journaled")
	}
	last := changes[0]
	if last.StoryID != "t1" || !slices.Contains(last.Added, story.TagRead) || !slices.Contains(last.Removed, story.TagNew) {
		t.Fatalf("unexpected journal entry: %+v", last)
	}

	out, _, err = runCLI(t, []string{"mark", techURL, "t1", "--read"}, env.configPath)
	if err != nil {
		t.Fatalf("repeat mark: %v", err)
	}
	requireContains(t, out, "unchanged")
}

func TestMarkUnknownStoryFails(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"mark", techURL, "nope", "--read"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown story")
	}
	if _, _, err := runCLI(t, []string{"mark", techURL, "t1", "--read", "--unread"}, env.configPath); err == nil {
		t.Fatal("expected error for conflicting flags")
	}
}

func TestHistoryRequiresJournal(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"history"}, env.configPath); err == nil {
		t.Fatal("expected error with journal disabled")
	}
}

func TestSyncReportsEveryFeed(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"sync", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	var rows []syncRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode sync output %q: %v", out, err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", rows)
	}
	if rows[0].Stories != 2 || rows[0].Unread != 2 || rows[0].Dequeued {
		t.Fatalf("unexpected Tech row: %+v", rows[0])
	}
	if rows[1].Base != "Inferred Title" {
		t.Fatalf("unexpected inferred row: %+v", rows[1])
	}

	// Stamping the resolved base tag is written back on update.
	state := testsupport.StateOf(t, env.cfg.Feeds[1].Path, "i1")
	if len(state) == 0 || state[0] != "Inferred Title" {
		t.Fatalf("disk state = %v, want base tag first", state)
	}
}

func TestImportWritesSnapshot(t *testing.T) {
	env := setupCLITestEnv(t)
	doc := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Imported</title><link>http://tech.example/</link>
<item><guid>t1</guid><title>Existing</title><link>http://tech.example/1</link></item>
<item><guid>t3</guid><title>Fresh</title><link>http://tech.example/3</link></item>
</channel></rss>`
	source := filepath.Join(t.TempDir(), "feed.xml")
	if err := os.WriteFile(source, []byte(doc), 0o644); err != nil {
		t.Fatalf("write feed document: %v", err)
	}

	out, _, err := runCLI(t, []string{"import", techURL, source}, env.configPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	requireContains(t, out, "Imported 3 entries")

	snap := testsupport.ReadSnapshot(t, env.cfg.Feeds[0].Path)
	if snap.Feed.Title != "Imported" {
		t.Fatalf("title = %q", snap.Feed.Title)
	}
	if got := testsupport.StateOf(t, env.cfg.Feeds[0].Path, "t3"); !slices.Equal(got, []string{"new"}) {
		t.Fatalf("fresh entry state = %v", got)
	}

	if _, _, err := runCLI(t, []string{"import", "http://unknown", source}, env.configPath); err == nil {
		t.Fatal("expected error for unconfigured feed")
	}
}

func TestFetchConfListsResolvedTags(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"fetchconf"}, env.configPath)
	if err != nil {
		t.Fatalf("fetchconf: %v", err)
	}
	var conf fetchConfig
	if err := toml.Unmarshal([]byte(out), &conf); err != nil {
		t.Fatalf("decode fetchconf %q: %v", out, err)
	}
	if len(conf.Feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %+v", conf.Feeds)
	}
	if conf.Feeds[1].Tag != "Inferred Title" || conf.Feeds[1].URL != titleURL {
		t.Fatalf("unexpected inferred entry: %+v", conf.Feeds[1])
	}
	if conf.Feeds[0].Rate != env.cfg.Defaults.Rate {
		t.Fatalf("rate = %d, want %d", conf.Feeds[0].Rate, env.cfg.Defaults.Rate)
	}

	target := filepath.Join(t.TempDir(), "fetch", "feeds.toml")
	out, _, err = runCLI(t, []string{"fetchconf", "-o", target}, env.configPath)
	if err != nil {
		t.Fatalf("fetchconf to file: %v", err)
	}
	requireContains(t, out, "Wrote fetcher config for 2 feeds")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}
