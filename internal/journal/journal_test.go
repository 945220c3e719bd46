package journal_test

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"skein/internal/feed"
	"skein/internal/journal"
	"skein/internal/logging"
	"skein/internal/testsupport"
)

const feedURL = "http://feed.example/rss"

func TestRecordAndList(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []journal.Change{
		{FeedURL: feedURL, StoryID: "a", Title: "First", Added: []string{"read"}, RecordedAt: base},
		{FeedURL: feedURL, StoryID: "b", Removed: []string{"new"}, RecordedAt: base.Add(time.Minute)},
		{FeedURL: "http://other", StoryID: "a", Added: []string{"marked"}, RecordedAt: base.Add(2 * time.Minute)},
	}
	for _, change := range entries {
		if _, err := store.Record(ctx, change); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := store.List(ctx, journal.Query{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].FeedURL != "http://other" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	mine, err := store.List(ctx, journal.Query{FeedURL: feedURL})
	if err != nil {
		t.Fatalf("List by feed failed: %v", err)
	}
	if len(mine) != 2 || mine[0].StoryID != "b" || mine[1].StoryID != "a" {
		t.Fatalf("unexpected feed history: %+v", mine)
	}
	if mine[1].Title != "First" || !slices.Equal(mine[1].Added, []string{"read"}) || len(mine[1].Removed) != 0 {
		t.Fatalf("unexpected decoded change: %+v", mine[1])
	}
	if !mine[0].RecordedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("recorded_at = %v", mine[0].RecordedAt)
	}

	limited, err := store.List(ctx, journal.Query{Limit: 1, Since: base.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].StoryID != "a" || limited[0].FeedURL != "http://other" {
		t.Fatalf("unexpected limited history: %+v", limited)
	}
}

func TestRecordRequiresIdentity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	if _, err := store.Record(context.Background(), journal.Change{FeedURL: feedURL}); err == nil {
		t.Fatal("expected error for change without story id")
	}
}

func TestPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if _, err := store.Record(ctx, journal.Change{FeedURL: feedURL, StoryID: "old", RecordedAt: old}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := store.Record(ctx, journal.Change{FeedURL: feedURL, StoryID: "fresh"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	left, err := store.List(ctx, journal.Query{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(left) != 1 || left[0].StoryID != "fresh" {
		t.Fatalf("unexpected survivors: %+v", left)
	}
}

func TestOpenDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := journal.Open(cfg); !errors.Is(err, journal.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Journal.Enabled = true
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.Paths.JournalPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := journal.Open(cfg); !errors.Is(err, journal.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestHookRecordsCommitDeltas(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFeed(feedURL, "Base"))
	store := testsupport.MustOpenJournal(t, cfg)
	ctx := logging.WithSession(context.Background(), "session-1")

	f := feed.New(cfg.Feeds[0], feed.WithChangeHook(store.Hook(ctx, nil)))
	testsupport.WriteSnapshot(t, f.Path, "Title", testsupport.Entry("a", "Base", "new"))
	if !f.Update() {
		t.Fatal("Update failed")
	}
	f.Items[0].Read()
	f.Items[0].MarkOld()
	if !f.Commit(nil) {
		t.Fatal("Commit failed")
	}

	changes, err := store.List(ctx, journal.Query{FeedURL: feedURL, StoryID: "a"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected one recorded change, got %+v", changes)
	}
	got := changes[0]
	if !slices.Equal(got.Added, []string{"read"}) || !slices.Equal(got.Removed, []string{"new"}) {
		t.Fatalf("delta = +%v -%v", got.Added, got.Removed)
	}
	if got.SessionID != "session-1" {
		t.Fatalf("session = %q", got.SessionID)
	}
}
