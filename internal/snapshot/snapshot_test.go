package snapshot_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"skein/internal/snapshot"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed")
	in := snapshot.New(snapshot.Meta{Title: "Example"})
	in.Entries = []snapshot.Entry{
		{ID: "a", Title: "A", Link: "http://a", State: []string{"Example", "read"}, Fields: map[string]any{"published": nil}},
		{ID: "b", Title: "B", Href: "http://b", State: []string{"Example", "new"}},
	}

	if err := snapshot.Write(path, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := snapshot.Read(path, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.Feed.Title != "Example" || len(out.Entries) != 2 {
		t.Fatalf("unexpected snapshot: %+v", out)
	}
	for i, want := range in.Entries {
		got := out.Entries[i]
		if got.ID != want.ID || !slices.Equal(got.State, want.State) {
			t.Fatalf("entry %d = %+v, want %+v", i, got, want)
		}
	}
	if v, ok := out.Entries[0].Fields["published"]; !ok || v != nil {
		t.Fatalf("expected explicit absence to survive, got %v %v", v, ok)
	}
}

func TestWriteTruncatesPreviousContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed")
	big := snapshot.New(snapshot.Meta{Title: strings.Repeat("x", 4096)})
	if err := snapshot.Write(path, big); err != nil {
		t.Fatalf("Write big: %v", err)
	}
	if err := snapshot.Write(path, snapshot.New(snapshot.Meta{Title: "small"})); err != nil {
		t.Fatalf("Write small: %v", err)
	}
	out, err := snapshot.Read(path, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.Feed.Title != "small" {
		t.Fatalf("title = %q", out.Feed.Title)
	}
}

func TestReadFailures(t *testing.T) {
	dir := t.TempDir()

	if _, err := snapshot.Read(filepath.Join(dir, "missing"), false); !errors.Is(err, snapshot.ErrUnreadable) {
		t.Fatalf("missing file: expected ErrUnreadable, got %v", err)
	}

	corrupt := filepath.Join(dir, "corrupt")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := snapshot.Read(corrupt, false); !errors.Is(err, snapshot.ErrUnreadable) {
		t.Fatalf("corrupt file: expected ErrUnreadable, got %v", err)
	}

	future := filepath.Join(dir, "future")
	if err := os.WriteFile(future, []byte(`{"version":9,"format":"skein.snapshot","entries":[]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := snapshot.Read(future, false); !errors.Is(err, snapshot.ErrUnsupportedVersion) {
		t.Fatalf("future version: expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestLegacyRemap(t *testing.T) {
	data := []byte(`{"version":1,"format":"feedcache.Snapshot",
		"feed":{"title":"Old Feed"},
		"entries":[{"id":"x","title":"X","href":"http://x","canto_state":["Old Feed","read"],"author":"jo"}]}`)
	snap, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if snap.Version != snapshot.Version || snap.Feed.Title != "Old Feed" {
		t.Fatalf("unexpected header: %+v", snap)
	}
	entry := snap.Entries[0]
	if entry.Href != "http://x" || !slices.Equal(entry.State, []string{"Old Feed", "read"}) {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Fields["author"] != "jo" {
		t.Fatalf("expected extra keys as fields, got %v", entry.Fields)
	}
}

func TestLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed")
	if err := snapshot.Write(path, snapshot.New(snapshot.Meta{Title: "t"})); err != nil {
		t.Fatalf("Write: %v", err)
	}

	other := flock.New(path)
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock: %v %v", locked, err)
	}
	defer other.Unlock()

	if err := snapshot.Write(path, snapshot.New(snapshot.Meta{Title: "u"})); !errors.Is(err, snapshot.ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
	if _, err := snapshot.Read(path, false); !errors.Is(err, snapshot.ErrUnreadable) {
		t.Fatalf("expected non-blocking read to fail while locked, got %v", err)
	}
}

const rss = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Sample</title><link>http://s.example</link>
<item><guid>1</guid><title>First</title><link>http://s.example/1</link><pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate></item>
<item><guid>2</guid><title>Second</title><link>http://s.example/2</link></item>
</channel></rss>`

func TestFromFeedKeepsState(t *testing.T) {
	parsed, err := snapshot.Parse(strings.NewReader(rss))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prev := snapshot.New(snapshot.Meta{Title: "Sample"})
	prev.Entries = []snapshot.Entry{
		{ID: "1", State: []string{"Sample", "read"}},
		{ID: "gone", State: []string{"Sample"}},
	}

	snap := snapshot.FromFeed(parsed, prev, 3)
	if snap.Feed.Title != "Sample" {
		t.Fatalf("title = %q", snap.Feed.Title)
	}
	if len(snap.Entries) != 3 {
		t.Fatalf("expected 3 entries (two parsed plus one retained), got %d", len(snap.Entries))
	}
	if !slices.Equal(snap.Entries[0].State, []string{"Sample", "read"}) {
		t.Fatalf("state not carried over: %v", snap.Entries[0].State)
	}
	if !slices.Equal(snap.Entries[1].State, []string{"new"}) {
		t.Fatalf("new entry state = %v", snap.Entries[1].State)
	}
	if snap.Entries[0].Fields["published"] != "2006-01-02T22:04:05Z" {
		t.Fatalf("published = %v", snap.Entries[0].Fields["published"])
	}

	trimmed := snapshot.FromFeed(parsed, prev, 1)
	if len(trimmed.Entries) != 1 || trimmed.Entries[0].ID != "1" {
		t.Fatalf("keep=1 gave %+v", trimmed.Entries)
	}
}
