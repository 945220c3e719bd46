package testsupport

import (
	"testing"

	"skein/internal/snapshot"
)

// Entry builds a snapshot entry with a title derived from its id.
func Entry(id string, state ...string) snapshot.Entry {
	return snapshot.Entry{ID: id, Title: "Story " + id, Link: "http://example.invalid/" + id, State: state}
}

// WriteSnapshot writes a snapshot titled title to path.
func WriteSnapshot(t testing.TB, path, title string, entries ...snapshot.Entry) {
	t.Helper()

	snap := snapshot.New(snapshot.Meta{Title: title})
	snap.Entries = entries
	if err := snapshot.Write(path, snap); err != nil {
		t.Fatalf("write snapshot %s: %v", path, err)
	}
}

// ReadSnapshot loads the snapshot at path.
func ReadSnapshot(t testing.TB, path string) *snapshot.Snapshot {
	t.Helper()

	snap, err := snapshot.Read(path, true)
	if err != nil {
		t.Fatalf("read snapshot %s: %v", path, err)
	}
	return snap
}

// StateOf returns the on-disk state of entry id, failing the test if absent.
func StateOf(t testing.TB, path, id string) []string {
	t.Helper()

	entry, ok := ReadSnapshot(t, path).Find(id)
	if !ok {
		t.Fatalf("entry %s missing from %s", id, path)
	}
	return entry.State
}
