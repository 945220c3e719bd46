// Package snapshot reads and writes the on-disk feed snapshots shared with
// the external fetcher.
//
// A snapshot is a versioned JSON document. Every access is guarded by an
// advisory lock: readers take a shared lock, writers an exclusive one and
// rewrite the file in place. Snapshots written in the legacy version 1
// encoding are remapped on read; any other unknown version fails with
// ErrUnsupportedVersion rather than being guessed at.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/gofrs/flock"
)

const (
	// Version is the encoding written by this package.
	Version = 2
	// Format names the current encoding.
	Format = "skein.snapshot"

	legacyVersion = 1
	legacyFormat  = "feedcache.Snapshot"
)

var (
	// ErrUnreadable reports a missing, corrupt, or lock-denied snapshot.
	ErrUnreadable = errors.New("snapshot unreadable")
	// ErrUnsupportedVersion reports an encoding this package cannot remap.
	ErrUnsupportedVersion = errors.New("snapshot version unsupported")
	// ErrLockContention reports that another writer holds the snapshot.
	ErrLockContention = errors.New("snapshot locked by another writer")
)

// Meta describes the feed as a whole.
type Meta struct {
	Title   string `json:"title"`
	Link    string `json:"link,omitempty"`
	Updated string `json:"updated,omitempty"`
}

// Entry is one story as stored on disk.
type Entry struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Link   string         `json:"link,omitempty"`
	Href   string         `json:"href,omitempty"`
	State  []string       `json:"state"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Snapshot is the decoded document.
type Snapshot struct {
	Version int     `json:"version"`
	Format  string  `json:"format"`
	Feed    Meta    `json:"feed"`
	Entries []Entry `json:"entries"`
}

// New returns an empty current-version snapshot.
func New(meta Meta) *Snapshot {
	return &Snapshot{Version: Version, Format: Format, Feed: meta}
}

// Find returns the entry with id.
func (s *Snapshot) Find(id string) (*Entry, bool) {
	for i := range s.Entries {
		if s.Entries[i].ID == id {
			return &s.Entries[i], true
		}
	}
	return nil, false
}

// Clone deep copies the entry.
func (e Entry) Clone() Entry {
	e.State = slices.Clone(e.State)
	if e.Fields != nil {
		fields := make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = v
		}
		e.Fields = fields
	}
	return e
}

// Read loads the snapshot at path under a shared lock. When block is false
// and another process holds an exclusive lock, Read fails immediately.
func Read(path string, block bool) (*Snapshot, error) {
	lock := flock.New(path, flock.SetFlag(os.O_RDONLY))
	defer lock.Close()

	if block {
		if err := lock.RLock(); err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrUnreadable, path, err)
		}
	} else {
		ok, err := lock.TryRLock()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", ErrUnreadable, path, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s is being written", ErrUnreadable, path)
		}
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return Decode(data)
}

// Write replaces the snapshot at path under a non-blocking exclusive lock.
// It returns ErrLockContention when another process holds any lock on it.
func Write(path string, snap *Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	lock := flock.New(path, flock.SetPermissions(0o644))
	defer lock.Close()

	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock snapshot %s: %w", path, err)
	}
	if !ok {
		return ErrLockContention
	}
	defer lock.Unlock()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync snapshot %s: %w", path, err)
	}
	return file.Close()
}

// Encode serializes snap in the current encoding.
func Encode(snap *Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("encode snapshot: nil snapshot")
	}
	out := *snap
	out.Version = Version
	out.Format = Format
	if out.Entries == nil {
		out.Entries = []Entry{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

type header struct {
	Version int             `json:"version"`
	Format  string          `json:"format"`
	Feed    json.RawMessage `json:"feed"`
	Entries json.RawMessage `json:"entries"`
}

// Decode parses data, remapping the legacy encoding when recognized.
func Decode(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnreadable)
	}
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	switch {
	case h.Version == Version && h.Format == Format:
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		return &snap, nil
	case h.Version == legacyVersion && h.Format == legacyFormat:
		return decodeLegacy(h)
	default:
		return nil, fmt.Errorf("%w: version %d format %q", ErrUnsupportedVersion, h.Version, h.Format)
	}
}
