// Package feed keeps one subscription's stories in memory and reconciles them
// with the on-disk snapshot.
//
// The worker owns one Feed per subscription. Stories arrive from two sides:
// the snapshot written by the fetcher (Load, Extend) and the interface, which
// ships back the stories it holds with any local state changes (Merge).
// Commit writes locally changed state back to disk, adopting disk state for
// stories another instance changed first.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"skein/internal/config"
	"skein/internal/filter"
	"skein/internal/logging"
	"skein/internal/snapshot"
	"skein/internal/story"
)

// ChangeHook is told which state tags a commit added to and removed from a story.
type ChangeHook func(f *Feed, s *story.Story, added, removed []string)

// Feed is one subscription and its in-memory stories.
type Feed struct {
	URL  string
	Tags []string
	Rate int
	Keep int
	Path string
	// HardFilter is a registry filter index applied to every loaded story.
	HardFilter int
	// Queued is set while an update for this feed is in flight.
	Queued bool
	Items  []*story.Story

	baseSet      bool
	baseExplicit bool
	// retired holds inferred base tags this feed was renamed away from.
	retired  []string
	precache []string
	registry *filter.Registry
	hook     ChangeHook
	logger   *slog.Logger
}

// Option configures a Feed.
type Option func(*Feed)

// WithRegistry sets the registry used for the hard filter and precache list.
func WithRegistry(reg *filter.Registry) Option {
	return func(f *Feed) {
		f.registry = reg
		if reg != nil {
			f.precache = reg.Precache()
		}
	}
}

// WithChangeHook installs the state-change hook.
func WithChangeHook(hook ChangeHook) Option {
	return func(f *Feed) { f.hook = hook }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) { f.logger = logger }
}

// New creates a feed from its configuration. An empty first tag leaves the
// base tag to be inferred on the first successful load.
func New(cfg config.Feed, opts ...Option) *Feed {
	tags := slices.Clone(cfg.Tags)
	if len(tags) == 0 {
		tags = []string{""}
	}
	f := &Feed{
		URL:  cfg.URL,
		Tags: tags,
		Rate: cfg.Rate,
		Keep: cfg.Keep,
		Path: cfg.Path,
	}
	f.baseExplicit = tags[0] != ""
	f.baseSet = f.baseExplicit
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.NewNop()
	}
	f.logger = f.logger.With(logging.FeedURL(f.URL))
	if cfg.HardFilter != "" && f.registry != nil {
		if idx, ok := f.registry.FilterIndex(cfg.HardFilter); ok {
			f.HardFilter = idx
		}
	}
	return f
}

// FromConfig creates every configured feed in file order.
func FromConfig(cfg *config.Config, opts ...Option) []*Feed {
	feeds := make([]*Feed, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		feeds = append(feeds, New(fc, opts...))
	}
	return feeds
}

// Base returns the base tag, or "" while unresolved.
func (f *Feed) Base() string { return f.Tags[0] }

// BaseResolved reports whether the base tag is known.
func (f *Feed) BaseResolved() bool { return f.baseSet }

// BaseExplicit reports whether the base tag came from configuration.
func (f *Feed) BaseExplicit() bool { return f.baseExplicit }

// SetTags installs a tag list resolved elsewhere, typically by the worker.
func (f *Feed) SetTags(tags []string, resolved bool) {
	if len(tags) == 0 {
		return
	}
	if f.baseSet && !f.baseExplicit {
		f.retire(f.Tags[0], tags)
	}
	f.Tags = slices.Clone(tags)
	f.baseSet = f.baseSet || resolved
}

// retire records old as a tag the feed's stories must drop, unless it is
// still one of next.
func (f *Feed) retire(old string, next []string) {
	if old == "" || slices.Contains(next, old) || slices.Contains(f.retired, old) {
		return
	}
	f.retired = append(f.retired, old)
}

// Load reads the snapshot. The read blocks on a writer only while the base
// tag is unresolved. The first successful load resolves the base tag from
// the snapshot title, falling back to the URL.
func (f *Feed) Load() (*snapshot.Snapshot, bool) {
	snap, err := snapshot.Read(f.Path, !f.baseSet)
	if err != nil {
		level := slog.LevelDebug
		if errors.Is(err, snapshot.ErrUnsupportedVersion) {
			level = slog.LevelWarn
		}
		f.logger.Log(context.Background(), level, "snapshot load failed",
			logging.String(logging.FieldEventType, "snapshot_unreadable"),
			logging.String("path", f.Path),
			logging.Error(err),
		)
		return nil, false
	}
	if !f.baseSet {
		f.resolveBase(snap.Feed.Title)
	} else if !f.baseExplicit {
		// A worker told its tags by the interface never saw the rename.
		if name := inferredBase(snap.Feed.Title, f.URL); numberedFrom(f.Tags[0], name) {
			f.retire(name, f.Tags)
		}
	}
	return snap, true
}

func inferredBase(title, url string) string {
	if title == "" {
		return url
	}
	return title
}

// numberedFrom reports whether tag is name with a " (N)" suffix.
func numberedFrom(tag, name string) bool {
	rest, ok := strings.CutPrefix(tag, name+" (")
	if !ok {
		return false
	}
	digits, ok := strings.CutSuffix(rest, ")")
	if !ok || digits == "" {
		return false
	}
	_, err := strconv.Atoi(digits)
	return err == nil
}

func (f *Feed) resolveBase(title string) {
	f.baseSet = true
	base := inferredBase(title, f.URL)
	for i, tag := range f.Tags {
		if tag == "" {
			f.Tags[i] = base
		}
	}
	for _, s := range f.Items {
		f.stamp(s)
	}
}

// Update reloads from disk, folds the snapshot into memory, and commits any
// local changes. It returns false when the snapshot cannot be read.
func (f *Feed) Update() bool {
	snap, ok := f.Load()
	if !ok {
		return false
	}
	f.Extend(snap.Entries)
	f.Commit(snap)
	return true
}

// Extend replaces the in-memory list with stories built from entries.
func (f *Feed) Extend(entries []snapshot.Entry) {
	current := story.Index(f.Items)
	next := make([]*story.Story, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}

		if idx, ok := current[entry.ID]; ok {
			existing := f.Items[idx]
			if !existing.Dirty() && !story.SameState(existing.State, entry.State) {
				existing.State = slices.Clone(entry.State)
			}
			f.stamp(existing)
			next = append(next, existing)
			continue
		}
		next = append(next, f.fromEntry(entry))
	}

	f.Items = make([]*story.Story, 0, len(next))
	for _, s := range next {
		if f.passesHardFilter(s) {
			f.Items = append(f.Items, s)
		}
	}
}

func (f *Feed) fromEntry(entry snapshot.Entry) *story.Story {
	s := &story.Story{
		ID:     entry.ID,
		Feed:   f.URL,
		Title:  entry.Title,
		Link:   entry.Link,
		State:  slices.Clone(entry.State),
		Marker: story.Clean,
	}
	if s.Link == "" {
		s.Link = entry.Href
	}
	if len(f.precache) > 0 {
		s.Fields = make(map[string]any, len(f.precache))
		for _, name := range f.precache {
			s.Fields[name] = entry.Fields[name]
		}
	}

	// Tags added in configuration are unknown to the fetcher.
	f.stamp(s)
	return s
}

// stamp makes s carry the feed's tags: the base first, every other
// configured tag somewhere, and no retired base. Any change marks s Updated.
func (f *Feed) stamp(s *story.Story) {
	changed := false
	for _, old := range f.retired {
		if slices.Contains(s.State, old) {
			s.State = slices.DeleteFunc(s.State, func(t string) bool { return t == old })
			changed = true
		}
	}
	base := f.Tags[0]
	if f.baseSet && base != "" && (len(s.State) == 0 || s.State[0] != base) {
		s.State = slices.DeleteFunc(s.State, func(t string) bool { return t == base })
		s.State = slices.Insert(s.State, 0, base)
		changed = true
	}
	for _, tag := range f.Tags[1:] {
		if tag != "" && !slices.Contains(s.State, tag) {
			s.State = append(s.State, tag)
			changed = true
		}
	}
	if changed {
		s.Marker = story.Updated
	}
}

func (f *Feed) passesHardFilter(s *story.Story) bool {
	if f.HardFilter == filter.None || f.registry == nil {
		return true
	}
	ok, err := f.registry.Pass(f.HardFilter, f.Base(), s)
	if err != nil {
		return true
	}
	return ok
}

// Merge reconciles stories shipped back by the interface. A story already
// held keeps its object. An incoming change (marker Updated) is copied onto
// it and stays pending for the next commit. Otherwise a held story marked
// Saved or Queued takes the incoming state and becomes Clean, and any other
// held story is left alone. An unknown story becomes current with Saved and
// Queued markers reset to Clean, so a repeated merge is a no-op. The list is
// replaced by the merged set.
func (f *Feed) Merge(incoming []*story.Story) {
	current := story.Index(f.Items)
	merged := make([]*story.Story, 0, len(incoming))
	for _, in := range incoming {
		if in == nil {
			continue
		}
		idx, ok := current[in.ID]
		if !ok {
			if in.Marker == story.Saved || in.Marker == story.Queued {
				in.Marker = story.Clean
			}
			merged = append(merged, in)
			continue
		}
		cur := f.Items[idx]
		switch {
		case cur == in:
		case in.Marker == story.Updated:
			cur.State = slices.Clone(in.State)
			cur.Marker = story.Updated
		case cur.Marker == story.Saved || cur.Marker == story.Queued:
			cur.State = slices.Clone(in.State)
			cur.Marker = story.Clean
		}
		merged = append(merged, cur)
	}
	f.Items = merged
}

// Changed lists stories whose state has not reached disk.
func (f *Feed) Changed() []*story.Story {
	var out []*story.Story
	for _, s := range f.Items {
		if s.Dirty() {
			out = append(out, s)
		}
	}
	return out
}

// Commit writes locally changed state into snap and saves it. A nil snap is
// reloaded first. Stories missing from disk are skipped. When disk and memory
// disagree, an Updated story overwrites disk and fires the change hook;
// otherwise memory adopts disk. Lock contention makes Commit a silent no-op
// that returns false.
func (f *Feed) Commit(snap *snapshot.Snapshot) bool {
	if snap == nil {
		var ok bool
		if snap, ok = f.Load(); !ok {
			return false
		}
	}
	changed := f.Changed()
	if len(changed) == 0 {
		return true
	}

	for _, s := range changed {
		entry, ok := snap.Find(s.ID)
		if !ok {
			continue
		}
		if story.SameState(entry.State, s.State) {
			continue
		}
		if s.Marker == story.Updated {
			if f.hook != nil {
				added, removed := story.StateDelta(entry.State, s.State)
				f.hook(f, s, added, removed)
			}
			entry.State = slices.Clone(s.State)
			continue
		}
		s.State = slices.Clone(entry.State)
	}

	if err := snapshot.Write(f.Path, snap); err != nil {
		if errors.Is(err, snapshot.ErrLockContention) {
			f.logger.Debug("commit deferred; snapshot busy",
				logging.String(logging.FieldEventType, "commit_contended"),
			)
			return false
		}
		logging.WarnWithContext(f.logger, "commit failed; state kept in memory", "commit_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, fmt.Sprintf("check permissions on %s", f.Path)),
			logging.String(logging.FieldImpact, "read/marked state retried on next commit"),
		)
		return false
	}
	for _, s := range changed {
		s.Marker = story.Saved
	}
	return true
}

// Clear drops the in-memory list. Disk stays authoritative until the next load.
func (f *Feed) Clear() { f.Items = nil }

// Clone returns a deep copy sharing only the immutable registry, hook, and logger.
func (f *Feed) Clone() *Feed {
	out := *f
	out.Tags = slices.Clone(f.Tags)
	out.retired = slices.Clone(f.retired)
	out.precache = slices.Clone(f.precache)
	out.Items = story.CloneAll(f.Items)
	return &out
}
