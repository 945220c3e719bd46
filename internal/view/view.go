// Package view keeps the interface's tag views and applies worker diffs to
// them.
//
// Each tag view has a filter cycle and a sort cycle; a global filter cycle
// applies to every view. A diff is only applied when the selection it was
// computed under still matches the view's current selection. Anything else
// is stale, counted, and dropped; the next refresh produces a correct one.
package view

import (
	"fmt"
	"log/slog"
	"slices"

	"skein/internal/config"
	"skein/internal/cycle"
	"skein/internal/feed"
	"skein/internal/filter"
	"skein/internal/logging"
	"skein/internal/protocol"
	"skein/internal/story"
)

// Tag is one tag view.
type Tag struct {
	Name    string
	Filters *cycle.Cycle[int]
	Sorts   *cycle.Cycle[int]
	Stories []*story.Story
}

func (t *Tag) filter() int {
	idx, _ := t.Filters.Current()
	return idx
}

func (t *Tag) sort() int {
	idx, _ := t.Sorts.Current()
	return idx
}

func (t *Tag) position(id string) int {
	return slices.IndexFunc(t.Stories, func(s *story.Story) bool { return s.ID == id })
}

// Applied summarizes one Apply call.
type Applied struct {
	Inserted int
	Evicted  int
	Stale    int
}

// Board is the set of tag views plus the per-feed lists the worker last
// reported.
type Board struct {
	registry *filter.Registry
	global   *cycle.Cycle[int]
	tags     []*Tag
	byName   map[string]*Tag
	feeds    map[string]*feed.Feed
	stale    int
	logger   *slog.Logger
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Board) { b.logger = logger }
}

// New builds views for every tag of feeds, in feed order, followed by
// configured tags no feed carries yet. Feeds must have resolved tags.
func New(cfg *config.Config, reg *filter.Registry, feeds []*feed.Feed, opts ...Option) *Board {
	b := &Board{
		registry: reg,
		byName:   make(map[string]*Tag),
		feeds:    make(map[string]*feed.Feed, len(feeds)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NewNop()
	}
	b.logger = logging.NewComponentLogger(b.logger, "view")

	var globals []string
	tagCfg := map[string]config.Tag{}
	if cfg != nil {
		globals = cfg.GlobalFilters
		for _, tc := range cfg.Tags {
			tagCfg[tc.Name] = tc
		}
	}
	b.global = cycle.New(reg.FilterIndices(globals), 0)

	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := b.byName[name]; ok {
			return
		}
		tc := tagCfg[name]
		t := &Tag{
			Name:    name,
			Filters: cycle.New(reg.FilterIndices(tc.Filters), 0),
			Sorts:   cycle.New(reg.SortIndices(tc.Sorts), 0),
		}
		b.tags = append(b.tags, t)
		b.byName[name] = t
	}
	for _, f := range feeds {
		b.feeds[f.URL] = f
		for _, tag := range f.Tags {
			add(tag)
		}
	}
	if cfg != nil {
		for _, tc := range cfg.Tags {
			add(tc.Name)
		}
	}
	return b
}

// Tags returns the view names in display order.
func (b *Board) Tags() []string {
	out := make([]string, len(b.tags))
	for i, t := range b.tags {
		out[i] = t.Name
	}
	return out
}

// Tag returns the named view.
func (b *Board) Tag(name string) (*Tag, bool) {
	t, ok := b.byName[name]
	return t, ok
}

// Stories lists the stories shown under tag.
func (b *Board) Stories(tag string) []*story.Story {
	if t, ok := b.byName[tag]; ok {
		return t.Stories
	}
	return nil
}

// GlobalFilter is the current global filter index.
func (b *Board) GlobalFilter() int {
	idx, _ := b.global.Current()
	return idx
}

// Selection is the parity token a diff for tag must carry to be applied.
func (b *Board) Selection(tag string) (protocol.Selection, bool) {
	t, ok := b.byName[tag]
	if !ok {
		return protocol.Selection{}, false
	}
	return protocol.Selection{Global: b.GlobalFilter(), Filter: t.filter(), Sort: t.sort()}, true
}

// TagInfo is the per-tag payload of a filter command.
func (b *Board) TagInfo() []protocol.TagInfo {
	out := make([]protocol.TagInfo, len(b.tags))
	for i, t := range b.tags {
		out[i] = protocol.TagInfo{Tag: t.Name, Filter: t.filter(), Sort: t.sort()}
	}
	return out
}

// Prior is the list the worker last reported for url, which the next
// command must carry.
func (b *Board) Prior(url string) []*story.Story {
	if f, ok := b.feeds[url]; ok {
		return f.Items
	}
	return nil
}

// Stale counts diffs dropped for a selection mismatch.
func (b *Board) Stale() int { return b.stale }

// NextGlobalFilter advances the global filter and empties every view, which
// must then be refilled with a refilter request.
func (b *Board) NextGlobalFilter() bool {
	if !b.global.Next() {
		return false
	}
	for _, t := range b.tags {
		t.Stories = nil
	}
	return true
}

// PrevGlobalFilter moves the global filter back and empties every view.
func (b *Board) PrevGlobalFilter() bool {
	if !b.global.Prev() {
		return false
	}
	for _, t := range b.tags {
		t.Stories = nil
	}
	return true
}

// NextFilter advances tag's filter and empties that view.
func (b *Board) NextFilter(tag string) bool {
	t, ok := b.byName[tag]
	if !ok || !t.Filters.Next() {
		return false
	}
	t.Stories = nil
	return true
}

// NextSort advances tag's sort and empties that view.
func (b *Board) NextSort(tag string) bool {
	t, ok := b.byName[tag]
	if !ok || !t.Sorts.Next() {
		return false
	}
	t.Stories = nil
	return true
}

// Apply folds a filter result into the views. Diffs whose selection no
// longer matches are dropped. The feed's prior list becomes the reported
// list, except that stories changed locally since the command was sent keep
// their local copy.
func (b *Board) Apply(msg protocol.Message) (Applied, error) {
	var res Applied
	if msg.Kind != protocol.KindFilter {
		return res, fmt.Errorf("view: cannot apply %s result", msg.Kind)
	}
	pairs, err := msg.Diffs()
	if err != nil {
		return res, err
	}

	prior := b.Prior(msg.URL)
	items := b.reconcile(prior, msg.Items)

	// Every accepted pair is checked before any view changes, so a bad
	// result leaves the board as it was.
	type accepted struct {
		tag            *Tag
		sorter         filter.Sort
		added, removed protocol.Diff
	}
	var plan []accepted
	for _, pair := range pairs {
		added, removed := pair[0], pair[1]
		t, ok := b.byName[added.Tag]
		sel, _ := b.Selection(added.Tag)
		if !ok || !added.Matches(sel) || !removed.Matches(sel) {
			res.Stale++
			b.logger.Debug("dropping stale diff",
				logging.String(logging.FieldEventType, "diff_stale"),
				logging.FeedURL(msg.URL),
				logging.String("tag", added.Tag),
				logging.String("token", added.Token().String()),
				logging.String("selection", sel.String()),
			)
			continue
		}
		if err := checkIndices(removed.Indices, len(prior)); err != nil {
			return Applied{}, fmt.Errorf("tag %q evictions: %w", added.Tag, err)
		}
		if err := checkIndices(added.Indices, len(items)); err != nil {
			return Applied{}, fmt.Errorf("tag %q insertions: %w", added.Tag, err)
		}
		sorter, err := b.registry.Sort(t.sort())
		if err != nil {
			return Applied{}, fmt.Errorf("tag %q: %w", added.Tag, err)
		}
		plan = append(plan, accepted{tag: t, sorter: sorter, added: added, removed: removed})
	}

	for _, p := range plan {
		for _, idx := range p.removed.Indices {
			if pos := p.tag.position(prior[idx].ID); pos >= 0 {
				p.tag.Stories = slices.Delete(p.tag.Stories, pos, pos+1)
				res.Evicted++
			}
		}
		for _, idx := range p.added.Indices {
			insert(p.tag, p.sorter, items[idx])
			res.Inserted++
		}
	}
	b.stale += res.Stale

	b.refresh(msg.URL, items)
	if f, ok := b.feeds[msg.URL]; ok {
		f.Items = items
	}
	return res, nil
}

func checkIndices(indices []int, n int) error {
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return fmt.Errorf("index %d outside list of %d", idx, n)
		}
	}
	return nil
}

// reconcile prefers the local copy of any story changed after it was sent.
func (b *Board) reconcile(prior, reported []*story.Story) []*story.Story {
	local := story.Index(prior)
	out := make([]*story.Story, len(reported))
	for i, s := range reported {
		out[i] = s
		if idx, ok := local[s.ID]; ok && prior[idx].Marker == story.Updated {
			out[i] = prior[idx]
		}
	}
	return out
}

// refresh swaps story objects of url already shown in any view for the
// reported ones.
func (b *Board) refresh(url string, items []*story.Story) {
	index := story.Index(items)
	for _, t := range b.tags {
		for i, s := range t.Stories {
			if s.Feed != url {
				continue
			}
			if idx, ok := index[s.ID]; ok {
				t.Stories[i] = items[idx]
			}
		}
	}
}

func insert(t *Tag, sorter filter.Sort, s *story.Story) {
	if pos := t.position(s.ID); pos >= 0 {
		t.Stories[pos] = s
		return
	}
	if sorter == nil {
		t.Stories = append(t.Stories, s)
		return
	}
	pos := len(t.Stories)
	for i, existing := range t.Stories {
		if sorter.Compare(existing, s) > 0 {
			pos = i
			break
		}
	}
	t.Stories = slices.Insert(t.Stories, pos, s)
}
