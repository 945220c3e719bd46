package view_test

import (
	"slices"
	"testing"

	"skein/internal/diff"
	"skein/internal/feed"
	"skein/internal/filter"
	"skein/internal/protocol"
	"skein/internal/story"
	"skein/internal/testsupport"
	"skein/internal/view"
)

const feedURL = "http://f.example/rss"

type fixture struct {
	reg   *filter.Registry
	feed  *feed.Feed
	board *view.Board
}

func newFixture(t *testing.T, globals []string, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithFeed(feedURL, "F")}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	if globals != nil {
		cfg.GlobalFilters = globals
	}
	reg, err := filter.New(cfg)
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	f := feed.New(cfg.Feeds[0], feed.WithRegistry(reg))
	return &fixture{reg: reg, feed: f, board: view.New(cfg, reg, []*feed.Feed{f})}
}

// result computes the worker's reply for items against the board's current
// prior list and selections.
func (fx *fixture) result(t *testing.T, items []*story.Story, refilter bool) protocol.Message {
	t.Helper()
	prior := fx.board.Prior(feedURL)
	newDiff, oldDiff, err := diff.Compute(items, prior, fx.reg, fx.board.GlobalFilter(), fx.board.TagInfo(), refilter)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	return protocol.Message{
		Kind:    protocol.KindFilter,
		URL:     feedURL,
		Items:   items,
		NewDiff: newDiff,
		OldDiff: oldDiff,
	}
}

func entry(id, title string, state ...string) *story.Story {
	return &story.Story{ID: id, Feed: feedURL, Title: title, State: append([]string{"F"}, state...)}
}

func ids(list []*story.Story) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestApplyInsertsNewStories(t *testing.T) {
	fx := newFixture(t, nil)
	items := []*story.Story{entry("A", "a", "new"), entry("B", "b", "new")}

	res, err := fx.board.Apply(fx.result(t, items, false))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Inserted != 2 || res.Stale != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := ids(fx.board.Stories("F")); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("F = %v", got)
	}
	if got := ids(fx.feed.Items); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("prior list = %v", got)
	}
}

func TestApplyDropsDiffAfterSelectionChange(t *testing.T) {
	fx := newFixture(t, nil, testsupport.WithTag("F", []string{"none", "unread"}, nil))
	msg := fx.result(t, []*story.Story{entry("A", "a"), entry("B", "b")}, false)

	if !fx.board.NextFilter("F") {
		t.Fatal("expected filter cycle to advance")
	}
	res, err := fx.board.Apply(msg)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Stale != 1 || res.Inserted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(fx.board.Stories("F")) != 0 {
		t.Fatalf("expected nothing inserted, got %v", ids(fx.board.Stories("F")))
	}
	if fx.board.Stale() != 1 {
		t.Fatalf("stale = %d, want 1", fx.board.Stale())
	}

	res, err = fx.board.Apply(fx.result(t, msg.Items, true))
	if err != nil {
		t.Fatalf("refilter Apply: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("refilter inserted %d, want 2", res.Inserted)
	}
}

func TestApplyKeepsSortOrder(t *testing.T) {
	fx := newFixture(t, nil, testsupport.WithTag("F", nil, []string{"alphabetical"}))
	first := []*story.Story{entry("B", "bravo"), entry("D", "delta")}
	if _, err := fx.board.Apply(fx.result(t, first, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	second := append(slices.Clone(first), entry("C", "charlie"), entry("A", "alpha"))
	if _, err := fx.board.Apply(fx.result(t, second, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := ids(fx.board.Stories("F")); !slices.Equal(got, []string{"A", "B", "C", "D"}) {
		t.Fatalf("F = %v, want alphabetical", got)
	}
}

func TestApplyEvictsFilteredStories(t *testing.T) {
	fx := newFixture(t, []string{"unread"})
	items := []*story.Story{entry("A", "a"), entry("B", "b"), entry("C", "c")}
	if _, err := fx.board.Apply(fx.result(t, items, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	next := []*story.Story{entry("A", "a"), entry("B", "b", story.TagRead)}
	res, err := fx.board.Apply(fx.result(t, next, false))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Evicted != 2 {
		t.Fatalf("evicted %d, want 2", res.Evicted)
	}
	if got := ids(fx.board.Stories("F")); !slices.Equal(got, []string{"A"}) {
		t.Fatalf("F = %v", got)
	}
}

func TestApplyPrefersLocalChanges(t *testing.T) {
	fx := newFixture(t, nil)
	if _, err := fx.board.Apply(fx.result(t, []*story.Story{entry("A", "a")}, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	local := fx.feed.Items[0]
	local.Read()

	reported := []*story.Story{entry("A", "a")}
	if _, err := fx.board.Apply(fx.result(t, reported, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if fx.feed.Items[0] != local {
		t.Fatal("expected the locally changed story to survive")
	}
	if fx.board.Stories("F")[0] != local || !local.IsRead() {
		t.Fatal("expected the view to keep showing the local change")
	}
}

func TestApplyRejectsOtherKinds(t *testing.T) {
	fx := newFixture(t, nil)
	if _, err := fx.board.Apply(protocol.Update(feedURL, nil)); err == nil {
		t.Fatal("expected error applying an update reply")
	}
}

func TestNewCollectsTagsInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithFeed("http://a", "A", "Shared"),
		testsupport.WithFeed("http://b", "B", "Shared"),
		testsupport.WithTag("Later", nil, nil),
	)
	reg, err := filter.New(cfg)
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	board := view.New(cfg, reg, feed.FromConfig(cfg, feed.WithRegistry(reg)))
	if got := board.Tags(); !slices.Equal(got, []string{"A", "Shared", "B", "Later"}) {
		t.Fatalf("tags = %v", got)
	}
	sel, ok := board.Selection("Later")
	if !ok || sel != (protocol.Selection{}) {
		t.Fatalf("selection = %v %v", sel, ok)
	}
}

func TestApplyRejectsBadIndicesWithoutChangingViews(t *testing.T) {
	fx := newFixture(t, nil, testsupport.WithTag("G", nil, nil))
	items := []*story.Story{entry("A", "a", "G"), entry("B", "b", "G")}
	msg := fx.result(t, items, false)
	if len(msg.NewDiff) != 2 || msg.NewDiff[1].Tag != "G" {
		t.Fatalf("unexpected diffs %+v", msg.NewDiff)
	}
	msg.NewDiff[1].Indices = append(msg.NewDiff[1].Indices, len(items))

	if _, err := fx.board.Apply(msg); err == nil {
		t.Fatal("expected out-of-range index to be rejected")
	}
	for _, tag := range []string{"F", "G"} {
		if got := fx.board.Stories(tag); len(got) != 0 {
			t.Fatalf("%s changed by rejected result: %v", tag, ids(got))
		}
	}
	if len(fx.feed.Items) != 0 || len(fx.board.Prior(feedURL)) != 0 {
		t.Fatalf("prior list changed by rejected result: %v", ids(fx.feed.Items))
	}
}
