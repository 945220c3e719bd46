package protocol

import (
	"fmt"

	"skein/internal/story"
)

// Kind discriminates commands and results.
type Kind string

const (
	// KindHello opens a session; the worker answers with its registry digest.
	KindHello Kind = "hello"
	// KindUpdate reloads one feed and returns its full item list.
	KindUpdate Kind = "update"
	// KindGetTags resolves base tag collisions and returns every feed's tags.
	KindGetTags Kind = "get_tags"
	// KindFilter reloads one feed and returns a diff pair.
	KindFilter Kind = "filter"
	// KindSync forces one feed's local changes to disk.
	KindSync Kind = "sync"
	// KindFlush is echoed verbatim as a barrier.
	KindFlush Kind = "flush"
	// KindKill is echoed like Flush, then the worker exits.
	KindKill Kind = "kill"
	// KindDequeued reports that a feed could not be loaded.
	KindDequeued Kind = "dequeued"
)

// Selection is the parity token: the global filter, tag filter, and tag sort
// a diff was computed under.
type Selection struct {
	Global int `json:"global"`
	Filter int `json:"filter"`
	Sort   int `json:"sort"`
}

func (s Selection) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Global, s.Filter, s.Sort)
}

// TagInfo is the interface's current filter and sort for one tag view.
type TagInfo struct {
	Tag    string `json:"tag"`
	Filter int    `json:"filter"`
	Sort   int    `json:"sort"`
}

// Diff lists, for one tag, the positions of items to insert or evict.
type Diff struct {
	Tag     string `json:"tag"`
	Global  int    `json:"global"`
	Filter  int    `json:"filter"`
	Sort    int    `json:"sort"`
	Indices []int  `json:"indices"`
}

// Token returns the selection the diff was computed under.
func (d Diff) Token() Selection {
	return Selection{Global: d.Global, Filter: d.Filter, Sort: d.Sort}
}

// Matches reports whether the diff may be applied under sel.
func (d Diff) Matches(sel Selection) bool {
	return d.Token() == sel
}

// Empty reports whether the diff has no indices.
func (d Diff) Empty() bool { return len(d.Indices) == 0 }

// FeedTags carries one feed's tag list.
type FeedTags struct {
	URL     string   `json:"url"`
	Tags    []string `json:"tags"`
	BaseSet bool     `json:"base_set"`
}

// Message is one command or result.
type Message struct {
	Kind         Kind           `json:"kind"`
	URL          string         `json:"url,omitempty"`
	Items        []*story.Story `json:"items,omitempty"`
	GlobalFilter int            `json:"global_filter,omitempty"`
	TagInfo      []TagInfo      `json:"tag_info,omitempty"`
	Refilter     bool           `json:"refilter,omitempty"`
	NewDiff      []Diff         `json:"new_diff,omitempty"`
	OldDiff      []Diff         `json:"old_diff,omitempty"`
	Feeds        []FeedTags     `json:"feeds,omitempty"`
	Token        string         `json:"token,omitempty"`
	Digest       string         `json:"digest,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Hello opens a session. feeds carries any tags the interface already
// resolved so the worker starts from the same view of them.
func Hello(digest string, feeds []FeedTags) Message {
	return Message{Kind: KindHello, Digest: digest, Feeds: feeds}
}

// Update asks for a plain reload of url.
func Update(url string, prior []*story.Story) Message {
	return Message{Kind: KindUpdate, URL: url, Items: prior}
}

// Filter asks for a reload of url and a diff against prior.
func Filter(url string, prior []*story.Story, global int, info []TagInfo, refilter bool) Message {
	return Message{
		Kind:         KindFilter,
		URL:          url,
		Items:        prior,
		GlobalFilter: global,
		TagInfo:      info,
		Refilter:     refilter,
	}
}

// GetTags asks for every feed's resolved tags.
func GetTags() Message { return Message{Kind: KindGetTags} }

// Sync asks the worker to persist url's local changes.
func Sync(url string, prior []*story.Story) Message {
	return Message{Kind: KindSync, URL: url, Items: prior}
}

// Flush is a barrier identified by token.
func Flush(token string) Message { return Message{Kind: KindFlush, Token: token} }

// Kill is a barrier after which the worker exits.
func Kill(token string) Message { return Message{Kind: KindKill, Token: token} }

// Dequeued reports that url could not be loaded.
func Dequeued(url string) Message { return Message{Kind: KindDequeued, URL: url} }

// Barrier reports whether m is the echo of a Flush or Kill carrying token.
func (m Message) Barrier(kind Kind, token string) bool {
	return m.Kind == kind && m.Token == token
}

// Diffs pairs each new diff with the old diff for the same tag.
func (m Message) Diffs() ([][2]Diff, error) {
	if len(m.NewDiff) != len(m.OldDiff) {
		return nil, fmt.Errorf("protocol: %d new diffs but %d old diffs", len(m.NewDiff), len(m.OldDiff))
	}
	out := make([][2]Diff, len(m.NewDiff))
	for i := range m.NewDiff {
		if m.NewDiff[i].Tag != m.OldDiff[i].Tag {
			return nil, fmt.Errorf("protocol: diff %d pairs tag %q with %q", i, m.NewDiff[i].Tag, m.OldDiff[i].Tag)
		}
		out[i] = [2]Diff{m.NewDiff[i], m.OldDiff[i]}
	}
	return out, nil
}

// String summarizes m for logs.
func (m Message) String() string {
	switch m.Kind {
	case KindFlush, KindKill:
		return fmt.Sprintf("%s[%s]", m.Kind, m.Token)
	case KindUpdate, KindFilter, KindSync, KindDequeued:
		return fmt.Sprintf("%s[%s items=%d]", m.Kind, m.URL, len(m.Items))
	default:
		return string(m.Kind)
	}
}
