// Package story models a single feed entry: its identity, display fields,
// precached optional fields, and the mutable set of state tags that drive
// every tag view.
//
// Stories travel between the interface and the worker as JSON, so the dirty
// marker is part of the wire form. Identity is the provider id; two stories
// are the same entry when their IDs match, regardless of state.
package story

import (
	"fmt"
	"slices"
	"strings"
)

// Well-known state tags.
const (
	TagRead   = "read"
	TagMarked = "marked"
	TagNew    = "new"
)

// Marker records how a story's in-memory state relates to disk.
type Marker int

const (
	// Clean means memory and disk agree.
	Clean Marker = iota
	// Queued means the story was shipped to the worker and has not come back.
	Queued
	// Saved means the last local change reached disk.
	Saved
	// Updated means the story changed locally and disk has not seen it.
	Updated
)

var markerNames = map[Marker]string{
	Clean:   "clean",
	Queued:  "queued",
	Saved:   "saved",
	Updated: "updated",
}

func (m Marker) String() string {
	if name, ok := markerNames[m]; ok {
		return name
	}
	return fmt.Sprintf("marker(%d)", int(m))
}

// MarshalText encodes the marker by name.
func (m Marker) MarshalText() ([]byte, error) {
	name, ok := markerNames[m]
	if !ok {
		return nil, fmt.Errorf("unknown dirty marker %d", int(m))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a marker name; an empty value decodes as Clean.
func (m *Marker) UnmarshalText(text []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	if value == "" {
		*m = Clean
		return nil
	}
	for marker, name := range markerNames {
		if name == value {
			*m = marker
			return nil
		}
	}
	return fmt.Errorf("unknown dirty marker %q", value)
}

// Story is one entry within a feed.
type Story struct {
	ID     string         `json:"id"`
	Feed   string         `json:"feed"`
	Title  string         `json:"title"`
	Link   string         `json:"link"`
	State  []string       `json:"state"`
	Fields map[string]any `json:"fields,omitempty"`
	Marker Marker         `json:"marker"`
}

// Dirty reports whether local state diverges from disk.
func (s *Story) Dirty() bool {
	return s.Marker == Queued || s.Marker == Updated
}

// Has reports whether tag is in the state set.
func (s *Story) Has(tag string) bool {
	return slices.Contains(s.State, tag)
}

// Set adds tag to the state set and marks the story updated when the set
// changes. It returns true if the tag was added.
func (s *Story) Set(tag string) bool {
	if s.Has(tag) {
		return false
	}
	s.State = append(s.State, tag)
	s.Marker = Updated
	return true
}

// Unset removes tag from the state set and marks the story updated when the
// set changes. It returns true if the tag was removed.
func (s *Story) Unset(tag string) bool {
	idx := slices.Index(s.State, tag)
	if idx < 0 {
		return false
	}
	s.State = slices.Delete(s.State, idx, idx+1)
	s.Marker = Updated
	return true
}

func (s *Story) Read() { s.Set(TagRead) }
func (s *Story) Unread() { s.Unset(TagRead) }
func (s *Story) IsRead() bool { return s.Has(TagRead) }
func (s *Story) Mark() { s.Set(TagMarked) }
func (s *Story) Unmark() { s.Unset(TagMarked) }
func (s *Story) IsMarked() bool { return s.Has(TagMarked) }
func (s *Story) MarkNew() { s.Set(TagNew) }
func (s *Story) MarkOld() { s.Unset(TagNew) }
func (s *Story) IsNew() bool { return s.Has(TagNew) }
func (s *Story) String() string { return s.Feed + "#" + s.ID }
func (s *Story) Same(o *Story) bool { return o != nil && s.ID == o.ID }

// Field returns a precached field. The second result is false when the field
// was never requested; a requested field the provider lacked is present with
// a nil value.
func (s *Story) Field(name string) (any, bool) {
	if s.Fields == nil {
		return nil, false
	}
	value, ok := s.Fields[name]
	return value, ok
}

// Clone returns a deep copy.
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	out := *s
	out.State = slices.Clone(s.State)
	if s.Fields != nil {
		out.Fields = make(map[string]any, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

// SameState reports whether a and b hold the same tag set, ignoring order.
func SameState(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// StateDelta lists tags present in next but not prev (added) and tags in prev
// but not next (removed).
func StateDelta(prev, next []string) (added, removed []string) {
	for _, tag := range next {
		if !slices.Contains(prev, tag) {
			added = append(added, tag)
		}
	}
	for _, tag := range prev {
		if !slices.Contains(next, tag) {
			removed = append(removed, tag)
		}
	}
	return added, removed
}

// Index maps story IDs to positions in list.
func Index(list []*Story) map[string]int {
	out := make(map[string]int, len(list))
	for i, s := range list {
		if _, ok := out[s.ID]; !ok {
			out[s.ID] = i
		}
	}
	return out
}

// CloneAll deep copies list.
func CloneAll(list []*Story) []*Story {
	if list == nil {
		return nil
	}
	out := make([]*Story, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}
