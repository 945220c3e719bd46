// Package diff computes the per-tag insert and evict lists the worker sends
// back for a filter command.
package diff

import (
	"fmt"

	"skein/internal/filter"
	"skein/internal/protocol"
	"skein/internal/story"
)

// Compute compares a feed's current items with the prior list the interface
// still displays.
//
// An item is new when it is current, was not displayed, and passes the
// global filter. A displayed item is old when it has left the feed or no
// longer passes the global filter. Each tag in info then claims the new and
// old items carrying that tag and accepted by its filter, ordered by its
// sort. New groups index into items and old groups into prior. Every group
// is stamped with the selection it was computed under. With refilter set the
// prior list is ignored and every passing item is new.
func Compute(items, prior []*story.Story, reg *filter.Registry, global int, info []protocol.TagInfo, refilter bool) (newDiff, oldDiff []protocol.Diff, err error) {
	if refilter {
		prior = nil
	}
	current := story.Index(items)
	shown := story.Index(prior)

	pass := func(s *story.Story) (bool, error) {
		return reg.Pass(global, "", s)
	}

	var fresh []*story.Story
	for _, s := range items {
		if _, ok := shown[s.ID]; ok {
			continue
		}
		ok, err := pass(s)
		if err != nil {
			return nil, nil, fmt.Errorf("global filter: %w", err)
		}
		if ok {
			fresh = append(fresh, s)
		}
	}

	var stale []*story.Story
	for _, s := range prior {
		if idx, ok := current[s.ID]; ok {
			keep, err := pass(items[idx])
			if err != nil {
				return nil, nil, fmt.Errorf("global filter: %w", err)
			}
			if keep {
				continue
			}
		}
		stale = append(stale, s)
	}

	newDiff = make([]protocol.Diff, len(info))
	oldDiff = make([]protocol.Diff, len(info))
	for i, ti := range info {
		newGroup, err := group(reg, ti, fresh)
		if err != nil {
			return nil, nil, err
		}
		oldGroup, err := group(reg, ti, stale)
		if err != nil {
			return nil, nil, err
		}
		newDiff[i] = stamp(ti, global, positions(newGroup, current))
		oldDiff[i] = stamp(ti, global, positions(oldGroup, shown))
	}
	return newDiff, oldDiff, nil
}

// group selects the members of list that belong in the tag view and orders
// them by the tag's sort.
func group(reg *filter.Registry, ti protocol.TagInfo, list []*story.Story) ([]*story.Story, error) {
	var out []*story.Story
	for _, s := range list {
		if !s.Has(ti.Tag) {
			continue
		}
		ok, err := reg.Pass(ti.Filter, ti.Tag, s)
		if err != nil {
			return nil, fmt.Errorf("tag %q filter: %w", ti.Tag, err)
		}
		if ok {
			out = append(out, s)
		}
	}
	if err := reg.Order(ti.Sort, out); err != nil {
		return nil, fmt.Errorf("tag %q sort: %w", ti.Tag, err)
	}
	return out, nil
}

func positions(list []*story.Story, index map[string]int) []int {
	if len(list) == 0 {
		return nil
	}
	out := make([]int, len(list))
	for i, s := range list {
		out[i] = index[s.ID]
	}
	return out
}

func stamp(ti protocol.TagInfo, global int, indices []int) protocol.Diff {
	return protocol.Diff{
		Tag:     ti.Tag,
		Global:  global,
		Filter:  ti.Filter,
		Sort:    ti.Sort,
		Indices: indices,
	}
}
