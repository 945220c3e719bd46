package snapshot

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Parse reads an RSS, Atom, or JSON feed document.
func Parse(r io.Reader) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// FromFeed converts a parsed feed into a snapshot, carrying over the state of
// entries already present in prev and keeping at most keep entries (0 keeps
// all). Newly seen entries carry the "new" state tag.
func FromFeed(parsed *gofeed.Feed, prev *Snapshot, keep int) *Snapshot {
	meta := Meta{Title: strings.TrimSpace(parsed.Title), Link: parsed.Link}
	if parsed.UpdatedParsed != nil {
		meta.Updated = parsed.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	snap := New(meta)

	seen := make(map[string]struct{}, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entry := entryFromItem(item)
		if entry.ID == "" {
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		seen[entry.ID] = struct{}{}
		if prev != nil {
			if old, ok := prev.Find(entry.ID); ok {
				entry.State = append([]string(nil), old.State...)
			}
		}
		if entry.State == nil {
			entry.State = []string{"new"}
		}
		snap.Entries = append(snap.Entries, entry)
	}

	// Entries that dropped out of the document stay until keep is reached so
	// their read state survives a short outage of the source.
	if prev != nil {
		for _, old := range prev.Entries {
			if _, ok := seen[old.ID]; ok {
				continue
			}
			if keep > 0 && len(snap.Entries) >= keep {
				break
			}
			snap.Entries = append(snap.Entries, old.Clone())
		}
	}
	if keep > 0 && len(snap.Entries) > keep {
		snap.Entries = snap.Entries[:keep]
	}
	return snap
}

func entryFromItem(item *gofeed.Item) Entry {
	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	entry := Entry{
		ID:     id,
		Title:  strings.TrimSpace(item.Title),
		Link:   item.Link,
		Fields: map[string]any{},
	}
	if len(item.Links) > 0 {
		entry.Href = item.Links[0]
	}
	if item.PublishedParsed != nil {
		entry.Fields["published"] = item.PublishedParsed.UTC().Format(time.RFC3339)
	} else if item.Published != "" {
		entry.Fields["published"] = item.Published
	}
	if item.UpdatedParsed != nil {
		entry.Fields["updated"] = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	if item.Author != nil && item.Author.Name != "" {
		entry.Fields["author"] = item.Author.Name
	}
	if item.Description != "" {
		entry.Fields["description"] = item.Description
	}
	if len(item.Categories) > 0 {
		entry.Fields["category"] = strings.Join(item.Categories, ", ")
	}
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}
	return entry
}
