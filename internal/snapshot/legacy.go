package snapshot

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Legacy entries are flat objects: known keys map to Entry fields, the tag
// set lives under canto_state, and every other key is a precached field.
const legacyStateKey = "canto_state"

func decodeLegacy(h header) (*Snapshot, error) {
	snap := New(Meta{})
	if len(h.Feed) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(h.Feed, &meta); err != nil {
			return nil, fmt.Errorf("%w: legacy feed: %v", ErrUnreadable, err)
		}
		snap.Feed.Title = stringValue(meta["title"])
		snap.Feed.Link = stringValue(meta["link"])
		snap.Feed.Updated = stringValue(meta["updated"])
	}

	var raw []map[string]any
	if len(h.Entries) > 0 {
		if err := json.Unmarshal(h.Entries, &raw); err != nil {
			return nil, fmt.Errorf("%w: legacy entries: %v", ErrUnreadable, err)
		}
	}
	snap.Entries = make([]Entry, 0, len(raw))
	for _, item := range raw {
		entry := Entry{
			ID:    stringValue(item["id"]),
			Title: stringValue(item["title"]),
			Link:  stringValue(item["link"]),
			Href:  stringValue(item["href"]),
		}
		if states, ok := item[legacyStateKey].([]any); ok {
			for _, st := range states {
				if tag, ok := st.(string); ok {
					entry.State = append(entry.State, tag)
				}
			}
		}
		for key, value := range item {
			switch key {
			case "id", "title", "link", "href", legacyStateKey:
				continue
			}
			if entry.Fields == nil {
				entry.Fields = make(map[string]any)
			}
			entry.Fields[key] = value
		}
		snap.Entries = append(snap.Entries, entry)
	}
	return snap, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
