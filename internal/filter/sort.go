package filter

import (
	"cmp"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"skein/internal/config"
	"skein/internal/story"
)

// Sort orders stories within a tag view.
type Sort interface {
	Name() string
	Compare(a, b *story.Story) int
	Precache() []string
	signature() string
}

type alphabetical struct {
	name    string
	reverse bool
	mu      sync.Mutex
	col     *collate.Collator
}

func newAlphabetical(name string, reverse bool) *alphabetical {
	return &alphabetical{name: name, reverse: reverse, col: collate.New(language.Und, collate.IgnoreCase, collate.Loose)}
}

func (a *alphabetical) Name() string { return a.name }

func (a *alphabetical) Compare(x, y *story.Story) int {
	a.mu.Lock()
	c := a.col.CompareString(x.Title, y.Title)
	a.mu.Unlock()
	return orient(c, a.reverse)
}

func (a *alphabetical) Precache() []string { return nil }

func (a *alphabetical) signature() string {
	return fmt.Sprintf("sort:%s:alphabetical:%t", a.name, a.reverse)
}

type byDate struct {
	name    string
	field   string
	reverse bool
}

func (b *byDate) Name() string { return b.name }

// Compare orders by the precached timestamp. Stories without a usable
// timestamp sort after every dated story in either direction.
func (b *byDate) Compare(x, y *story.Story) int {
	tx, okx := timestamp(x, b.field)
	ty, oky := timestamp(y, b.field)
	switch {
	case !okx && !oky:
		return 0
	case !okx:
		return 1
	case !oky:
		return -1
	}
	return orient(tx.Compare(ty), b.reverse)
}

func (b *byDate) Precache() []string { return []string{b.field} }

func (b *byDate) signature() string {
	return fmt.Sprintf("sort:%s:by_date:%s:%t", b.name, b.field, b.reverse)
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, "2006-01-02"}

func timestamp(s *story.Story, field string) (time.Time, bool) {
	value, ok := s.Field(field)
	if !ok || value == nil {
		return time.Time{}, false
	}
	switch v := value.(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	case string:
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0), true
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

type byLength struct {
	name    string
	reverse bool
}

func (b *byLength) Name() string { return b.name }

func (b *byLength) Compare(x, y *story.Story) int {
	return orient(cmp.Compare(utf8.RuneCountInString(x.Title), utf8.RuneCountInString(y.Title)), b.reverse)
}

func (b *byLength) Precache() []string { return nil }

func (b *byLength) signature() string {
	return fmt.Sprintf("sort:%s:by_length:%t", b.name, b.reverse)
}

// byState puts stories carrying a state tag ahead of those without it.
type byState struct {
	name    string
	tag     string
	reverse bool
}

func (b *byState) Name() string { return b.name }

func (b *byState) Compare(x, y *story.Story) int {
	hx, hy := x.Has(b.tag), y.Has(b.tag)
	c := 0
	switch {
	case hx && !hy:
		c = -1
	case !hx && hy:
		c = 1
	}
	return orient(c, b.reverse)
}

func (b *byState) Precache() []string { return nil }

func (b *byState) signature() string {
	return fmt.Sprintf("sort:%s:by_state:%s:%t", b.name, b.tag, b.reverse)
}

func orient(c int, reverse bool) int {
	if reverse {
		return -c
	}
	return c
}

func newSort(cfg config.Sort) (Sort, error) {
	switch cfg.Kind {
	case "alphabetical":
		return newAlphabetical(cfg.Name, cfg.Reverse), nil
	case "by_date":
		field := cfg.Field
		if field == "" {
			field = "published"
		}
		return &byDate{name: cfg.Name, field: field, reverse: cfg.Reverse}, nil
	case "by_length":
		return &byLength{name: cfg.Name, reverse: cfg.Reverse}, nil
	case "by_state":
		return &byState{name: cfg.Name, tag: cfg.Field, reverse: cfg.Reverse}, nil
	default:
		return nil, fmt.Errorf("sort %q: unsupported kind %q", cfg.Name, cfg.Kind)
	}
}

func builtinSorts() []Sort {
	return []Sort{
		newAlphabetical("alphabetical", false),
		&byDate{name: "by_date", field: "published"},
		&byLength{name: "by_length"},
	}
}
