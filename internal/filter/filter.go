package filter

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"skein/internal/config"
	"skein/internal/story"
)

// Filter decides whether a story is visible. tag is the view being filtered,
// or "" for the global filter.
type Filter interface {
	Name() string
	Match(tag string, s *story.Story) bool
	Precache() []string
	signature() string
}

// rule is a conjunction of keyword and state clauses. Every built-in filter
// is a rule without keywords.
type rule struct {
	name     string
	field    string
	includes []string
	excludes []string
	require  []string
	forbid   []string
}

func newRule(cfg config.Filter) *rule {
	fold := cases.Fold()
	r := &rule{
		name:    cfg.Name,
		field:   cfg.Field,
		require: slices.Clone(cfg.Require),
		forbid:  slices.Clone(cfg.Forbid),
	}
	for _, kw := range cfg.Includes {
		if kw = strings.TrimSpace(kw); kw != "" {
			r.includes = append(r.includes, fold.String(kw))
		}
	}
	for _, kw := range cfg.Excludes {
		if kw = strings.TrimSpace(kw); kw != "" {
			r.excludes = append(r.excludes, fold.String(kw))
		}
	}
	return r
}

func (r *rule) Name() string { return r.name }

func (r *rule) Match(_ string, s *story.Story) bool {
	for _, tag := range r.require {
		if !s.Has(tag) {
			return false
		}
	}
	for _, tag := range r.forbid {
		if s.Has(tag) {
			return false
		}
	}
	if len(r.includes) == 0 && len(r.excludes) == 0 {
		return true
	}
	text := cases.Fold().String(fieldText(s, r.field))
	for _, kw := range r.excludes {
		if strings.Contains(text, kw) {
			return false
		}
	}
	if len(r.includes) == 0 {
		return true
	}
	for _, kw := range r.includes {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (r *rule) Precache() []string {
	switch r.field {
	case "", "title", "link":
		return nil
	default:
		return []string{r.field}
	}
}

func (r *rule) signature() string {
	return fmt.Sprintf("filter:%s:%s:%v:%v:%v:%v", r.name, r.field, r.includes, r.excludes, r.require, r.forbid)
}

func fieldText(s *story.Story, field string) string {
	switch field {
	case "", "title":
		return s.Title
	case "link":
		return s.Link
	}
	value, ok := s.Field(field)
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func builtinFilters() []Filter {
	return []Filter{
		newRule(config.Filter{Name: "unread", Forbid: []string{story.TagRead}}),
		newRule(config.Filter{Name: "read", Require: []string{story.TagRead}}),
		newRule(config.Filter{Name: "marked", Require: []string{story.TagMarked}}),
		newRule(config.Filter{Name: "unmarked", Forbid: []string{story.TagMarked}}),
		newRule(config.Filter{Name: "new", Require: []string{story.TagNew}}),
	}
}
