package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"skein/internal/config"
	"skein/internal/story"
)

// None is the index of the empty selection in both lists.
const None = 0

// NoneName is the configuration name of the empty selection.
const NoneName = "none"

// ErrUnknownIndex reports an index outside the registry.
var ErrUnknownIndex = errors.New("filter: unknown registry index")

// Registry is the ordered set of filters and sorts. It is immutable after
// construction.
type Registry struct {
	filters  []Filter
	sorts    []Sort
	precache []string
	digest   string
}

// New builds the registry from configuration: the empty selection, then the
// built-ins, then configured entries in file order.
func New(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		filters: append([]Filter{nil}, builtinFilters()...),
		sorts:   append([]Sort{nil}, builtinSorts()...),
	}
	var extra []string
	if cfg != nil {
		for _, fc := range cfg.Filters {
			r.filters = append(r.filters, newRule(fc))
		}
		for _, sc := range cfg.Sorts {
			s, err := newSort(sc)
			if err != nil {
				return nil, err
			}
			r.sorts = append(r.sorts, s)
		}
		extra = cfg.Precache
	}
	r.precache = r.collectPrecache(extra)
	r.digest = r.computeDigest()
	return r, nil
}

func (r *Registry) collectPrecache(extra []string) []string {
	var out []string
	add := func(fields []string) {
		for _, f := range fields {
			if f != "" && !slices.Contains(out, f) {
				out = append(out, f)
			}
		}
	}
	add(extra)
	for _, f := range r.filters[1:] {
		add(f.Precache())
	}
	for _, s := range r.sorts[1:] {
		add(s.Precache())
	}
	return out
}

func (r *Registry) computeDigest() string {
	h := sha256.New()
	for _, f := range r.filters[1:] {
		fmt.Fprintln(h, f.signature())
	}
	for _, s := range r.sorts[1:] {
		fmt.Fprintln(h, s.signature())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Digest identifies the registry contents.
func (r *Registry) Digest() string { return r.digest }

// Precache lists the story fields every filter and sort may read.
func (r *Registry) Precache() []string { return slices.Clone(r.precache) }

// Filter returns the filter at idx; None yields nil.
func (r *Registry) Filter(idx int) (Filter, error) {
	if idx < 0 || idx >= len(r.filters) {
		return nil, fmt.Errorf("%w: filter %d", ErrUnknownIndex, idx)
	}
	return r.filters[idx], nil
}

// Sort returns the sort at idx; None yields nil.
func (r *Registry) Sort(idx int) (Sort, error) {
	if idx < 0 || idx >= len(r.sorts) {
		return nil, fmt.Errorf("%w: sort %d", ErrUnknownIndex, idx)
	}
	return r.sorts[idx], nil
}

// FilterIndex resolves a filter name.
func (r *Registry) FilterIndex(name string) (int, bool) {
	if name == NoneName || name == "" {
		return None, true
	}
	for i, f := range r.filters[1:] {
		if f.Name() == name {
			return i + 1, true
		}
	}
	return 0, false
}

// SortIndex resolves a sort name.
func (r *Registry) SortIndex(name string) (int, bool) {
	if name == NoneName || name == "" {
		return None, true
	}
	for i, s := range r.sorts[1:] {
		if s.Name() == name {
			return i + 1, true
		}
	}
	return 0, false
}

// FilterName returns the name at idx.
func (r *Registry) FilterName(idx int) string {
	f, err := r.Filter(idx)
	if err != nil || f == nil {
		return NoneName
	}
	return f.Name()
}

// SortName returns the name at idx.
func (r *Registry) SortName(idx int) string {
	s, err := r.Sort(idx)
	if err != nil || s == nil {
		return NoneName
	}
	return s.Name()
}

// FilterIndices resolves names, skipping unknown ones. An empty list selects
// only None.
func (r *Registry) FilterIndices(names []string) []int {
	out := make([]int, 0, len(names)+1)
	for _, name := range names {
		if idx, ok := r.FilterIndex(name); ok {
			out = append(out, idx)
		}
	}
	if len(out) == 0 {
		out = append(out, None)
	}
	return out
}

// SortIndices resolves names, skipping unknown ones. An empty list selects
// only None.
func (r *Registry) SortIndices(names []string) []int {
	out := make([]int, 0, len(names)+1)
	for _, name := range names {
		if idx, ok := r.SortIndex(name); ok {
			out = append(out, idx)
		}
	}
	if len(out) == 0 {
		out = append(out, None)
	}
	return out
}

// Pass reports whether s passes filter idx for tag. None always passes.
func (r *Registry) Pass(idx int, tag string, s *story.Story) (bool, error) {
	f, err := r.Filter(idx)
	if err != nil {
		return false, err
	}
	if f == nil {
		return true, nil
	}
	return f.Match(tag, s), nil
}

// Order stably sorts list by sort idx. None leaves discovery order.
func (r *Registry) Order(idx int, list []*story.Story) error {
	s, err := r.Sort(idx)
	if err != nil {
		return err
	}
	if s != nil {
		slices.SortStableFunc(list, s.Compare)
	}
	return nil
}
