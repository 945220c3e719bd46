package feed

import "fmt"

// ResolveBaseTags disambiguates inferred base tags that collide. Feeds are
// visited in order; the first feed keeps an inferred tag and each later one
// gets " (N)" with the smallest N not already taken for that tag, so
// ["Tag", "Tag", "Tag (2)"] resolves to ["Tag", "Tag (3)", "Tag (2)"].
// Explicit base tags and unresolved feeds are left alone. Every story of a
// renamed feed trades the old tag for the new one, now and on every later
// load.
func ResolveBaseTags(feeds []*Feed) {
	taken := make(map[string]struct{})
	for _, f := range feeds {
		if f.baseSet && !f.baseExplicit {
			taken[f.Tags[0]] = struct{}{}
		}
	}

	counters := make(map[string]int)
	kept := make(map[string]bool)
	for _, f := range feeds {
		if !f.baseSet || f.baseExplicit {
			continue
		}
		original := f.Tags[0]
		if !kept[original] {
			kept[original] = true
			continue
		}
		n := counters[original]
		if n == 0 {
			n = 1
		}
		var renamed string
		for {
			n++
			renamed = fmt.Sprintf("%s (%d)", original, n)
			if _, used := taken[renamed]; !used {
				break
			}
		}
		counters[original] = n
		taken[renamed] = struct{}{}
		f.Tags[0] = renamed
		f.retire(original, f.Tags)
		for _, s := range f.Items {
			f.stamp(s)
		}
	}
}
