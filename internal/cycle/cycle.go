// Package cycle provides a bounded cursor over a selectable list.
package cycle

// Cycle tracks the current position in an ordered list. Next and Prev never
// move past either end. Override pins a value that Current reports until the
// cursor moves again.
type Cycle[T any] struct {
	items    []T
	index    int
	override *T
}

// New returns a cycle positioned at index, clamped to the list bounds.
func New[T any](items []T, index int) *Cycle[T] {
	c := &Cycle[T]{items: items}
	c.index = c.clamp(index)
	return c
}

func (c *Cycle[T]) clamp(index int) int {
	if index < 0 || len(c.items) == 0 {
		return 0
	}
	if index >= len(c.items) {
		return len(c.items) - 1
	}
	return index
}

// Len returns the number of selectable items.
func (c *Cycle[T]) Len() int { return len(c.items) }

// Index returns the cursor position. It ignores any override.
func (c *Cycle[T]) Index() int { return c.index }

// Items returns the underlying list.
func (c *Cycle[T]) Items() []T { return c.items }

// Current returns the override if set, otherwise the item under the cursor.
// The second result is false for an empty cycle without an override.
func (c *Cycle[T]) Current() (T, bool) {
	if c.override != nil {
		return *c.override, true
	}
	var zero T
	if len(c.items) == 0 {
		return zero, false
	}
	return c.items[c.index], true
}

// Override sets a transient value.
func (c *Cycle[T]) Override(value T) {
	c.override = &value
}

// Overridden reports whether an override is active.
func (c *Cycle[T]) Overridden() bool { return c.override != nil }

// Next advances the cursor, clearing any override. It returns false at the end.
func (c *Cycle[T]) Next() bool {
	c.override = nil
	if c.index+1 >= len(c.items) {
		return false
	}
	c.index++
	return true
}

// Prev moves the cursor back, clearing any override. It returns false at the start.
func (c *Cycle[T]) Prev() bool {
	c.override = nil
	if c.index <= 0 {
		return false
	}
	c.index--
	return true
}

// Set moves the cursor to index, clamped, and clears any override.
func (c *Cycle[T]) Set(index int) {
	c.override = nil
	c.index = c.clamp(index)
}
