package cycle_test

import (
	"testing"

	"skein/internal/cycle"
)

func TestNextPrevStayInBounds(t *testing.T) {
	c := cycle.New([]int{0, 1, 2}, 1)

	if !c.Next() || c.Index() != 2 {
		t.Fatalf("expected move to 2, got %d", c.Index())
	}
	if c.Next() {
		t.Fatal("expected Next at end to report no movement")
	}
	if c.Index() != 2 {
		t.Fatalf("index = %d, want 2", c.Index())
	}
	c.Prev()
	c.Prev()
	if c.Prev() {
		t.Fatal("expected Prev at start to report no movement")
	}
	if got, _ := c.Current(); got != 0 {
		t.Fatalf("current = %d, want 0", got)
	}
}

func TestOverrideLastsUntilMove(t *testing.T) {
	c := cycle.New([]string{"a", "b"}, 0)
	c.Override("z")
	if got, _ := c.Current(); got != "z" {
		t.Fatalf("current = %q, want override", got)
	}
	if c.Index() != 0 {
		t.Fatalf("override must not move the cursor, index = %d", c.Index())
	}
	c.Next()
	if got, _ := c.Current(); got != "b" {
		t.Fatalf("current = %q, want b after Next", got)
	}
	if c.Overridden() {
		t.Fatal("expected override cleared")
	}
}

func TestNewClampsIndex(t *testing.T) {
	if got := cycle.New([]int{1, 2}, 9).Index(); got != 1 {
		t.Fatalf("index = %d, want 1", got)
	}
	empty := cycle.New[int](nil, 3)
	if _, ok := empty.Current(); ok {
		t.Fatal("expected empty cycle to have no current value")
	}
}
