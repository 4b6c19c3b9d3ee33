package catalog

import "testing"

func TestDefaultCatalogue(t *testing.T) {
	t.Parallel()

	c := Default()
	if c.Len() != 7 {
		t.Fatalf("Len() = %d, want 7", c.Len())
	}
	first, _ := c.At(0)
	if first.ID != "ankle-circles" {
		t.Fatalf("At(0) = %q, want ankle-circles", first.ID)
	}
	h, ok := c.Lookup("hydration")
	if !ok || h.DefaultIntervalMinutes != 60 {
		t.Fatalf("Lookup(hydration) = %+v, %v", h, ok)
	}
	for _, it := range c.Items() {
		if it.DefaultIntervalMinutes <= 0 || it.Name == "" || it.Instructions == "" {
			t.Fatalf("incomplete item: %+v", it)
		}
	}
}

func TestNewDropsDuplicatesAndAppliesFallback(t *testing.T) {
	t.Parallel()

	c := New([]Item{
		{ID: "a", Name: "A"},
		{ID: " ", Name: "blank"},
		{ID: "b", Name: "B", DefaultIntervalMinutes: 5},
		{ID: "a", Name: "A2", DefaultIntervalMinutes: 9},
	}, 45)

	if got := c.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("IDs() = %v, want [a b]", got)
	}
	a, _ := c.Lookup("a")
	if a.Name != "A" || a.DefaultIntervalMinutes != 45 {
		t.Fatalf("Lookup(a) = %+v", a)
	}
	if c.Position("b") != 1 || c.Position("zzz") != -1 {
		t.Fatalf("Position mismatch")
	}
}

func TestInstructionText(t *testing.T) {
	t.Parallel()

	c := New([]Item{{ID: "x", Instructions: "do x"}}, 10)
	if got := c.InstructionText("x"); got != "do x" {
		t.Fatalf("InstructionText(x) = %q", got)
	}
	if got := c.InstructionText("missing"); got != FallbackInstructions {
		t.Fatalf("InstructionText(missing) = %q, want %q", got, FallbackInstructions)
	}
}

func TestNilCatalogue(t *testing.T) {
	t.Parallel()

	var c *Catalog
	if c.Len() != 0 || c.Items() != nil {
		t.Fatalf("nil catalogue should be empty")
	}
	if _, ok := c.Lookup("a"); ok {
		t.Fatalf("nil catalogue Lookup succeeded")
	}
}
