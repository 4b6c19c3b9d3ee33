// Package catalog holds the fixed set of reminder items known at startup.
package catalog

import "strings"

// FallbackInstructions is shown for ids that are not in the catalogue.
const FallbackInstructions = "Instructions unavailable."

// Item is an immutable reminder definition.
type Item struct {
	ID                     string
	Name                   string
	Instructions           string
	DefaultIntervalMinutes int
}

// Catalog is an ordered, read-only list of items. Order is significant:
// it breaks ties between equally overdue items and drives the round-robin
// cursor.
type Catalog struct {
	items []Item
	index map[string]int
}

// New builds a catalogue from items. Blank ids and duplicates are dropped,
// keeping the first occurrence. Items with a non-positive default interval
// get fallbackMinutes.
func New(items []Item, fallbackMinutes int) *Catalog {
	c := &Catalog{index: make(map[string]int, len(items))}
	for _, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		if it.ID == "" {
			continue
		}
		if _, dup := c.index[it.ID]; dup {
			continue
		}
		if it.DefaultIntervalMinutes <= 0 {
			it.DefaultIntervalMinutes = fallbackMinutes
		}
		c.index[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return c
}

// Default returns the compiled-in catalogue.
func Default() *Catalog { return New(defaultItems, 30) }

// DefaultItems returns a copy of the compiled-in items, for callers that
// build the catalogue with their own fallback interval.
func DefaultItems() []Item { return append([]Item(nil), defaultItems...) }

// Items returns a copy of the catalogue in order.
func (c *Catalog) Items() []Item {
	if c == nil {
		return nil
	}
	return append([]Item(nil), c.items...)
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// At returns the item at position i.
func (c *Catalog) At(i int) (Item, bool) {
	if c == nil || i < 0 || i >= len(c.items) {
		return Item{}, false
	}
	return c.items[i], true
}

// Lookup resolves an id.
func (c *Catalog) Lookup(id string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	i, ok := c.index[strings.TrimSpace(id)]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Position returns the catalogue index of id, or -1.
func (c *Catalog) Position(id string) int {
	if c == nil {
		return -1
	}
	if i, ok := c.index[strings.TrimSpace(id)]; ok {
		return i
	}
	return -1
}

// InstructionText returns the instructions for id, or FallbackInstructions.
func (c *Catalog) InstructionText(id string) string {
	if it, ok := c.Lookup(id); ok {
		return it.Instructions
	}
	return FallbackInstructions
}

// IDs lists the item ids in order.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.items))
	for i, it := range c.items {
		out[i] = it.ID
	}
	return out
}
