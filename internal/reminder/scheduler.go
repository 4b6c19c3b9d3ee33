package reminder

import (
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/state"
)

// effectiveLastFired resolves the scheduling origin of an item: the real
// last firing, else the anchor. ok is false when neither is set.
func effectiveLastFired(st state.ItemState) (time.Time, bool) {
	if !st.LastFiredAt.IsZero() {
		return st.LastFiredAt, true
	}
	if !st.AnchorAt.IsZero() {
		return st.AnchorAt, true
	}
	return time.Time{}, false
}

func interval(it catalog.Item, st state.ItemState) time.Duration {
	m := st.IntervalMinutes
	if m <= 0 {
		m = it.DefaultIntervalMinutes
	}
	return time.Duration(m) * time.Minute
}

type candidate struct {
	item    catalog.Item
	overdue time.Duration
}

// NextDueItem picks the item to remind about at now.
//
// Disabled items and items without a state entry or a resolvable origin
// are skipped. Among items whose overdue amount is >= 0, those not in
// history are preferred; if all due items were recently fired, all are
// considered. The most overdue wins and ties go to catalogue order.
func NextDueItem(items []catalog.Item, states map[string]state.ItemState, history []string, now time.Time) (catalog.Item, bool) {
	var due []candidate
	for _, it := range items {
		st, ok := states[it.ID]
		if !ok || !st.Enabled {
			continue
		}
		last, ok := effectiveLastFired(st)
		if !ok {
			continue
		}
		overdue := now.Sub(last) - interval(it, st)
		if overdue >= 0 {
			due = append(due, candidate{item: it, overdue: overdue})
		}
	}
	if len(due) == 0 {
		return catalog.Item{}, false
	}

	recent := make(map[string]struct{}, len(history))
	for _, id := range history {
		recent[id] = struct{}{}
	}
	fresh := make([]candidate, 0, len(due))
	for _, c := range due {
		if _, seen := recent[c.item.ID]; !seen {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) > 0 {
		due = fresh
	}

	best := due[0]
	for _, c := range due[1:] {
		if c.overdue > best.overdue {
			best = c
		}
	}
	return best.item, true
}

// NextDueDate returns the earliest moment any enabled item becomes due,
// independent of the anti-repeat policy.
func NextDueDate(items []catalog.Item, states map[string]state.ItemState, now time.Time) (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, it := range items {
		st, ok := states[it.ID]
		if !ok || !st.Enabled {
			continue
		}
		last, ok := effectiveLastFired(st)
		if !ok {
			continue
		}
		at := last.Add(interval(it, st))
		if !found || at.Before(next) {
			next, found = at, true
		}
	}
	return next, found
}
