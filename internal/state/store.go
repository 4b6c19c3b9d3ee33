// Package state is the typed, durable view of per-item reminder state and
// the global reminder flags. It is the only package that knows the storage
// key layout.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/storage"
)

var (
	ErrUnknownItem     = errors.New("unknown reminder item")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// HistorySize bounds the recent-fired list.
const HistorySize = 2

const (
	keyPaused       = "remindersPaused"
	keyHistory      = "recentHistory"
	keyArmedItem    = "armedReminder.itemId"
	keyArmedAt      = "armedReminder.fireDate"
	keyArmedSnooze  = "armedReminder.isSnooze"
	keyCurrentIndex = "currentExerciseIndex"
)

func itemKey(id, field string) string { return "item." + id + "." + field }

// ItemState is the resolved state of one item. Zero times mean unset.
type ItemState struct {
	IntervalMinutes int
	Enabled         bool
	LastFiredAt     time.Time
	AnchorAt        time.Time
}

// Interval returns the interval as a duration.
func (s ItemState) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Armed is the single reminder currently handed to the delivery side.
type Armed struct {
	ItemID   string
	FireAt   time.Time
	IsSnooze bool
}

// Store reads and writes reminder state through a storage.Store.
//
// Writes are individually durable; callers needing multi-key atomicity
// serialise through the reminder coordinator.
type Store struct {
	kv  storage.Store
	cat *catalog.Catalog

	// guards read-modify-write sequences (history push, anchoring)
	mu sync.Mutex
}

func New(kv storage.Store, cat *catalog.Catalog) *Store {
	return &Store{kv: kv, cat: cat}
}

func (s *Store) Catalog() *catalog.Catalog { return s.cat }

func (s *Store) item(id string) (catalog.Item, error) {
	it, ok := s.cat.Lookup(id)
	if !ok {
		return catalog.Item{}, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	return it, nil
}

// ---- raw codec ----

func (s *Store) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("state get %s: %w", key, err)
	}
	if !ok || len(b) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// Corrupt values read as absent so defaults apply.
		return false, nil
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, key, b); err != nil {
		return fmt.Errorf("state put %s: %w", key, err)
	}
	return nil
}

func (s *Store) del(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("state delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) getTime(ctx context.Context, key string) (time.Time, error) {
	var raw string
	ok, err := s.getJSON(ctx, key, &raw)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (s *Store) putTime(ctx context.Context, key string, t time.Time) error {
	return s.putJSON(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// ---- per item ----

// Interval returns the stored interval or the item's default.
func (s *Store) Interval(ctx context.Context, id string) (int, error) {
	it, err := s.item(id)
	if err != nil {
		return 0, err
	}
	var m int
	ok, err := s.getJSON(ctx, itemKey(id, "intervalMinutes"), &m)
	if err != nil {
		return 0, err
	}
	if !ok || m <= 0 {
		return it.DefaultIntervalMinutes, nil
	}
	return m, nil
}

// SetInterval stores minutes. A never-fired item is anchored at now when it
// has no anchor or the interval actually changed.
func (s *Store) SetInterval(ctx context.Context, id string, minutes int, now time.Time) error {
	if _, err := s.item(id); err != nil {
		return err
	}
	if minutes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, minutes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.Interval(ctx, id)
	if err != nil {
		return err
	}
	if err := s.putJSON(ctx, itemKey(id, "intervalMinutes"), minutes); err != nil {
		return err
	}
	return s.anchorLocked(ctx, id, now, prev != minutes)
}

// Enabled returns the stored flag; items are enabled by default.
func (s *Store) Enabled(ctx context.Context, id string) (bool, error) {
	if _, err := s.item(id); err != nil {
		return false, err
	}
	var v bool
	ok, err := s.getJSON(ctx, itemKey(id, "enabled"), &v)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return v, nil
}

// SetEnabled stores the flag. Enabling a disabled never-fired item
// anchors it afresh at now, so it does not come back already overdue.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) error {
	if _, err := s.item(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.Enabled(ctx, id)
	if err != nil {
		return err
	}
	if err := s.putJSON(ctx, itemKey(id, "enabled"), enabled); err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	return s.anchorLocked(ctx, id, now, !prev)
}

func (s *Store) LastFiredAt(ctx context.Context, id string) (time.Time, error) {
	if _, err := s.item(id); err != nil {
		return time.Time{}, err
	}
	return s.getTime(ctx, itemKey(id, "lastFiredAt"))
}

// MarkFired records a firing at t and drops the anchor.
func (s *Store) MarkFired(ctx context.Context, id string, t time.Time) error {
	if _, err := s.item(id); err != nil {
		return err
	}
	if err := s.putTime(ctx, itemKey(id, "lastFiredAt"), t); err != nil {
		return err
	}
	return s.del(ctx, itemKey(id, "anchorAt"))
}

func (s *Store) Anchor(ctx context.Context, id string) (time.Time, error) {
	if _, err := s.item(id); err != nil {
		return time.Time{}, err
	}
	return s.getTime(ctx, itemKey(id, "anchorAt"))
}

func (s *Store) SetAnchor(ctx context.Context, id string, t time.Time) error {
	if _, err := s.item(id); err != nil {
		return err
	}
	return s.putTime(ctx, itemKey(id, "anchorAt"), t)
}

func (s *Store) ClearAnchor(ctx context.Context, id string) error {
	if _, err := s.item(id); err != nil {
		return err
	}
	return s.del(ctx, itemKey(id, "anchorAt"))
}

// anchorLocked anchors a never-fired item at now. An existing anchor is
// replaced only when reset is set.
func (s *Store) anchorLocked(ctx context.Context, id string, now time.Time, reset bool) error {
	last, err := s.getTime(ctx, itemKey(id, "lastFiredAt"))
	if err != nil || !last.IsZero() {
		return err
	}
	if !reset {
		anchor, err := s.getTime(ctx, itemKey(id, "anchorAt"))
		if err != nil || !anchor.IsZero() {
			return err
		}
	}
	return s.putTime(ctx, itemKey(id, "anchorAt"), now)
}

// Item returns the resolved state of one item.
func (s *Store) Item(ctx context.Context, id string) (ItemState, error) {
	var st ItemState
	var err error
	if st.IntervalMinutes, err = s.Interval(ctx, id); err != nil {
		return ItemState{}, err
	}
	if st.Enabled, err = s.Enabled(ctx, id); err != nil {
		return ItemState{}, err
	}
	if st.LastFiredAt, err = s.LastFiredAt(ctx, id); err != nil {
		return ItemState{}, err
	}
	if st.AnchorAt, err = s.Anchor(ctx, id); err != nil {
		return ItemState{}, err
	}
	return st, nil
}

// Snapshot resolves every catalogue item. With anchor set, enabled items
// that never fired and have no anchor are anchored at now and persisted,
// so repeated snapshots see the same effective last-fired time.
func (s *Store) Snapshot(ctx context.Context, now time.Time, anchor bool) (map[string]ItemState, error) {
	out := make(map[string]ItemState, s.cat.Len())
	for _, it := range s.cat.Items() {
		st, err := s.Item(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		if anchor && st.Enabled && st.LastFiredAt.IsZero() && st.AnchorAt.IsZero() {
			if err := s.SetAnchor(ctx, it.ID, now); err != nil {
				return nil, err
			}
			st.AnchorAt = now
		}
		out[it.ID] = st
	}
	return out, nil
}

// ---- global ----

func (s *Store) Paused(ctx context.Context) (bool, error) {
	var v bool
	_, err := s.getJSON(ctx, keyPaused, &v)
	return v, err
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	return s.putJSON(ctx, keyPaused, paused)
}

// RecentHistory returns the most recently fired ids, most recent last.
func (s *Store) RecentHistory(ctx context.Context) ([]string, error) {
	var h []string
	if _, err := s.getJSON(ctx, keyHistory, &h); err != nil {
		return nil, err
	}
	if len(h) > HistorySize {
		h = h[len(h)-HistorySize:]
	}
	return h, nil
}

// PushHistory moves id to the end of the history, dropping the oldest
// entries beyond HistorySize.
func (s *Store) PushHistory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.RecentHistory(ctx)
	if err != nil {
		return err
	}
	next := make([]string, 0, HistorySize+1)
	for _, v := range h {
		if v != id {
			next = append(next, v)
		}
	}
	next = append(next, id)
	if len(next) > HistorySize {
		next = next[len(next)-HistorySize:]
	}
	return s.putJSON(ctx, keyHistory, next)
}

// Armed returns the recorded armed reminder, if any.
func (s *Store) Armed(ctx context.Context) (Armed, bool, error) {
	var id string
	ok, err := s.getJSON(ctx, keyArmedItem, &id)
	if err != nil || !ok || id == "" {
		return Armed{}, false, err
	}
	at, err := s.getTime(ctx, keyArmedAt)
	if err != nil || at.IsZero() {
		return Armed{}, false, err
	}
	var snooze bool
	if _, err := s.getJSON(ctx, keyArmedSnooze, &snooze); err != nil {
		return Armed{}, false, err
	}
	return Armed{ItemID: id, FireAt: at, IsSnooze: snooze}, true, nil
}

// SetArmed records a; the time is written before the id so a reader never
// sees an id paired with a stale time from a previous arming.
func (s *Store) SetArmed(ctx context.Context, a Armed) error {
	if err := s.del(ctx, keyArmedItem); err != nil {
		return err
	}
	if err := s.putTime(ctx, keyArmedAt, a.FireAt); err != nil {
		return err
	}
	if err := s.putJSON(ctx, keyArmedSnooze, a.IsSnooze); err != nil {
		return err
	}
	return s.putJSON(ctx, keyArmedItem, a.ItemID)
}

func (s *Store) ClearArmed(ctx context.Context) error {
	if err := s.del(ctx, keyArmedItem); err != nil {
		return err
	}
	if err := s.del(ctx, keyArmedSnooze); err != nil {
		return err
	}
	return s.del(ctx, keyArmedAt)
}

// CurrentIndex returns the round-robin cursor; out-of-range values read as 0.
func (s *Store) CurrentIndex(ctx context.Context) (int, error) {
	var i int
	if _, err := s.getJSON(ctx, keyCurrentIndex, &i); err != nil {
		return 0, err
	}
	if i < 0 || i >= s.cat.Len() {
		return 0, nil
	}
	return i, nil
}

func (s *Store) SetCurrentIndex(ctx context.Context, i int) error {
	return s.putJSON(ctx, keyCurrentIndex, i)
}

// Audit appends an audit record; failures are returned for logging only.
func (s *Store) Audit(ctx context.Context, e storage.AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.kv.AppendAudit(ctx, e)
}
