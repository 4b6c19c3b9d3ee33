package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/eventbus"
	"healthtimer/internal/state"
	"healthtimer/internal/storage"
	logx "healthtimer/pkg/logx"
)

// Event types published by the coordinator.
const (
	EventArmed    = "reminder.armed"
	EventDisarmed = "reminder.disarmed"
	EventFired    = "reminder.fired"
	EventSnoozed  = "reminder.snoozed"
	EventPaused   = "reminder.paused"
	EventResumed  = "reminder.resumed"
	EventChanged  = "reminder.changed"
)

// DefaultSnooze is the delay applied by Snooze.
const DefaultSnooze = 5 * time.Minute

// FireResult is the outcome of ReminderFired.
type FireResult int

const (
	NothingToDo FireResult = iota
	Advanced
)

func (r FireResult) String() string {
	if r == Advanced {
		return "advanced"
	}
	return "nothing_to_do"
}

// Settings are the hot-reloadable coordinator knobs.
type Settings struct {
	Hours          ActiveHours
	Snooze         time.Duration
	ReconcileGrace time.Duration
}

// Status is the read-only summary used for display.
type Status struct {
	ItemID       string
	Name         string
	Instructions string
	FireAt       time.Time
	// Armed is the reminder currently handed to delivery, which may be a
	// snooze for a different item.
	Armed *state.Armed
}

// ItemView joins a catalogue item with its resolved state.
type ItemView struct {
	catalog.Item
	State state.ItemState
}

// Coordinator drives the scheduler against the state store and the
// delivery side. All methods are safe for concurrent use; they are
// serialised internally.
type Coordinator struct {
	mu sync.Mutex

	store    *state.Store
	delivery Delivery
	bus      eventbus.Bus
	log      logx.Logger

	settings Settings
}

func NewCoordinator(store *state.Store, delivery Delivery, bus eventbus.Bus, log logx.Logger, s Settings) *Coordinator {
	if delivery == nil {
		delivery = NopDelivery{}
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		store:    store,
		delivery: delivery,
		bus:      bus,
		log:      log.With(logx.String("comp", "reminder")),
		settings: normalizeSettings(s),
	}
}

func normalizeSettings(s Settings) Settings {
	if s.Snooze <= 0 {
		s.Snooze = DefaultSnooze
	}
	if s.ReconcileGrace <= 0 {
		s.ReconcileGrace = 2 * time.Minute
	}
	if s.Hours.Location == nil {
		s.Hours.Location = time.Local
	}
	return s
}

// Apply swaps settings. Callers re-run ScheduleNext when the window moved.
func (c *Coordinator) Apply(s Settings) {
	c.mu.Lock()
	c.settings = normalizeSettings(s)
	c.mu.Unlock()
}

func (c *Coordinator) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Coordinator) Catalog() *catalog.Catalog { return c.store.Catalog() }

// ---- scheduling ----

// ScheduleNext arms the next reminder. It does nothing while paused. When
// no item is enabled or the active hours are inconsistent, any armed
// reminder is withdrawn and ok is false.
func (c *Coordinator) ScheduleNext(ctx context.Context, now time.Time) (state.Armed, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduleNextLocked(ctx, now)
}

func (c *Coordinator) scheduleNextLocked(ctx context.Context, now time.Time) (state.Armed, bool, error) {
	paused, err := c.store.Paused(ctx)
	if err != nil || paused {
		return state.Armed{}, false, err
	}

	states, err := c.store.Snapshot(ctx, now, true)
	if err != nil {
		return state.Armed{}, false, err
	}
	history, err := c.store.RecentHistory(ctx)
	if err != nil {
		return state.Armed{}, false, err
	}

	item, fireAt, ok := c.resolve(states, history, now)
	if !ok {
		if !c.settings.Hours.Valid() {
			c.log.Warn("active hours inconsistent; no reminder armed",
				logx.Int("start", c.settings.Hours.Start), logx.Int("end", c.settings.Hours.End))
		}
		return state.Armed{}, false, c.withdrawLocked(ctx)
	}

	a := state.Armed{ItemID: item.ID, FireAt: fireAt}
	c.armLocked(ctx, Alert{ItemID: item.ID, Name: item.Name, Instructions: item.Instructions, FireAt: fireAt})
	if err := c.store.SetArmed(ctx, a); err != nil {
		return state.Armed{}, false, err
	}
	c.log.Debug("reminder armed", logx.String("item", item.ID), logx.Time("fire_at", fireAt))
	c.bus.Publish(eventbus.Event{Type: EventArmed, Time: now, Data: a})
	return a, true, nil
}

// resolve computes the fire time (earliest due date, clamped to now and
// moved into active hours) and the item due at that moment.
func (c *Coordinator) resolve(states map[string]state.ItemState, history []string, now time.Time) (catalog.Item, time.Time, bool) {
	items := c.store.Catalog().Items()
	due, ok := NextDueDate(items, states, now)
	if !ok {
		return catalog.Item{}, time.Time{}, false
	}
	if due.Before(now) {
		due = now
	}
	fireAt, ok := c.settings.Hours.Next(due)
	if !ok {
		return catalog.Item{}, time.Time{}, false
	}
	item, ok := NextDueItem(items, states, history, fireAt)
	if !ok {
		return catalog.Item{}, time.Time{}, false
	}
	return item, fireAt, true
}

// armLocked replaces whatever delivery holds with a. Delivery failures
// are logged; the armed record is written regardless and the next cycle
// re-arms.
func (c *Coordinator) armLocked(ctx context.Context, a Alert) {
	if err := c.delivery.DisarmAll(ctx); err != nil {
		c.log.Warn("delivery disarm failed", logx.Err(err))
	}
	if err := c.delivery.Arm(ctx, a); err != nil {
		c.log.Warn("delivery arm failed", logx.Err(err), logx.String("item", a.ItemID))
	}
}

func (c *Coordinator) withdrawLocked(ctx context.Context) error {
	if err := c.delivery.DisarmAll(ctx); err != nil {
		c.log.Warn("delivery disarm failed", logx.Err(err))
	}
	if err := c.store.ClearArmed(ctx); err != nil {
		return err
	}
	c.bus.Publish(eventbus.Event{Type: EventDisarmed})
	return nil
}

// Pause withdraws the armed reminder and suppresses scheduling until
// Resume.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetPaused(ctx, true); err != nil {
		return err
	}
	if err := c.withdrawLocked(ctx); err != nil {
		return err
	}
	c.audit(ctx, "reminder.pause", "", nil)
	c.bus.Publish(eventbus.Event{Type: EventPaused})
	c.log.Info("reminders paused")
	return nil
}

// Resume clears the pause flag and schedules immediately.
func (c *Coordinator) Resume(ctx context.Context, now time.Time) (state.Armed, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetPaused(ctx, false); err != nil {
		return state.Armed{}, false, err
	}
	c.audit(ctx, "reminder.resume", "", nil)
	c.bus.Publish(eventbus.Event{Type: EventResumed, Time: now})
	c.log.Info("reminders resumed")
	return c.scheduleNextLocked(ctx, now)
}

func (c *Coordinator) Paused(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Paused(ctx)
}

// ReminderFired reconciles an observed firing into state. The item's
// lastFiredAt becomes the scheduled fire time, not now.
func (c *Coordinator) ReminderFired(ctx context.Context, now time.Time) (FireResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, _, err := c.reminderFiredLocked(ctx, now)
	return res, err
}

func (c *Coordinator) reminderFiredLocked(ctx context.Context, now time.Time) (FireResult, state.Armed, error) {
	paused, err := c.store.Paused(ctx)
	if err != nil || paused {
		return NothingToDo, state.Armed{}, err
	}
	a, ok, err := c.store.Armed(ctx)
	if err != nil || !ok || a.FireAt.After(now) {
		return NothingToDo, state.Armed{}, err
	}

	if err := c.store.MarkFired(ctx, a.ItemID, a.FireAt); err != nil {
		if errors.Is(err, state.ErrUnknownItem) {
			// item left the catalogue; drop the stale record
			c.log.Warn("armed reminder references unknown item", logx.String("item", a.ItemID))
			return NothingToDo, state.Armed{}, c.store.ClearArmed(ctx)
		}
		return NothingToDo, state.Armed{}, err
	}
	if err := c.store.PushHistory(ctx, a.ItemID); err != nil {
		return NothingToDo, state.Armed{}, err
	}
	if err := c.store.ClearArmed(ctx); err != nil {
		return NothingToDo, state.Armed{}, err
	}
	c.audit(ctx, "reminder.fired", a.ItemID, map[string]any{"fire_at": a.FireAt, "snooze": a.IsSnooze})
	c.bus.Publish(eventbus.Event{Type: EventFired, Time: now, Data: a})
	return Advanced, a, nil
}

// HandleAlarm is the delivery callback path: reconcile the firing, then
// arm the next reminder. It returns the alert that fired, if any.
func (c *Coordinator) HandleAlarm(ctx context.Context, now time.Time) (Alert, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, a, err := c.reminderFiredLocked(ctx, now)
	if err != nil {
		return Alert{}, false, err
	}
	var fired Alert
	if res == Advanced {
		it, _ := c.store.Catalog().Lookup(a.ItemID)
		fired = Alert{ItemID: a.ItemID, Name: it.Name, Instructions: it.Instructions, FireAt: a.FireAt, IsSnooze: a.IsSnooze}
	}
	if _, _, err := c.scheduleNextLocked(ctx, now); err != nil {
		return fired, res == Advanced, err
	}
	return fired, res == Advanced, nil
}

// Snooze arms itemID at now plus the snooze delay, bypassing due-based
// selection. Unknown ids and a paused coordinator are ignored.
func (c *Coordinator) Snooze(ctx context.Context, itemID string, now time.Time) (state.Armed, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.store.Catalog().Lookup(itemID)
	if !ok {
		c.log.Debug("snooze ignored: unknown item", logx.String("item", itemID))
		return state.Armed{}, false, nil
	}
	paused, err := c.store.Paused(ctx)
	if err != nil || paused {
		return state.Armed{}, false, err
	}

	a := state.Armed{ItemID: it.ID, FireAt: now.Add(c.settings.Snooze), IsSnooze: true}
	c.armLocked(ctx, Alert{ItemID: it.ID, Name: it.Name, Instructions: it.Instructions, FireAt: a.FireAt, IsSnooze: true})
	if err := c.store.SetArmed(ctx, a); err != nil {
		return state.Armed{}, false, err
	}
	c.audit(ctx, "reminder.snooze", it.ID, map[string]any{"fire_at": a.FireAt})
	c.bus.Publish(eventbus.Event{Type: EventSnoozed, Time: now, Data: a})
	return a, true, nil
}

// Acknowledge handles a user response to a delivered reminder. A
// non-snooze acknowledgement advances the round-robin cursor; lastFiredAt
// is left alone. Scheduling runs again either way. Unknown ids are ignored.
func (c *Coordinator) Acknowledge(ctx context.Context, itemID string, isSnooze bool, now time.Time) (state.Armed, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.store.Catalog().Lookup(itemID); !ok {
		c.log.Debug("ack ignored: unknown item", logx.String("item", itemID))
		return state.Armed{}, false, nil
	}

	if !isSnooze {
		n := c.store.Catalog().Len()
		if n > 0 {
			i, err := c.store.CurrentIndex(ctx)
			if err != nil {
				return state.Armed{}, false, err
			}
			if err := c.store.SetCurrentIndex(ctx, (i+1)%n); err != nil {
				return state.Armed{}, false, err
			}
		}
	}
	c.audit(ctx, "reminder.ack", itemID, map[string]any{"snooze": isSnooze})
	return c.scheduleNextLocked(ctx, now)
}

// CurrentItem returns the item at the round-robin cursor.
func (c *Coordinator) CurrentItem(ctx context.Context) (catalog.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.store.CurrentIndex(ctx)
	if err != nil {
		return catalog.Item{}, err
	}
	it, _ := c.store.Catalog().At(i)
	return it, nil
}

// NextDueItem evaluates the scheduler against persisted state, anchoring
// never-fired items first.
func (c *Coordinator) NextDueItem(ctx context.Context, now time.Time) (catalog.Item, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	states, err := c.store.Snapshot(ctx, now, true)
	if err != nil {
		return catalog.Item{}, false, err
	}
	history, err := c.store.RecentHistory(ctx)
	if err != nil {
		return catalog.Item{}, false, err
	}
	it, ok := NextDueItem(c.store.Catalog().Items(), states, history, now)
	return it, ok, nil
}

// NextDueDate is the state-aware counterpart of the package function.
func (c *Coordinator) NextDueDate(ctx context.Context, now time.Time) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	states, err := c.store.Snapshot(ctx, now, true)
	if err != nil {
		return time.Time{}, false, err
	}
	at, ok := NextDueDate(c.store.Catalog().Items(), states, now)
	return at, ok, nil
}

// Status reports the next reminder without writing anything. Never-fired
// items without an anchor are treated as anchored at now in memory only.
func (c *Coordinator) Status(ctx context.Context, now time.Time) (Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	paused, err := c.store.Paused(ctx)
	if err != nil || paused {
		return Status{}, false, err
	}
	states, err := c.store.Snapshot(ctx, now, false)
	if err != nil {
		return Status{}, false, err
	}
	for id, st := range states {
		if st.Enabled && st.LastFiredAt.IsZero() && st.AnchorAt.IsZero() {
			st.AnchorAt = now
			states[id] = st
		}
	}
	history, err := c.store.RecentHistory(ctx)
	if err != nil {
		return Status{}, false, err
	}
	item, fireAt, ok := c.resolve(states, history, now)
	if !ok {
		return Status{}, false, nil
	}
	out := Status{ItemID: item.ID, Name: item.Name, Instructions: item.Instructions, FireAt: fireAt}
	if a, ok, err := c.store.Armed(ctx); err == nil && ok {
		out.Armed = &a
	}
	return out, true, nil
}

// UpdateInterval changes an item's interval and reschedules.
func (c *Coordinator) UpdateInterval(ctx context.Context, itemID string, minutes int, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetInterval(ctx, itemID, minutes, now); err != nil {
		return err
	}
	c.audit(ctx, "item.interval", itemID, map[string]any{"minutes": minutes})
	c.bus.Publish(eventbus.Event{Type: EventChanged, Time: now, Data: itemID})
	_, _, err := c.scheduleNextLocked(ctx, now)
	return err
}

// UpdateEnabled toggles an item and reschedules.
func (c *Coordinator) UpdateEnabled(ctx context.Context, itemID string, enabled bool, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetEnabled(ctx, itemID, enabled, now); err != nil {
		return err
	}
	c.audit(ctx, "item.enabled", itemID, map[string]any{"enabled": enabled})
	c.bus.Publish(eventbus.Event{Type: EventChanged, Time: now, Data: itemID})
	_, _, err := c.scheduleNextLocked(ctx, now)
	return err
}

// Items lists the catalogue with resolved state. It does not anchor.
func (c *Coordinator) Items(ctx context.Context, now time.Time) ([]ItemView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	states, err := c.store.Snapshot(ctx, now, false)
	if err != nil {
		return nil, err
	}
	items := c.store.Catalog().Items()
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, ItemView{Item: it, State: states[it.ID]})
	}
	return out, nil
}

// Reconcile repairs drift between state and delivery: when active with
// no armed record, or with one older than the grace window (a delivery
// that never called back), it schedules again.
func (c *Coordinator) Reconcile(ctx context.Context, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	paused, err := c.store.Paused(ctx)
	if err != nil || paused {
		return false, err
	}
	a, ok, err := c.store.Armed(ctx)
	if err != nil {
		return false, err
	}
	if ok && !a.FireAt.Before(now.Add(-c.settings.ReconcileGrace)) {
		return false, nil
	}
	if ok {
		c.log.Warn("armed reminder overdue; rescheduling",
			logx.String("item", a.ItemID), logx.Time("fire_at", a.FireAt))
	}
	_, _, err = c.scheduleNextLocked(ctx, now)
	return err == nil, err
}

// ---- audit ----

type actorKey struct{}

// Actor identifies who triggered an operation in audit records.
type Actor struct {
	Source string
	ID     int64
}

// WithActor attaches an Actor to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func (c *Coordinator) audit(ctx context.Context, action, itemID string, meta map[string]any) {
	e := storage.AuditEntry{At: time.Now(), Action: action, ItemID: itemID}
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		e.Source, e.ActorID = a.Source, a.ID
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	if err := c.store.Audit(ctx, e); err != nil {
		c.log.Debug("audit append failed", logx.Err(err), logx.String("action", action))
	}
}
