package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/eventbus"
	"healthtimer/internal/state"
	"healthtimer/internal/storage"
	logx "healthtimer/pkg/logx"
)

type fakeDelivery struct {
	mu      sync.Mutex
	armed   []Alert
	disarms int
	failArm error
	current *Alert
}

func (f *fakeDelivery) Arm(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = append(f.armed, a)
	if f.failArm != nil {
		return f.failArm
	}
	f.current = &a
	return nil
}

func (f *fakeDelivery) DisarmAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarms++
	f.current = nil
	return nil
}

func (f *fakeDelivery) pending() *Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

type harness struct {
	c     *Coordinator
	store *state.Store
	kv    *storage.Memory
	d     *fakeDelivery
	bus   eventbus.Bus
}

func newHarness(t *testing.T, defs ...catalog.Item) harness {
	t.Helper()
	if len(defs) == 0 {
		defs = []catalog.Item{
			{ID: "a", Name: "A", Instructions: "do a", DefaultIntervalMinutes: 15},
			{ID: "b", Name: "B", Instructions: "do b", DefaultIntervalMinutes: 30},
		}
	}
	kv := storage.NewMemory()
	st := state.New(kv, catalog.New(defs, 30))
	d := &fakeDelivery{}
	bus := eventbus.New()
	c := NewCoordinator(st, d, bus, logx.Nop(), Settings{
		Hours: ActiveHours{Start: 9, End: 17, Location: time.UTC},
	})
	return harness{c: c, store: st, kv: kv, d: d, bus: bus}
}

func TestScheduleNextArmsEarliestDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	ev, unsub := h.bus.Subscribe(4, EventArmed)
	defer unsub()

	a, ok, err := h.c.ScheduleNext(ctx, t0)
	if err != nil || !ok {
		t.Fatalf("ScheduleNext = %v, %v", ok, err)
	}
	want := t0.Add(15 * time.Minute)
	if a.ItemID != "a" || !a.FireAt.Equal(want) {
		t.Fatalf("armed %+v, want a at %v", a, want)
	}
	p := h.d.pending()
	if p == nil || p.ItemID != "a" || p.Name != "A" || p.Instructions != "do a" || p.Title() != "Time for: A" {
		t.Fatalf("delivery holds %+v", p)
	}
	rec, ok, _ := h.store.Armed(ctx)
	if !ok || rec.ItemID != "a" || !rec.FireAt.Equal(want) {
		t.Fatalf("armed record %+v, %v", rec, ok)
	}
	select {
	case e := <-ev:
		if e.Type != EventArmed {
			t.Fatalf("event %q", e.Type)
		}
	default:
		t.Fatalf("no armed event published")
	}
}

func TestAnchorStability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	first, ok, err := h.c.NextDueDate(ctx, t0)
	if err != nil || !ok {
		t.Fatalf("NextDueDate: %v, %v", ok, err)
	}
	second, _, _ := h.c.NextDueDate(ctx, t0.Add(7*time.Minute))
	if !first.Equal(second) {
		t.Fatalf("due date drifted: %v then %v", first, second)
	}
	if _, ok, _ := h.c.NextDueItem(ctx, t0.Add(7*time.Minute)); ok {
		t.Fatalf("item due before its interval elapsed")
	}
	it, ok, _ := h.c.NextDueItem(ctx, t0.Add(15*time.Minute))
	if !ok || it.ID != "a" {
		t.Fatalf("NextDueItem at interval = %q, %v", it.ID, ok)
	}
}

func TestOverdueDueDateClampedToNow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_ = h.store.MarkFired(ctx, "a", t0.Add(-2*time.Hour))
	_ = h.store.MarkFired(ctx, "b", t0.Add(-time.Hour))
	a, ok, err := h.c.ScheduleNext(ctx, t0)
	if err != nil || !ok {
		t.Fatalf("ScheduleNext: %v, %v", ok, err)
	}
	if !a.FireAt.Equal(t0) || a.ItemID != "a" {
		t.Fatalf("armed %+v, want a at now", a)
	}
}

func TestScheduleNextRollsIntoActiveHours(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	late := time.Date(2026, 3, 2, 16, 55, 0, 0, time.UTC)
	a, ok, err := h.c.ScheduleNext(ctx, late)
	if err != nil || !ok {
		t.Fatalf("ScheduleNext: %v, %v", ok, err)
	}
	want := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if !a.FireAt.Equal(want) {
		t.Fatalf("fire at %v, want %v", a.FireAt, want)
	}

	early := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	h2 := newHarness(t)
	a, _, _ = h2.c.ScheduleNext(ctx, early)
	if want := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC); !a.FireAt.Equal(want) {
		t.Fatalf("early fire at %v, want %v", a.FireAt, want)
	}
}

func TestInvalidHoursWithdrawReminder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	if _, ok, _ := h.c.ScheduleNext(ctx, t0); !ok {
		t.Fatalf("initial schedule failed")
	}
	h.c.Apply(Settings{Hours: ActiveHours{Start: 17, End: 9, Location: time.UTC}})
	if _, ok, err := h.c.ScheduleNext(ctx, t0); ok || err != nil {
		t.Fatalf("ScheduleNext with inverted hours = %v, %v", ok, err)
	}
	if h.d.pending() != nil {
		t.Fatalf("delivery still armed")
	}
	if _, ok, _ := h.store.Armed(ctx); ok {
		t.Fatalf("armed record kept")
	}
	if _, ok, _ := h.c.Status(ctx, t0); ok {
		t.Fatalf("Status reported a reminder with inverted hours")
	}
}

func TestAllDisabledArmsNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_ = h.c.UpdateEnabled(ctx, "a", false, t0)
	_ = h.c.UpdateEnabled(ctx, "b", false, t0)
	if _, ok, _ := h.c.ScheduleNext(ctx, t0); ok {
		t.Fatalf("armed with every item disabled")
	}
	if h.d.pending() != nil {
		t.Fatalf("delivery still armed")
	}
}

func TestPauseSuppressesEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_, _, _ = h.c.ScheduleNext(ctx, t0)
	if err := h.c.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if h.d.pending() != nil {
		t.Fatalf("delivery armed after pause")
	}
	if _, ok, _ := h.store.Armed(ctx); ok {
		t.Fatalf("armed record kept after pause")
	}

	// a stale past armed record must still be ignored while paused
	_ = h.store.SetArmed(ctx, state.Armed{ItemID: "a", FireAt: t0})
	res, err := h.c.ReminderFired(ctx, t0.Add(time.Hour))
	if err != nil || res != NothingToDo {
		t.Fatalf("ReminderFired while paused = %v, %v", res, err)
	}
	if last, _ := h.store.LastFiredAt(ctx, "a"); !last.IsZero() {
		t.Fatalf("lastFiredAt written while paused")
	}
	if _, ok, _ := h.c.Status(ctx, t0); ok {
		t.Fatalf("Status reported while paused")
	}
	if _, ok, _ := h.c.ScheduleNext(ctx, t0); ok {
		t.Fatalf("ScheduleNext armed while paused")
	}
	if _, ok, _ := h.c.Snooze(ctx, "a", t0); ok {
		t.Fatalf("Snooze armed while paused")
	}

	a, ok, err := h.c.Resume(ctx, t0.Add(time.Minute))
	if err != nil || !ok || a.ItemID == "" {
		t.Fatalf("Resume = %+v, %v, %v", a, ok, err)
	}
	if p, _ := h.c.Paused(ctx); p {
		t.Fatalf("still paused after Resume")
	}
}

func TestReminderFiredUsesScheduledTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	a, _, _ := h.c.ScheduleNext(ctx, t0)

	if res, _ := h.c.ReminderFired(ctx, a.FireAt.Add(-time.Second)); res != NothingToDo {
		t.Fatalf("early ReminderFired = %v", res)
	}

	observed := a.FireAt.Add(3 * time.Minute)
	res, err := h.c.ReminderFired(ctx, observed)
	if err != nil || res != Advanced {
		t.Fatalf("ReminderFired = %v, %v", res, err)
	}
	st, _ := h.store.Item(ctx, a.ItemID)
	if !st.LastFiredAt.Equal(a.FireAt) {
		t.Fatalf("lastFiredAt = %v, want scheduled %v", st.LastFiredAt, a.FireAt)
	}
	if !st.AnchorAt.IsZero() {
		t.Fatalf("anchor survived firing")
	}
	if hist, _ := h.store.RecentHistory(ctx); len(hist) != 1 || hist[0] != a.ItemID {
		t.Fatalf("history = %v", hist)
	}
	if _, ok, _ := h.store.Armed(ctx); ok {
		t.Fatalf("armed record kept after firing")
	}
	if res, _ := h.c.ReminderFired(ctx, observed); res != NothingToDo {
		t.Fatalf("second ReminderFired = %v", res)
	}
}

func TestSnoozeBypassesSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_, _, _ = h.c.ScheduleNext(ctx, t0)
	a, ok, err := h.c.Snooze(ctx, "b", t0)
	if err != nil || !ok {
		t.Fatalf("Snooze: %v, %v", ok, err)
	}
	if a.ItemID != "b" || !a.FireAt.Equal(t0.Add(300*time.Second)) || !a.IsSnooze {
		t.Fatalf("snoozed %+v", a)
	}
	if p := h.d.pending(); p == nil || p.ItemID != "b" || !p.IsSnooze {
		t.Fatalf("delivery holds %+v", p)
	}
	if last, _ := h.store.LastFiredAt(ctx, "b"); !last.IsZero() {
		t.Fatalf("snooze touched lastFiredAt")
	}
	if hist, _ := h.store.RecentHistory(ctx); len(hist) != 0 {
		t.Fatalf("snooze touched history: %v", hist)
	}

	if _, ok, err := h.c.Snooze(ctx, "nope", t0); ok || err != nil {
		t.Fatalf("Snooze(unknown) = %v, %v", ok, err)
	}
}

func TestDeliveryFailureStillRecordsArmed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.d.failArm = errors.New("notification center unavailable")

	a, ok, err := h.c.ScheduleNext(ctx, t0)
	if err != nil || !ok {
		t.Fatalf("ScheduleNext: %v, %v", ok, err)
	}
	rec, ok, _ := h.store.Armed(ctx)
	if !ok || rec.ItemID != a.ItemID {
		t.Fatalf("armed record missing after delivery failure")
	}
}

func TestStatusHasNoSideEffects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	s, ok, err := h.c.Status(ctx, t0)
	if err != nil || !ok {
		t.Fatalf("Status: %v, %v", ok, err)
	}
	if s.ItemID != "a" || s.Name != "A" || !s.FireAt.Equal(t0.Add(15*time.Minute)) {
		t.Fatalf("Status = %+v", s)
	}
	if s.Armed != nil {
		t.Fatalf("Status reports armed %+v with nothing armed", s.Armed)
	}
	for _, id := range []string{"a", "b"} {
		if at, _ := h.store.Anchor(ctx, id); !at.IsZero() {
			t.Fatalf("Status persisted anchor for %s", id)
		}
	}
	if len(h.d.armed) != 0 {
		t.Fatalf("Status armed delivery")
	}
	if len(h.kv.Audit()) != 0 {
		t.Fatalf("Status wrote audit entries")
	}
}

func TestAcknowledgeAdvancesRoundRobin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	cur, _ := h.c.CurrentItem(ctx)
	if cur.ID != "a" {
		t.Fatalf("CurrentItem = %q, want a", cur.ID)
	}
	if _, _, err := h.c.Acknowledge(ctx, "a", true, t0); err != nil {
		t.Fatalf("Acknowledge(snooze): %v", err)
	}
	if cur, _ = h.c.CurrentItem(ctx); cur.ID != "a" {
		t.Fatalf("snooze ack advanced cursor to %q", cur.ID)
	}
	for _, want := range []string{"b", "a"} {
		if _, _, err := h.c.Acknowledge(ctx, cur.ID, false, t0); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		if cur, _ = h.c.CurrentItem(ctx); cur.ID != want {
			t.Fatalf("CurrentItem = %q, want %q", cur.ID, want)
		}
	}

	audits := len(h.kv.Audit())
	if _, ok, err := h.c.Acknowledge(ctx, "nope", false, t0); err != nil || ok {
		t.Fatalf("Acknowledge(unknown) = %v, %v", ok, err)
	}
	if cur, _ = h.c.CurrentItem(ctx); cur.ID != "a" {
		t.Fatalf("unknown ack moved cursor to %q", cur.ID)
	}
	if n := len(h.kv.Audit()); n != audits {
		t.Fatalf("unknown ack wrote %d audit entries", n-audits)
	}
	if last, _ := h.store.LastFiredAt(ctx, "a"); !last.IsZero() {
		t.Fatalf("Acknowledge touched lastFiredAt")
	}
	if h.d.pending() == nil {
		t.Fatalf("Acknowledge did not reschedule")
	}
}

func TestHandleAlarmFiresAndRearms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	a, _, _ := h.c.ScheduleNext(ctx, t0)
	fired, ok, err := h.c.HandleAlarm(ctx, a.FireAt)
	if err != nil || !ok {
		t.Fatalf("HandleAlarm: %v, %v", ok, err)
	}
	if fired.ItemID != "a" || fired.Instructions != "do a" || !fired.FireAt.Equal(a.FireAt) {
		t.Fatalf("fired %+v", fired)
	}
	next, ok, _ := h.store.Armed(ctx)
	if !ok {
		t.Fatalf("nothing re-armed after firing")
	}
	// b anchored at t0 is due at t0+30m, a again at t0+30m; b wins on anti-repeat
	if next.ItemID != "b" || !next.FireAt.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("next armed %+v", next)
	}
}

func TestSnoozedFiringCountsAsFired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	s, _, _ := h.c.Snooze(ctx, "b", t0)
	fired, ok, err := h.c.HandleAlarm(ctx, s.FireAt)
	if err != nil || !ok || !fired.IsSnooze || fired.ItemID != "b" {
		t.Fatalf("HandleAlarm = %+v, %v, %v", fired, ok, err)
	}
	if last, _ := h.store.LastFiredAt(ctx, "b"); !last.Equal(s.FireAt) {
		t.Fatalf("lastFiredAt = %v, want %v", last, s.FireAt)
	}
}

func TestReenabledItemIsNotOverdue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_, _, _ = h.c.ScheduleNext(ctx, t0)
	_ = h.c.UpdateEnabled(ctx, "a", false, t0.Add(time.Minute))
	_ = h.c.UpdateEnabled(ctx, "b", false, t0.Add(time.Minute))

	back := t0.Add(5 * time.Hour)
	if err := h.c.UpdateEnabled(ctx, "b", true, back); err != nil {
		t.Fatalf("UpdateEnabled: %v", err)
	}
	if at, _ := h.store.Anchor(ctx, "b"); !at.Equal(back) {
		t.Fatalf("anchor(b) = %v, want %v", at, back)
	}
	a, ok, _ := h.store.Armed(ctx)
	if !ok || a.ItemID != "b" || !a.FireAt.Equal(back.Add(30*time.Minute)) {
		t.Fatalf("armed %+v, want b at %v", a, back.Add(30*time.Minute))
	}

	// the anchor holds across later scheduling passes
	if _, _, err := h.c.ScheduleNext(ctx, back.Add(10*time.Minute)); err != nil {
		t.Fatalf("ScheduleNext: %v", err)
	}
	if at, _ := h.store.Anchor(ctx, "b"); !at.Equal(back) {
		t.Fatalf("anchor(b) moved to %v", at)
	}
}

func TestUpdateIntervalReschedules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_, _, _ = h.c.ScheduleNext(ctx, t0)
	if err := h.c.UpdateInterval(ctx, "b", 5, t0.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateInterval: %v", err)
	}
	a, ok, _ := h.store.Armed(ctx)
	// the interval change re-anchors never-fired b at t0+1m
	if !ok || a.ItemID != "b" || !a.FireAt.Equal(t0.Add(6*time.Minute)) {
		t.Fatalf("armed %+v after interval change", a)
	}
	if err := h.c.UpdateInterval(ctx, "b", 0, t0); !errors.Is(err, state.ErrInvalidInterval) {
		t.Fatalf("UpdateInterval(0) err = %v", err)
	}
	if err := h.c.UpdateEnabled(ctx, "nope", true, t0); !errors.Is(err, state.ErrUnknownItem) {
		t.Fatalf("UpdateEnabled(unknown) err = %v", err)
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	did, err := h.c.Reconcile(ctx, t0)
	if err != nil || !did {
		t.Fatalf("Reconcile with nothing armed = %v, %v", did, err)
	}
	a, _, _ := h.store.Armed(ctx)

	if did, _ := h.c.Reconcile(ctx, a.FireAt.Add(time.Minute)); did {
		t.Fatalf("Reconcile rescheduled within grace")
	}
	did, _ = h.c.Reconcile(ctx, a.FireAt.Add(10*time.Minute))
	if !did {
		t.Fatalf("Reconcile ignored a stale armed reminder")
	}
	re, _, _ := h.store.Armed(ctx)
	if !re.FireAt.Equal(a.FireAt.Add(10 * time.Minute)) {
		t.Fatalf("rescheduled at %v", re.FireAt)
	}
}

func TestItemsView(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_ = h.c.UpdateInterval(ctx, "a", 20, t0)
	views, err := h.c.Items(ctx, t0)
	if err != nil || len(views) != 2 {
		t.Fatalf("Items = %v, %v", views, err)
	}
	if views[0].ID != "a" || views[0].State.IntervalMinutes != 20 || !views[1].State.Enabled {
		t.Fatalf("Items = %+v", views)
	}
}

func TestStoreFailureAbortsOperation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_ = h.kv.Close()

	if _, _, err := h.c.ScheduleNext(ctx, t0); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("ScheduleNext err = %v", err)
	}
	if _, err := h.c.ReminderFired(ctx, t0); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("ReminderFired err = %v", err)
	}
}

type failPutKV struct {
	*storage.Memory
	key string
}

func (f *failPutKV) Put(ctx context.Context, key string, value []byte) error {
	if key == f.key {
		return errors.New("disk full")
	}
	return f.Memory.Put(ctx, key, value)
}

func TestPauseWriteFailureKeepsReminderArmed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := &failPutKV{Memory: storage.NewMemory(), key: "remindersPaused"}
	st := state.New(kv, catalog.New([]catalog.Item{{ID: "a", Name: "A", DefaultIntervalMinutes: 15}}, 30))
	d := &fakeDelivery{}
	c := NewCoordinator(st, d, eventbus.New(), logx.Nop(), Settings{
		Hours: ActiveHours{Start: 9, End: 17, Location: time.UTC},
	})

	armed, ok, err := c.ScheduleNext(ctx, t0)
	if err != nil || !ok {
		t.Fatalf("ScheduleNext = %v, %v", ok, err)
	}
	if err := c.Pause(ctx); err == nil {
		t.Fatalf("Pause succeeded with a failing store")
	}
	if p := d.pending(); p == nil || p.ItemID != "a" {
		t.Fatalf("delivery disarmed after failed pause: %+v", p)
	}
	if rec, ok, _ := st.Armed(ctx); !ok || !rec.FireAt.Equal(armed.FireAt) {
		t.Fatalf("armed record %+v, %v", rec, ok)
	}
	if p, _ := st.Paused(ctx); p {
		t.Fatalf("paused flag set")
	}
}

func TestAuditCarriesActor(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := WithActor(context.Background(), Actor{Source: "telegram", ID: 42})

	if err := h.c.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	entries := h.kv.Audit()
	if len(entries) != 1 || entries[0].Source != "telegram" || entries[0].ActorID != 42 || entries[0].Action != "reminder.pause" {
		t.Fatalf("audit = %+v", entries)
	}
}
