package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"healthtimer/internal/catalog"
	"healthtimer/internal/reminder"
	"healthtimer/internal/state"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeController struct {
	cat    *catalog.Catalog
	paused bool
	armed  *state.Armed
	calls  []string
}

func newFake() *fakeController {
	return &fakeController{cat: catalog.New([]catalog.Item{
		{ID: "eye", Name: "Eye Exercise", Instructions: "Look far away.", DefaultIntervalMinutes: 20},
		{ID: "water", Name: "Water", DefaultIntervalMinutes: 60},
	}, 30)}
}

func (f *fakeController) Catalog() *catalog.Catalog { return f.cat }

func (f *fakeController) Status(context.Context, time.Time) (reminder.Status, bool, error) {
	if f.paused {
		return reminder.Status{}, false, nil
	}
	return reminder.Status{ItemID: "eye", Name: "Eye Exercise", FireAt: t0.Add(20 * time.Minute), Armed: f.armed}, true, nil
}

func (f *fakeController) Paused(context.Context) (bool, error) { return f.paused, nil }

func (f *fakeController) Pause(context.Context) error {
	f.calls = append(f.calls, "pause")
	f.paused = true
	return nil
}

func (f *fakeController) Resume(context.Context, time.Time) (state.Armed, bool, error) {
	f.calls = append(f.calls, "resume")
	f.paused = false
	return state.Armed{}, true, nil
}

func (f *fakeController) Snooze(_ context.Context, id string, now time.Time) (state.Armed, bool, error) {
	f.calls = append(f.calls, "snooze:"+id)
	a := state.Armed{ItemID: id, FireAt: now.Add(5 * time.Minute), IsSnooze: true}
	f.armed = &a
	return a, true, nil
}

func (f *fakeController) Acknowledge(_ context.Context, id string, isSnooze bool, _ time.Time) (state.Armed, bool, error) {
	flag := "0"
	if isSnooze {
		flag = "1"
	}
	f.calls = append(f.calls, "ack:"+id+":"+flag)
	return state.Armed{}, false, nil
}

type fakeTester struct{ ids []string }

func (f *fakeTester) SendTest(_ context.Context, it catalog.Item) error {
	f.ids = append(f.ids, it.ID)
	return nil
}

// step feeds msg to m and runs the resulting command once, feeding its
// message back. Batches and ticks are not followed.
func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	out := cmd()
	if _, ok := out.(statusMsg); !ok {
		return m
	}
	next, _ = m.Update(out)
	return next.(Model)
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func newModel(ctl *fakeController, tester Tester) Model {
	m := New(Options{Controller: ctl, Tester: tester, Now: func() time.Time { return t0 }})
	next, _ := m.Update(m.load("")())
	return next.(Model)
}

func TestViewShowsNextReminder(t *testing.T) {
	t.Parallel()
	m := newModel(newFake(), nil)
	v := m.View()
	if !strings.Contains(v, "Next: Eye Exercise at 10:20 (20 minutes from now)") {
		t.Fatalf("view = %q", v)
	}
	if !strings.Contains(v, "p pause/resume") || !strings.Contains(v, "q quit") {
		t.Fatalf("help missing from view: %q", v)
	}
}

func TestPauseKeyToggles(t *testing.T) {
	t.Parallel()
	ctl := newFake()
	m := newModel(ctl, nil)

	m = step(t, m, runes("p"))
	if !m.paused || !strings.Contains(m.View(), "Reminders paused") {
		t.Fatalf("after p: paused=%v view=%q", m.paused, m.View())
	}
	m = step(t, m, runes("p"))
	if m.paused || m.note != "Resumed." {
		t.Fatalf("after second p: paused=%v note=%q", m.paused, m.note)
	}
	if strings.Join(ctl.calls, ",") != "pause,resume" {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestAlertAckAndSnooze(t *testing.T) {
	t.Parallel()
	ctl := newFake()
	m := newModel(ctl, nil)

	// enter with no alert does nothing
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if len(ctl.calls) != 0 {
		t.Fatalf("enter without alert called %v", ctl.calls)
	}

	next, _ := m.Update(alertMsg(reminder.Alert{ItemID: "water", Name: "Water", IsSnooze: true}))
	m = next.(Model)
	if !strings.Contains(m.View(), "Time for: Water (snoozed)") {
		t.Fatalf("alert not shown: %q", m.View())
	}
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.alert != nil || ctl.calls[0] != "ack:water:1" || m.note != "Done: Water." {
		t.Fatalf("ack: alert=%v calls=%v note=%q", m.alert, ctl.calls, m.note)
	}

	// with no alert, snooze targets the next due item
	m = step(t, m, runes("s"))
	if ctl.calls[1] != "snooze:eye" || m.note != "Snoozed until 10:05." {
		t.Fatalf("snooze: calls=%v note=%q", ctl.calls, m.note)
	}
	if !strings.Contains(m.View(), "Snoozed: eye at 10:05") {
		t.Fatalf("snoozed reminder not shown: %q", m.View())
	}
}

func TestTestKeyAndQuit(t *testing.T) {
	t.Parallel()
	tester := &fakeTester{}
	m := newModel(newFake(), tester)
	m = step(t, m, runes("t"))
	if len(tester.ids) != 1 || tester.ids[0] != "eye" {
		t.Fatalf("tested %v", tester.ids)
	}

	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not quit")
	}
}
