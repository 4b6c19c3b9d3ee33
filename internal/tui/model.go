// Package tui is the terminal front end: a single bubbletea screen showing
// the next reminder, incoming alerts and the pause state.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"healthtimer/internal/catalog"
	"healthtimer/internal/reminder"
	"healthtimer/internal/state"
)

// Controller is the coordinator subset the screen drives.
type Controller interface {
	Catalog() *catalog.Catalog
	Status(ctx context.Context, now time.Time) (reminder.Status, bool, error)
	Paused(ctx context.Context) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context, now time.Time) (state.Armed, bool, error)
	Snooze(ctx context.Context, itemID string, now time.Time) (state.Armed, bool, error)
	Acknowledge(ctx context.Context, itemID string, isSnooze bool, now time.Time) (state.Armed, bool, error)
}

// Tester sends a test reminder through the notifier.
type Tester interface {
	SendTest(ctx context.Context, it catalog.Item) error
}

type (
	tickMsg   time.Time
	statusMsg struct {
		status reminder.Status
		ok     bool
		paused bool
		note   string
		err    error
	}
	alertMsg  reminder.Alert
	alertsEnd struct{}
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	nextStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	alertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model is the bubbletea model.
type Model struct {
	ctl     Controller
	tester  Tester
	alerts  <-chan reminder.Alert
	keys    KeyMap
	now     func() time.Time
	refresh time.Duration
	timeout time.Duration

	status reminder.Status
	ok     bool
	paused bool
	alert  *reminder.Alert
	note   string
	err    error
	loaded bool
}

// Options configures the screen.
type Options struct {
	Controller Controller
	Tester     Tester
	// Alerts delivers fired reminders; nil means the screen only polls.
	Alerts  <-chan reminder.Alert
	Refresh time.Duration // status poll interval; default 1m
	Now     func() time.Time
}

func New(opt Options) Model {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Refresh <= 0 {
		opt.Refresh = time.Minute
	}
	return Model{
		ctl:     opt.Controller,
		tester:  opt.Tester,
		alerts:  opt.Alerts,
		keys:    DefaultKeyMap(),
		now:     opt.Now,
		refresh: opt.Refresh,
		timeout: 10 * time.Second,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.load(""), m.tick()}
	if m.alerts != nil {
		cmds = append(cmds, waitForAlert(m.alerts))
	}
	return tea.Batch(cmds...)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForAlert(ch <-chan reminder.Alert) tea.Cmd {
	return func() tea.Msg {
		a, ok := <-ch
		if !ok {
			return alertsEnd{}
		}
		return alertMsg(a)
	}
}

// do runs op and then reloads the status, so every action ends with a
// fresh screen.
func (m Model) do(note string, op func(ctx context.Context, now time.Time) (string, error)) tea.Cmd {
	ctl, now, timeout := m.ctl, m.now, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ctx = reminder.WithActor(ctx, reminder.Actor{Source: "tui"})
		t := now()
		if op != nil {
			n, err := op(ctx, t)
			if err != nil {
				return statusMsg{err: err}
			}
			if n != "" {
				note = n
			}
		}
		paused, err := ctl.Paused(ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		st, ok, err := ctl.Status(ctx, t)
		return statusMsg{status: st, ok: ok, paused: paused, note: note, err: err}
	}
}

func (m Model) load(note string) tea.Cmd { return m.do(note, nil) }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tea.Batch(m.load(""), m.tick())

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status, m.ok, m.paused, m.loaded = msg.status, msg.ok, msg.paused, true
			m.note = msg.note
		}
		return m, nil

	case alertMsg:
		a := reminder.Alert(msg)
		m.alert = &a
		return m, tea.Batch(waitForAlert(m.alerts), m.load(""))

	case alertsEnd:
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Refresh):
		return m, m.load("")

	case key.Matches(msg, m.keys.Pause):
		if m.paused {
			return m, m.do("Resumed.", func(ctx context.Context, now time.Time) (string, error) {
				_, _, err := m.ctl.Resume(ctx, now)
				return "", err
			})
		}
		m.alert = nil
		return m, m.do("Paused.", func(ctx context.Context, _ time.Time) (string, error) {
			return "", m.ctl.Pause(ctx)
		})

	case key.Matches(msg, m.keys.Snooze):
		id := m.targetID()
		if id == "" {
			m.note = "Nothing to snooze."
			return m, nil
		}
		m.alert = nil
		return m, m.do("", func(ctx context.Context, now time.Time) (string, error) {
			a, ok, err := m.ctl.Snooze(ctx, id, now)
			if err != nil || !ok {
				return "Snooze ignored.", err
			}
			return "Snoozed until " + a.FireAt.Format("15:04") + ".", nil
		})

	case key.Matches(msg, m.keys.Ack):
		if m.alert == nil {
			return m, nil
		}
		a := *m.alert
		m.alert = nil
		return m, m.do("Done: "+a.Name+".", func(ctx context.Context, now time.Time) (string, error) {
			_, _, err := m.ctl.Acknowledge(ctx, a.ItemID, a.IsSnooze, now)
			return "", err
		})

	case key.Matches(msg, m.keys.Test):
		id := m.targetID()
		it, ok := m.ctl.Catalog().Lookup(id)
		if !ok || m.tester == nil {
			m.note = "Nothing to test."
			return m, nil
		}
		return m, m.do("Test reminder sent for "+it.Name+".", func(ctx context.Context, _ time.Time) (string, error) {
			return "", m.tester.SendTest(ctx, it)
		})
	}
	return m, nil
}

// targetID is the item an action applies to: the alert on screen, else the
// armed reminder, else the next due item.
func (m Model) targetID() string {
	switch {
	case m.alert != nil:
		return m.alert.ItemID
	case m.ok && m.status.Armed != nil:
		return m.status.Armed.ItemID
	case m.ok:
		return m.status.ItemID
	}
	return ""
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("HealthTimer"))
	b.WriteString("\n\n")

	if a := m.alert; a != nil {
		label := "Time for: " + a.Name
		if a.IsSnooze {
			label += " (snoozed)"
		}
		b.WriteString(alertStyle.Render(label))
		b.WriteString("\n")
		if a.Instructions != "" {
			b.WriteString(a.Instructions + "\n")
		}
		b.WriteString("\n")
	}

	switch {
	case !m.loaded:
		b.WriteString(dimStyle.Render("Loading…"))
	case m.paused:
		b.WriteString(pausedStyle.Render("⏸ Reminders paused"))
	case !m.ok:
		b.WriteString(dimStyle.Render("No reminder scheduled"))
	default:
		now := m.now()
		rel := "now"
		if m.status.FireAt.After(now) {
			rel = humanize.RelTime(m.status.FireAt, now, "ago", "from now")
		}
		b.WriteString(nextStyle.Render(fmt.Sprintf("Next: %s at %s (%s)", m.status.Name, m.status.FireAt.Format("15:04"), rel)))
		if a := m.status.Armed; a != nil && a.IsSnooze {
			b.WriteString("\n" + dimStyle.Render("Snoozed: "+a.ItemID+" at "+a.FireAt.Format("15:04")))
		}
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString("\n" + errStyle.Render("Error: "+m.err.Error()) + "\n")
	} else if m.note != "" {
		b.WriteString("\n" + dimStyle.Render(m.note) + "\n")
	}

	parts := make([]string, 0, 6)
	for _, k := range m.keys.help() {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	b.WriteString("\n" + helpStyle.Render(strings.Join(parts, " • ")) + "\n")
	return b.String()
}

// Run shows the screen until the user quits or ctx ends.
func Run(ctx context.Context, opt Options) error {
	p := tea.NewProgram(New(opt), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
