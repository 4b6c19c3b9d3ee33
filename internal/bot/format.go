package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"healthtimer/internal/catalog"
	"healthtimer/internal/reminder"
)

func clock(t time.Time) string { return t.Format("15:04") }

// until renders fireAt relative to now, e.g. "12 minutes from now".
func until(fireAt, now time.Time) string {
	if !fireAt.After(now) {
		return "now"
	}
	return humanize.RelTime(fireAt, now, "ago", "from now")
}

// StatusText is the human summary shown by /status, the CLI and the TUI.
func StatusText(st reminder.Status, ok, paused bool, now time.Time) string {
	if paused {
		return "⏸ Reminders are paused."
	}
	if !ok {
		return "No reminder scheduled (no enabled items or outside valid active hours)."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Next: %s at %s (%s)", st.Name, clock(st.FireAt), until(st.FireAt, now))
	if a := st.Armed; a != nil && a.IsSnooze {
		fmt.Fprintf(&b, "\nSnoozed: %s at %s", a.ItemID, clock(a.FireAt))
	}
	if ins := strings.TrimSpace(st.Instructions); ins != "" {
		b.WriteString("\n" + ins)
	}
	return b.String()
}

// ItemsText lists every item with its interval, state and last firing.
func ItemsText(items []reminder.ItemView, now time.Time) string {
	if len(items) == 0 {
		return "No items."
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := "✅"
		if !it.State.Enabled {
			mark = "⛔"
		}
		fmt.Fprintf(&b, "%s %s (%s): every %d min", mark, it.Name, it.ID, it.State.IntervalMinutes)
		if !it.State.LastFiredAt.IsZero() {
			b.WriteString(", last " + humanize.RelTime(it.State.LastFiredAt, now, "ago", "from now"))
		}
	}
	return b.String()
}

func armedText(cat *catalog.Catalog, id string, fireAt, now time.Time) string {
	return fmt.Sprintf("Next: %s at %s (%s).", itemName(cat, id), clock(fireAt), until(fireAt, now))
}
