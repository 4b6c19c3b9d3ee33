package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"healthtimer/internal/catalog"
	"healthtimer/internal/notifier"
	"healthtimer/internal/transport"
)

func (r *Router) commands() []Command {
	return []Command{
		{Name: "status", Description: "next reminder", Handle: r.cmdStatus},
		{Name: "items", Description: "list reminder items", Handle: r.cmdItems},
		{Name: "current", Description: "round-robin item", Handle: r.cmdCurrent},
		{Name: "pause", Description: "pause reminders", Handle: r.cmdPause},
		{Name: "resume", Description: "resume reminders", Handle: r.cmdResume},
		{Name: "snooze", Usage: "/snooze [item]", Description: "snooze a reminder", Handle: r.cmdSnooze},
		{Name: "interval", Usage: "/interval <item> <minutes>", Description: "set an item interval", Handle: r.cmdInterval},
		{Name: "enable", Usage: "/enable <item>", Description: "enable an item", Handle: r.cmdEnable(true)},
		{Name: "disable", Usage: "/disable <item>", Description: "disable an item", Handle: r.cmdEnable(false)},
		{Name: "test", Usage: "/test <item>", Description: "send a test reminder", Handle: r.cmdTest},
		{Name: "help", Description: "show commands", Handle: r.cmdHelp},
	}
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		c := r.cmds[name]
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage + " - " + c.Description + "\n")
	}
	return r.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	now := r.now()
	paused, err := r.ctl.Paused(ctx)
	if err != nil {
		return err
	}
	st, ok, err := r.ctl.Status(ctx, now)
	if err != nil {
		return err
	}
	return r.reply(ctx, req, StatusText(st, ok, paused, now))
}

func (r *Router) cmdItems(ctx context.Context, req *Request) error {
	now := r.now()
	items, err := r.ctl.Items(ctx, now)
	if err != nil {
		return err
	}
	return r.reply(ctx, req, ItemsText(items, now))
}

func (r *Router) cmdCurrent(ctx context.Context, req *Request) error {
	it, err := r.ctl.CurrentItem(ctx)
	if err != nil {
		return err
	}
	if it.ID == "" {
		return r.reply(ctx, req, "No items.")
	}
	return r.reply(ctx, req, "Current: "+it.Name+" ("+it.ID+")\n"+it.Instructions)
}

func (r *Router) cmdPause(ctx context.Context, req *Request) error {
	if err := r.ctl.Pause(ctx); err != nil {
		return err
	}
	return r.reply(ctx, req, "⏸ Reminders paused. /resume to continue.")
}

func (r *Router) cmdResume(ctx context.Context, req *Request) error {
	now := r.now()
	a, ok, err := r.ctl.Resume(ctx, now)
	if err != nil {
		return err
	}
	if !ok {
		return r.reply(ctx, req, "▶️ Resumed, but nothing is scheduled (no enabled items or invalid active hours).")
	}
	return r.reply(ctx, req, "▶️ Resumed. "+armedText(r.ctl.Catalog(), a.ItemID, a.FireAt, now))
}

// cmdSnooze snoozes the named item, else whatever is armed, else the next
// due item.
func (r *Router) cmdSnooze(ctx context.Context, req *Request) error {
	now := r.now()
	id := ""
	if len(req.Args) > 0 {
		id = req.Args[0]
	} else {
		st, ok, err := r.ctl.Status(ctx, now)
		if err != nil {
			return err
		}
		switch {
		case ok && st.Armed != nil:
			id = st.Armed.ItemID
		case ok:
			id = st.ItemID
		default:
			return usagef("Nothing to snooze.")
		}
	}
	a, ok, err := r.ctl.Snooze(ctx, id, now)
	if err != nil {
		return err
	}
	if !ok {
		return usagef("Cannot snooze %q (paused or unknown item).", id)
	}
	return r.reply(ctx, req, "⏰ Snoozed. "+armedText(r.ctl.Catalog(), a.ItemID, a.FireAt, now))
}

func (r *Router) cmdInterval(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return usagef("Usage: /interval <item> <minutes>")
	}
	id := req.Args[0]
	minutes, err := strconv.Atoi(req.Args[1])
	if err != nil {
		return usagef("Minutes must be a whole number, got %q.", req.Args[1])
	}
	if err := r.ctl.UpdateInterval(ctx, id, minutes, r.now()); err != nil {
		return err
	}
	return r.reply(ctx, req, "✅ "+itemName(r.ctl.Catalog(), id)+" every "+strconv.Itoa(minutes)+" min.")
}

func (r *Router) cmdEnable(enabled bool) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) != 1 {
			return usagef("Usage: /%s <item>", req.Command)
		}
		id := req.Args[0]
		if err := r.ctl.UpdateEnabled(ctx, id, enabled, r.now()); err != nil {
			return err
		}
		verb := "disabled"
		if enabled {
			verb = "enabled"
		}
		return r.reply(ctx, req, "✅ "+itemName(r.ctl.Catalog(), id)+" "+verb+".")
	}
}

func (r *Router) cmdTest(ctx context.Context, req *Request) error {
	if r.tester == nil {
		return usagef("Notifications are not configured.")
	}
	if len(req.Args) != 1 {
		return usagef("Usage: /test <item>")
	}
	it, ok := r.ctl.Catalog().Lookup(req.Args[0])
	if !ok {
		return usagef("Unknown item %q. Try /items.", req.Args[0])
	}
	if err := r.tester.SendTest(ctx, it); err != nil {
		if errors.Is(err, notifier.ErrDisabled) {
			return usagef("Notifier is disabled.")
		}
		return err
	}
	return r.reply(ctx, req, "🧪 Test reminder sent for "+it.Name+".")
}

// callback handles the reminder keyboard.
func (r *Router) callback(ctx context.Context, req *Request) error {
	now := r.now()
	switch req.Command + ":" {
	case notifier.CallbackAck:
		if len(req.Args) != 2 {
			return r.send.AnswerCallback(ctx, req.CallbackID, "Bad button")
		}
		id, isSnooze := req.Args[0], req.Args[1] == "1"
		if _, _, err := r.ctl.Acknowledge(ctx, id, isSnooze, now); err != nil {
			return err
		}
		if err := r.send.AnswerCallback(ctx, req.CallbackID, "Done ✅"); err != nil {
			return err
		}
		return r.send.EditText(ctx, req.MessageRef, "✅ "+itemName(r.ctl.Catalog(), id)+" done.", nil)
	case notifier.CallbackSnooze:
		if len(req.Args) != 1 {
			return r.send.AnswerCallback(ctx, req.CallbackID, "Bad button")
		}
		a, ok, err := r.ctl.Snooze(ctx, req.Args[0], now)
		if err != nil {
			return err
		}
		if !ok {
			return r.send.AnswerCallback(ctx, req.CallbackID, "Cannot snooze now")
		}
		if err := r.send.AnswerCallback(ctx, req.CallbackID, "Snoozed until "+clock(a.FireAt)); err != nil {
			return err
		}
		return r.send.EditText(ctx, req.MessageRef, "⏰ "+itemName(r.ctl.Catalog(), a.ItemID)+" snoozed until "+clock(a.FireAt)+".", &transport.SendOptions{})
	default:
		return r.send.AnswerCallback(ctx, req.CallbackID, "Unknown action")
	}
}

func itemName(cat *catalog.Catalog, id string) string {
	if it, ok := cat.Lookup(id); ok {
		return it.Name
	}
	return id
}
