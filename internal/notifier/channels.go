package notifier

import (
	"context"
	"strings"
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/transport"
	logx "healthtimer/pkg/logx"
)

// Channel delivers one message. Ready is the capability check behind
// Service.Authorize.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
	Ready(ctx context.Context) (bool, error)
}

// SendTest delivers an immediate reminder for it, bypassing dedup.
func (s *Service) SendTest(ctx context.Context, it catalog.Item) error {
	return s.Notify(ctx, TestMessage(it, time.Now()))
}

// Callback data prefixes used by the reminder keyboard.
const (
	CallbackAck    = "ack:"
	CallbackSnooze = "snooze:"
)

// Keyboard returns the Done/Snooze buttons for m. Done carries whether the
// reminder was itself a snooze, so the acknowledgement can tell them apart.
func Keyboard(m Message) [][]transport.Button {
	flag := "0"
	if m.Snooze {
		flag = "1"
	}
	return [][]transport.Button{{
		{Text: "✅ Done", Data: CallbackAck + m.ItemID + ":" + flag},
		{Text: "⏰ Snooze", Data: CallbackSnooze + m.ItemID},
	}}
}

// FormatText is the chat rendering of m.
func FormatText(m Message) string {
	var b strings.Builder
	if m.Test {
		b.WriteString("🧪 ")
	}
	b.WriteString(m.Title)
	if m.Snooze {
		b.WriteString(" (snoozed)")
	}
	if body := strings.TrimSpace(m.Body); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return b.String()
}

// Telegram sends reminders to one chat with inline buttons.
type Telegram struct {
	Sender transport.Sender
	Target transport.ChatTarget
}

func (t *Telegram) Name() string { return ChannelTelegram }

func (t *Telegram) Send(ctx context.Context, m Message) error {
	_, err := t.Sender.SendText(ctx, t.Target, FormatText(m), &transport.SendOptions{
		DisablePreview: true,
		Keyboard:       Keyboard(m),
	})
	return err
}

func (t *Telegram) Ready(context.Context) (bool, error) {
	return t.Sender != nil && t.Target.ChatID != 0, nil
}

// Log only logs reminders. It is always ready.
type Log struct {
	Log logx.Logger
}

func (l *Log) Name() string { return ChannelLog }

func (l *Log) Send(_ context.Context, m Message) error {
	l.Log.Info("reminder", logx.String("item", m.ItemID), logx.String("title", m.Title),
		logx.Bool("snooze", m.Snooze), logx.Bool("test", m.Test), logx.String("instructions", m.Body))
	return nil
}

func (l *Log) Ready(context.Context) (bool, error) { return true, nil }
