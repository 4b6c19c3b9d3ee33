package notifier

import (
	"time"

	"healthtimer/internal/catalog"
	"healthtimer/internal/reminder"
)

// Channel names accepted in Config.Channel.
const (
	ChannelTelegram = "telegram"
	ChannelPushover = "pushover"
	ChannelLog      = "log"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Channel         string
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Message is one reminder ready for a channel.
type Message struct {
	ItemID string
	Title  string
	Body   string
	// Snooze marks a reminder that was armed by a snooze.
	Snooze bool
	At     time.Time
	// Test messages skip dedup.
	Test bool
}

// FromAlert builds the message for a fired reminder.
func FromAlert(a reminder.Alert) Message {
	return Message{ItemID: a.ItemID, Title: a.Title(), Body: a.Instructions, Snooze: a.IsSnooze, At: a.FireAt}
}

// TestMessage builds an immediate reminder for it.
func TestMessage(it catalog.Item, now time.Time) Message {
	a := reminder.Alert{ItemID: it.ID, Name: it.Name, Instructions: it.Instructions, FireAt: now}
	m := FromAlert(a)
	m.Test = true
	return m
}

type HistoryItem struct {
	At      time.Time
	Channel string
	ItemID  string
	Title   string
}

// Event is the payload of notifier.* bus events.
type Event struct {
	Channel string    `json:"channel"`
	ItemID  string    `json:"item_id"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
