package reminder

import (
	"context"
	"time"
)

// Alert is what the delivery side needs to present one reminder.
type Alert struct {
	ItemID       string    `json:"item_id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	FireAt       time.Time `json:"fire_at"`
	IsSnooze     bool      `json:"is_snooze,omitempty"`
}

// Title is the headline shown for the alert.
func (a Alert) Title() string { return "Time for: " + a.Name }

// Delivery arms and disarms the single pending reminder. Implementations
// must tolerate DisarmAll with nothing armed.
type Delivery interface {
	Arm(ctx context.Context, a Alert) error
	DisarmAll(ctx context.Context) error
}

// NopDelivery accepts everything and delivers nothing. Read-only CLI
// commands use it.
type NopDelivery struct{}

func (NopDelivery) Arm(context.Context, Alert) error { return nil }
func (NopDelivery) DisarmAll(context.Context) error  { return nil }
