package alarm

import (
	"context"
	"time"

	"healthtimer/internal/eventbus"
	"healthtimer/internal/reminder"
	logx "healthtimer/pkg/logx"
)

var _ reminder.Delivery = (*Service)(nil)

// Arm replaces the pending reminder with a. A fire time in the past fires
// immediately. Before Start the alert is only recorded.
func (s *Service) Arm(_ context.Context, a reminder.Alert) error {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.stopTimerLocked()
	cp := a
	s.pending = &cp
	if s.armOn {
		s.startTimerLocked(cp)
	}
	s.log.Debug("alarm armed", logx.String("item", a.ItemID), logx.Time("fire_at", a.FireAt), logx.Bool("snooze", a.IsSnooze))
	return nil
}

// DisarmAll cancels the pending reminder, if any.
func (s *Service) DisarmAll(context.Context) error {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.stopTimerLocked()
	if s.pending != nil {
		s.log.Debug("alarm disarmed", logx.String("item", s.pending.ItemID))
	}
	s.pending = nil
	return nil
}

// Pending returns the armed alert.
func (s *Service) Pending() (reminder.Alert, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.pending == nil {
		return reminder.Alert{}, false
	}
	return *s.pending, true
}

// stopTimerLocked stops the runtime timer and bumps the version so an
// already-started callback becomes a no-op. Call with s.tmu held.
func (s *Service) stopTimerLocked() {
	if s.timer != nil {
		_ = s.timer.Stop()
		s.timer = nil
	}
	s.ver++
}

// startTimerLocked schedules a. Call with s.tmu held.
func (s *Service) startTimerLocked(a reminder.Alert) {
	s.ver++
	ver := s.ver
	delay := time.Until(a.FireAt)
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, func() { s.fire(ver) })
}

func (s *Service) fire(ver uint64) {
	s.tmu.Lock()
	if ver != s.ver || s.pending == nil {
		// replaced or disarmed after the timer started
		s.tmu.Unlock()
		return
	}
	a := *s.pending
	s.pending = nil
	s.timer = nil
	h := s.onFire
	s.tmu.Unlock()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.log.Info("alarm fired", logx.String("item", a.ItemID), logx.Time("fire_at", a.FireAt))
	s.bus.Publish(eventbus.Event{Type: EventTimerFired, Data: a})
	if h == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("alarm handler panic", logx.Any("panic", r), logx.String("item", a.ItemID))
			}
		}()
		h(ctx, a)
	}()
}
