package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "healthtimer/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Every call is a no-op
// when the process is not started by systemd (NOTIFY_SOCKET unset).
type sdNotifier struct {
	enabled  bool
	watchdog bool
	log      logx.Logger
}

func (n sdNotifier) notify(state string) {
	if !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n sdNotifier) ready()    { n.notify(daemon.SdNotifyReady) }
func (n sdNotifier) stopping() { n.notify(daemon.SdNotifyStopping) }

// watchdogInterval is half of WATCHDOG_USEC, or 0 when systemd does not
// expect keep-alives.
func (n sdNotifier) watchdogInterval() time.Duration {
	if !n.enabled || !n.watchdog {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("sd watchdog lookup failed", logx.Err(err))
		return 0
	}
	return d / 2
}

// runWatchdog pings systemd until ctx ends. alive reports whether the
// process is healthy enough to keep the watchdog fed.
func (n sdNotifier) runWatchdog(ctx context.Context, every time.Duration, alive func() bool) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if alive() {
				n.notify(daemon.SdNotifyWatchdog)
			} else {
				n.log.Warn("skipping watchdog ping; app not healthy")
			}
		}
	}
}
