package config

import (
	"reflect"
	"sort"
	"strings"

	logx "healthtimer/pkg/logx"
)

// restartSections cannot be hot-applied; the running process keeps the
// values it started with.
var restartSections = map[string]bool{"storage": true, "systemd": true}

// SummarizeConfigChange returns the changed section names, log-safe attrs
// describing the new values (secrets are reported as set/unset only) and
// the subset of changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if restartSections[section] {
			restart = append(restart, section)
		}
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if o, n := oldCfg.Reminders, newCfg.Reminders; !reflect.DeepEqual(o, n) {
		start, end := n.ActiveHours()
		mark("reminders",
			logx.Int("reminders.active_hours_start", start),
			logx.Int("reminders.active_hours_end", end),
			logx.Int("reminders.default_interval_minutes", n.IntervalMinutes()),
			logx.String("reminders.snooze", n.Snooze),
			logx.String("reminders.timezone", n.Timezone),
		)
	}

	if o, n := oldCfg.Storage, newCfg.Storage; o.Driver != n.Driver || o.Path != n.Path ||
		o.BusyTimeout != n.BusyTimeout || o.DSN != n.DSN {
		mark("storage",
			logx.String("storage.driver", n.Driver),
			logx.Bool("storage.path_set", set(n.Path)),
			logx.Bool("storage.dsn_set", set(n.DSN)),
		)
	}

	if o, n := oldCfg.Notifier, newCfg.Notifier; o != n {
		mark("notifier",
			logx.Bool("notifier.enabled", n.Enabled),
			logx.String("notifier.channel", n.Channel),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.retry_max", n.RetryMax),
		)
	}

	if o, n := oldCfg.Pushover, newCfg.Pushover; o != n {
		mark("pushover",
			logx.Bool("pushover.app_token_set", set(n.AppToken)),
			logx.Bool("pushover.user_key_set", set(n.UserKey)),
		)
	}

	if o, n := oldCfg.Telegram, newCfg.Telegram; o.Token != n.Token || o.ChatID != n.ChatID ||
		o.ThreadID != n.ThreadID || o.PollTimeout != n.PollTimeout || !reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) {
		mark("telegram",
			logx.Bool("telegram.token_set", set(n.Token)),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.Bool("telegram.chat_set", n.ChatID != 0),
			logx.String("telegram.poll_timeout", n.PollTimeout),
		)
		if o.Token != n.Token {
			// the adapter is built once with its token
			restart = append(restart, "telegram")
		}
	}

	if o, n := oldCfg.Logging, newCfg.Logging; o != n {
		mark("logging",
			logx.String("logging.level", n.Level),
			logx.Bool("logging.console", n.Console),
			logx.Bool("logging.file_enabled", n.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Telegram.Enabled),
		)
	}

	if o, n := oldCfg.Systemd, newCfg.Systemd; o != n {
		mark("systemd", logx.Bool("systemd.notify", n.Notify), logx.Bool("systemd.watchdog", n.Watchdog))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
