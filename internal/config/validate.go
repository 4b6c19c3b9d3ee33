package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultActiveHoursStart = 9
	DefaultActiveHoursEnd   = 17
	DefaultIntervalMinutes  = 30
	DefaultSnooze           = 5 * time.Minute
	DefaultStatusRefresh    = time.Minute
	DefaultReconcile        = 5 * time.Minute
	DefaultReconcileGrace   = 2 * time.Minute
)

// ActiveHours returns the configured window, falling back to 9..17.
func (r RemindersConfig) ActiveHours() (start, end int) {
	start, end = DefaultActiveHoursStart, DefaultActiveHoursEnd
	if r.ActiveHoursStart != nil {
		start = *r.ActiveHoursStart
	}
	if r.ActiveHoursEnd != nil {
		end = *r.ActiveHoursEnd
	}
	return start, end
}

// IntervalMinutes is the fallback for catalogue items without a default.
func (r RemindersConfig) IntervalMinutes() int {
	if r.DefaultIntervalMinutes <= 0 {
		return DefaultIntervalMinutes
	}
	return r.DefaultIntervalMinutes
}

// Location resolves reminders.timezone. Empty means time.Local.
func (r RemindersConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("reminders.timezone: %w", err)
	}
	return loc, nil
}

// Durations holds the parsed reminder durations.
type Durations struct {
	Snooze         time.Duration
	StatusRefresh  time.Duration
	Reconcile      time.Duration
	ReconcileGrace time.Duration
}

func (r RemindersConfig) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.Snooze, err = ParseDurationOrDefault("reminders.snooze", r.Snooze, DefaultSnooze); err != nil {
		return Durations{}, err
	}
	if d.StatusRefresh, err = ParseDurationOrDefault("reminders.status_refresh", r.StatusRefresh, DefaultStatusRefresh); err != nil {
		return Durations{}, err
	}
	if d.Reconcile, err = ParseDurationOrDefault("reminders.reconcile", r.Reconcile, DefaultReconcile); err != nil {
		return Durations{}, err
	}
	if d.ReconcileGrace, err = ParseDurationOrDefault("reminders.reconcile_grace", r.ReconcileGrace, DefaultReconcileGrace); err != nil {
		return Durations{}, err
	}
	return d, nil
}

var knownDrivers = map[string]bool{
	"": true, "memory": true, "file": true, "sqlite": true, "sqlite3": true,
	"diskv": true, "postgres": true, "postgresql": true, "pg": true,
}

var knownChannels = map[string]bool{"": true, "telegram": true, "pushover": true, "log": true}

var knownLevels = map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks cfg for values that would fail at runtime. It collects
// every problem instead of stopping at the first.
//
// Inverted active hours are not an error here: the engine treats them as
// "no reminder" so the operator can disable delivery from the config file.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	r := cfg.Reminders
	start, end := r.ActiveHours()
	if start < 0 || start > 23 {
		add("reminders.active_hours_start must be in 0..23, got %d", start)
	}
	if end < 0 || end > 23 {
		add("reminders.active_hours_end must be in 0..23, got %d", end)
	}
	if r.DefaultIntervalMinutes < 0 {
		add("reminders.default_interval_minutes must be >= 0")
	}
	if _, err := r.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.Durations(); err != nil {
		errs = append(errs, err)
	}

	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if !knownDrivers[driver] {
		add("unknown storage.driver: %s", s.Driver)
	}
	switch driver {
	case "sqlite", "sqlite3", "diskv":
		if strings.TrimSpace(s.Path) == "" {
			add("storage.path is required when storage.driver=%s", driver)
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(s.DSN) == "" {
			add("storage.dsn is required when storage.driver=%s", driver)
		}
	}
	if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	n := cfg.Notifier
	ch := strings.ToLower(strings.TrimSpace(n.Channel))
	if !knownChannels[ch] {
		add("unknown notifier.channel: %s", n.Channel)
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		add("notifier: workers, queue_size, rate_per_sec, retry_max and dedup_max_entries must be >= 0")
	}
	for _, f := range [][2]string{
		{"notifier.retry_base", n.RetryBase},
		{"notifier.retry_max_delay", n.RetryMaxDelay},
		{"notifier.dedup_window", n.DedupWindow},
	} {
		if _, err := ParseDurationField(f[0], f[1]); err != nil {
			errs = append(errs, err)
		}
	}
	if n.Enabled && ch == "pushover" && (strings.TrimSpace(cfg.Pushover.AppToken) == "" || strings.TrimSpace(cfg.Pushover.UserKey) == "") {
		add("notifier.channel=pushover needs pushover.app_token and pushover.user_key")
	}
	if n.Enabled && ch == "telegram" && cfg.Telegram.ChatID == 0 {
		add("notifier.channel=telegram needs telegram.chat_id")
	}

	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Telegram.Token) != "" && len(cfg.Telegram.OwnerUserIDs) == 0 {
		add("telegram.owner_user_ids must not be empty when telegram.token is set")
	}

	if !knownLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		add("unknown logging.level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled=true")
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.ChatID == 0 {
		add("logging.telegram needs telegram.chat_id")
	}

	return errors.Join(errs...)
}
