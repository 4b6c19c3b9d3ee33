package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Reminders RemindersConfig `json:"reminders"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
	Pushover  PushoverConfig  `json:"pushover,omitempty"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
}

// RemindersConfig controls the scheduling engine.
//
// Defaults (when fields are omitted/zero):
//   - active_hours_start: 9, active_hours_end: 17
//   - default_interval_minutes: 30
//   - snooze: "5m"
//   - timezone: process local time
//   - status_refresh: "1m", reconcile: "5m", reconcile_grace: "2m"
//
// The active hours are pointers so an explicit 0 (midnight) survives
// defaulting.
type RemindersConfig struct {
	ActiveHoursStart       *int   `json:"active_hours_start,omitempty"`
	ActiveHoursEnd         *int   `json:"active_hours_end,omitempty"`
	DefaultIntervalMinutes int    `json:"default_interval_minutes,omitempty"`
	Snooze                 string `json:"snooze,omitempty"`
	Timezone               string `json:"timezone,omitempty"`
	StatusRefresh          string `json:"status_refresh,omitempty"`
	Reconcile              string `json:"reconcile,omitempty"`
	ReconcileGrace         string `json:"reconcile_grace,omitempty"`
}

// StorageConfig selects the key-value backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./healthtimer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`
	// Channel is "telegram", "pushover" or "log". Empty picks telegram when a
	// chat is configured, else log.
	Channel         string `json:"channel,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type PushoverConfig struct {
	AppToken string `json:"app_token,omitempty"`
	UserKey  string `json:"user_key,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives reminders and, when logging.telegram is enabled, logs.
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SystemdConfig controls sd_notify integration in the run command.
type SystemdConfig struct {
	Notify bool `json:"notify"`
	// Watchdog pings WATCHDOG=1 at half of WATCHDOG_USEC when set by systemd.
	Watchdog bool `json:"watchdog"`
}
