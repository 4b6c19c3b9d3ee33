package app

import (
	"path/filepath"
	"strings"
	"time"

	"healthtimer/internal/alarm"
	"healthtimer/internal/config"
	"healthtimer/internal/notifier"
	"healthtimer/internal/reminder"
	"healthtimer/internal/storage"
	"healthtimer/internal/transport"
	logx "healthtimer/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:         nc.Enabled,
		Channel:         channelName(cfg),
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
	}
	if out.RetryMax == 0 {
		out.RetryMax = 3
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	// a reminder fires at most once per interval, so a short window only
	// swallows accidental double deliveries
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 30*time.Second); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// channelName resolves notifier.channel; empty picks telegram when a chat
// is configured, else log.
func channelName(cfg *config.Config) string {
	ch := strings.ToLower(strings.TrimSpace(cfg.Notifier.Channel))
	if ch != "" {
		return ch
	}
	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID != 0 {
		return notifier.ChannelTelegram
	}
	return notifier.ChannelLog
}

// buildChannel returns the delivery channel for cfg. A telegram channel
// without a running bot falls back to logging so reminders are never lost
// silently.
func buildChannel(cfg *config.Config, send transport.Sender, log logx.Logger) notifier.Channel {
	switch channelName(cfg) {
	case notifier.ChannelTelegram:
		if send != nil {
			return &notifier.Telegram{
				Sender: send,
				Target: transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
			}
		}
		log.Warn("notifier.channel is telegram but no bot is running; logging reminders instead")
	case notifier.ChannelPushover:
		return &notifier.Pushover{AppToken: cfg.Pushover.AppToken, UserKey: cfg.Pushover.UserKey}
	}
	return &notifier.Log{Log: log.With(logx.String("comp", "reminders"))}
}

func mapLogConfig(cfg *config.Config, quiet bool) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	if quiet {
		// the terminal belongs to the TUI
		lc.Console = false
		if !lc.File.Enabled || strings.TrimSpace(lc.File.Path) == "" {
			lc.File = logx.FileConfig{Enabled: true, Path: "healthtimer.log"}
		}
	}
	return lc
}

func reminderSettings(cfg *config.Config) (reminder.Settings, error) {
	loc, err := cfg.Reminders.Location()
	if err != nil {
		return reminder.Settings{}, err
	}
	d, err := cfg.Reminders.Durations()
	if err != nil {
		return reminder.Settings{}, err
	}
	start, end := cfg.Reminders.ActiveHours()
	return reminder.Settings{
		Hours:          reminder.ActiveHours{Start: start, End: end, Location: loc},
		Snooze:         d.Snooze,
		ReconcileGrace: d.ReconcileGrace,
	}, nil
}

func mapAlarmConfig(cfg *config.Config) alarm.Config {
	tz := strings.TrimSpace(cfg.Reminders.Timezone)
	if strings.EqualFold(tz, "local") {
		tz = ""
	}
	return alarm.Config{Timezone: tz, JobTimeout: 30 * time.Second}
}

func mapPollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}

// resolvePath anchors a relative path next to the config file.
func resolvePath(cfgPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfgPath), p)
}
