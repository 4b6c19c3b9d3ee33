package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvTelegramToken = "HEALTHTIMER_TELEGRAM_TOKEN"
	EnvPushoverToken = "HEALTHTIMER_PUSHOVER_TOKEN"
	EnvPushoverUser  = "HEALTHTIMER_PUSHOVER_USER"
	EnvStorageDSN    = "HEALTHTIMER_STORAGE_DSN"
)

// LoadDotEnv loads KEY=VALUE pairs from files into the process environment
// without overriding variables that are already set. Missing files are
// skipped; with no arguments it reads ./.env.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secret environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Pushover.AppToken, EnvPushoverToken)
	set(&cfg.Pushover.UserKey, EnvPushoverUser)
	set(&cfg.Storage.DSN, EnvStorageDSN)
}
