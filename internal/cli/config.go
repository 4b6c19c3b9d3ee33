package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"healthtimer/internal/config"
)

func addConfig(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	check := &cobra.Command{
		Use:   "check",
		Short: "validate the config file and print the effective reminder settings",
		Example: `
healthtimer config check -c ./healthtimer.yaml
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(ro.ConfigPath).Load()
			if err != nil {
				return err
			}
			start, end := cfg.Reminders.ActiveHours()
			d, _ := cfg.Reminders.Durations()
			loc, _ := cfg.Reminders.Location()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", ro.ConfigPath)
			fmt.Fprintf(out, "active hours: %02d:00-%02d:00 %s\n", start, end, loc)
			if start >= end {
				fmt.Fprintln(out, "warning: active hours are empty; no reminder will be scheduled")
			}
			fmt.Fprintf(out, "default interval: %d min, snooze: %s\n", cfg.Reminders.IntervalMinutes(), d.Snooze)
			driver := cfg.Storage.Driver
			if driver == "" {
				driver = "memory"
			}
			fmt.Fprintf(out, "storage: %s\n", driver)
			fmt.Fprintf(out, "notifier: enabled=%v channel=%q\n", cfg.Notifier.Enabled, cfg.Notifier.Channel)
			if cfg.Telegram.Token != "" {
				fmt.Fprintf(out, "telegram: bot configured, %d owner(s)\n", len(cfg.Telegram.OwnerUserIDs))
			} else {
				fmt.Fprintln(out, "telegram: disabled")
			}
			return nil
		},
	}
	cmd.AddCommand(check)
	topLevel.AddCommand(cmd)
}
