package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"healthtimer/internal/app"
	"healthtimer/internal/config"
)

const stopTimeout = 10 * time.Second

func addRun(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the reminder daemon (Telegram bot, notifier, alarms)",
		Example: `
healthtimer run
healthtimer run --config /etc/healthtimer/healthtimer.yaml
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(config.NewManager(ro.ConfigPath), app.Options{})
			if err != nil {
				return err
			}
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			if err := a.Start(cmd.Context()); err != nil {
				stopApp(a, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case s := <-sig:
				reason = app.StopSIGINT
				if s == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}
			stopApp(a, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}

func stopApp(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
