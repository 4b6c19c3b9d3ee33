package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"healthtimer/internal/app"
	"healthtimer/internal/bot"
	"healthtimer/internal/config"
)

// openOffline builds the app without the bot or timers, for commands that
// only read state.
func openOffline(ro *rootOptions, now func() time.Time) (*app.App, error) {
	return app.New(config.NewManager(ro.ConfigPath), app.Options{Offline: true, Quiet: true, Now: now})
}

func addStatus(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show the next reminder",
		Example: `
healthtimer status
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openOffline(ro, time.Now)
			if err != nil {
				return err
			}
			defer stopApp(a, app.StopUnknown)

			ctx, now := cmd.Context(), time.Now()
			paused, err := a.Coordinator().Paused(ctx)
			if err != nil {
				return err
			}
			st, ok, err := a.Coordinator().Status(ctx, now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bot.StatusText(st, ok, paused, now))
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}

func addItems(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "list reminder items with their intervals",
		Example: `
healthtimer items
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openOffline(ro, time.Now)
			if err != nil {
				return err
			}
			defer stopApp(a, app.StopUnknown)

			now := time.Now()
			items, err := a.Coordinator().Items(cmd.Context(), now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bot.ItemsText(items, now))
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}
