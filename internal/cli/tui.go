package cli

import (
	"github.com/spf13/cobra"

	"healthtimer/internal/app"
	"healthtimer/internal/config"
	"healthtimer/internal/reminder"
	"healthtimer/internal/tui"
)

func addTUI(topLevel *cobra.Command, ro *rootOptions) {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "run reminders in the terminal",
		Long:  "Runs the full daemon with a terminal screen. Logs go to the configured file, or healthtimer.log next to the config.",
		Example: `
healthtimer tui
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgm := config.NewManager(ro.ConfigPath)
			alerts := make(chan reminder.Alert, 4)
			a, err := app.New(cfgm, app.Options{Alerts: alerts, Quiet: true})
			if err != nil {
				return err
			}
			if err := a.Start(cmd.Context()); err != nil {
				stopApp(a, app.StopFatalError)
				return err
			}
			d, _ := cfgm.Get().Reminders.Durations()
			err = tui.Run(cmd.Context(), tui.Options{
				Controller: a.Coordinator(),
				Tester:     a.Notifier(),
				Alerts:     alerts,
				Refresh:    d.StatusRefresh,
			})
			stopApp(a, app.StopUserQuit)
			return err
		},
	}
	topLevel.AddCommand(cmd)
}
