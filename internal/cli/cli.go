// Package cli wires the healthtimer command tree.
package cli

import (
	"github.com/spf13/cobra"

	"healthtimer/internal/config"
)

const defaultConfigPath = "healthtimer.yaml"

type rootOptions struct {
	ConfigPath string
	EnvFile    string
}

func New() *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "healthtimer",
		Short:         "Periodic exercise and wellness reminders.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(ro.EnvFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&ro.ConfigPath, "config", "c", defaultConfigPath, "path to the JSON or YAML config file")
	cmd.PersistentFlags().StringVar(&ro.EnvFile, "env-file", ".env", "dotenv file with secrets (skipped when missing)")

	addRun(cmd, ro)
	addTUI(cmd, ro)
	addStatus(cmd, ro)
	addItems(cmd, ro)
	addConfig(cmd, ro)
	addVersion(cmd)
	return cmd
}
