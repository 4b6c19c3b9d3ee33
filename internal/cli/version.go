package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X healthtimer/internal/cli.version=...".
var (
	version = "dev"
	commit  = "none"
)

func addVersion(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "print the healthtimer version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			rev := commit
			if bi, ok := debug.ReadBuildInfo(); ok && rev == "none" {
				for _, s := range bi.Settings {
					if s.Key == "vcs.revision" {
						rev = s.Value
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "healthtimer %s (%s)\n", version, rev)
		},
	}
	topLevel.AddCommand(cmd)
}
