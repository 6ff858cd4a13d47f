package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tuition-payflow/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print payflow build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "payflow %s\n", version.Version)
		fmt.Fprintf(out, "commit: %s\nbuilt:  %s\n", version.Commit, version.BuildDate)
	},
}
