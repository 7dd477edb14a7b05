package cli

import (
	"fmt"
	"runtime"

	"github.com/4-proxy/nekodb"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags
var (
	commit = "unknown"
	date   = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	return fmt.Sprintf("nekoshop %s (%s, %s) %s/%s", nekodb.Version(), commit, date, runtime.GOOS, runtime.GOARCH)
}
