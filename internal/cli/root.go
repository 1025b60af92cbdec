package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Persistent flags shared by all commands.
var (
	configFlag  string
	verboseFlag bool
)

// rootCmd is the base command for the hostbeat CLI.
var rootCmd = &cobra.Command{
	Use:   "hostbeat",
	Short: "Host metrics monitoring with SSH remote collection",
	Long: `hostbeat polls system metrics from the local host or a remote host
over SSH and serves them to live dashboards.

Run 'hostbeat serve' to expose the HTTP/WebSocket API, or
'hostbeat watch' for a terminal dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			os.Setenv("HOSTBEAT_DEBUG", "1")
		}
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Config returns the --config flag value.
func Config() string {
	return configFlag
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
}
