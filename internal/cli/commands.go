package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hostbeat/hostbeat/internal/errors"
)

// Command-specific flags
var (
	serveHostFlag      string
	servePortFlag      int
	serveIntervalFlag  string
	serveAutostartFlag bool
	watchRemoteFlag    string
	watchIntervalFlag  string
	watchAskPassFlag   bool
	snapRemoteFlag     string
	snapAskPassFlag    bool
	snapTimeoutFlag    string
	initForce          bool
)

// serveCmd runs the metrics server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metrics HTTP/WebSocket server",
	Long: `Start the monitoring service and serve metrics over HTTP and WebSocket.

Dashboards pull snapshots from /metrics or subscribe to /ws for pushed
updates. Remote hosts from the config file are preloaded; connect to them
through the /connection endpoints or set 'default' in the config.

Examples:
  hostbeat serve
  hostbeat serve --port 9100
  hostbeat serve --interval 2s --autostart`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand(serveHostFlag, servePortFlag, serveIntervalFlag, serveAutostartFlag)
	},
}

// watchCmd starts the TUI dashboard.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal dashboard of system metrics",
	Long: `Start an interactive terminal view of CPU, memory, disk, network,
process, and service metrics, refreshed on the collection interval.

Watches the local host by default. Pass --remote to monitor another
machine over SSH.

Keyboard shortcuts:
  q / Esc / Ctrl+C  Quit

Examples:
  hostbeat watch
  hostbeat watch --interval 2s
  hostbeat watch --remote deploy@db.example.com:22`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchCommand(watchRemoteFlag, watchIntervalFlag, watchAskPassFlag)
	},
}

// snapshotCmd collects once and prints JSON.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Collect one snapshot and print it as JSON",
	Long: `Collect a single metrics snapshot and write it to stdout as JSON.

Useful for scripting and for checking what a remote host reports
without starting the server.

Examples:
  hostbeat snapshot
  hostbeat snapshot --remote deploy@db.example.com
  hostbeat snapshot --remote db --ask-pass | jq .cpu_percent`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotCommand(snapRemoteFlag, snapAskPassFlag, snapTimeoutFlag)
	},
}

// initCmd creates a new .hostbeat.yaml configuration.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .hostbeat.yaml configuration",
	Long: `Write a commented default configuration file to the current directory.

Examples:
  hostbeat init
  hostbeat init --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(initForce)
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for hostbeat.

Examples:
  # Bash
  hostbeat completion bash > /etc/bash_completion.d/hostbeat

  # Zsh
  hostbeat completion zsh > "${fpath[1]}/_hostbeat"

  # Fish
  hostbeat completion fish > ~/.config/fish/completions/hostbeat.fish`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(os.Stdout)
		default:
			return errors.New(errors.ErrExec,
				"Unknown shell: "+args[0],
				"Supported shells: bash, zsh, fish, powershell")
		}
	},
}

func init() {
	// serve command flags
	serveCmd.Flags().StringVar(&serveHostFlag, "host", "", "bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePortFlag, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveIntervalFlag, "interval", "", "collection interval (e.g., 2s, 5s)")
	serveCmd.Flags().BoolVar(&serveAutostartFlag, "autostart", false, "start collecting immediately")

	// watch command flags
	watchCmd.Flags().StringVar(&watchRemoteFlag, "remote", "", "remote target (user@host:port)")
	watchCmd.Flags().StringVar(&watchIntervalFlag, "interval", "", "refresh interval (e.g., 2s, 5s)")
	watchCmd.Flags().BoolVar(&watchAskPassFlag, "ask-pass", false, "prompt for an SSH password")

	// snapshot command flags
	snapshotCmd.Flags().StringVar(&snapRemoteFlag, "remote", "", "remote target (user@host:port)")
	snapshotCmd.Flags().BoolVar(&snapAskPassFlag, "ask-pass", false, "prompt for an SSH password")
	snapshotCmd.Flags().StringVar(&snapTimeoutFlag, "timeout", "", "collection timeout (default 15s)")

	// init command flags
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing config")

	// Register all commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(completionCmd)
}
