// Package cmd provides the CLI commands for subgate-server.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "subgate-server",
	Short: "Subgate - proxy subscription access and delivery server",
	Long: `Subgate keeps a registry of proxy nodes, decides which nodes each
subscriber may use, and serves client configurations in plain, Clash and
sing-box formats. Node agents pull their configuration and user lists from it
and report per-user traffic back.

Configuration is read from config.yaml (/etc/subgate, $HOME/.subgate or the
working directory), SUBGATE_* environment variables and flags.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to config file (default: search for config.yaml)")
}
