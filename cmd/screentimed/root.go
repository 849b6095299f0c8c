package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "screentimed",
	Short: "screentimed - per-app daily screen time limit daemon",
	Long: `screentimed monitors foreground application usage, reconstructs per-app
usage sessions from OS transition events, and enforces configured daily
time budgets with block and warning notices.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to monitor command when no subcommand is provided
		return runMonitor(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/screentimed/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
