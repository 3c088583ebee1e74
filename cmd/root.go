package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "scenebus",
	Short: "scenebus: frame-budgeted scene message bus",
	Long:  "scenebus routes scene runtime messages onto INIT/SYSTEM/UI buses and drains them under a per-frame time budget.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.json (default ~/.scenebus/config.json)")
}
