package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dayuer/scenebus/internal/config"
	"github.com/dayuer/scenebus/internal/routing"
)

var routesCmd = &cobra.Command{
	Use:   "routes [file]",
	Short: "Validate a routes file and print the resolved rules",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfgPath := configPath()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		path = cfg.RoutesPath(cfgPath)
	}

	table, err := loadRoutes(path)
	if err != nil {
		return err
	}

	fmt.Printf("✅ %s: %d rules\n", path, table.Len())
	for _, r := range table.Rules() {
		state := ""
		if !r.IsEnabled() {
			state = " (disabled)"
		}
		fmt.Printf("  [%3d] %-24s tag=%-12q → %s/%s%s\n", r.Priority, r.Method, r.TagPrefix, r.Bus, r.QueueMode(), state)
	}
	fmt.Printf("  default → %s/%s, non-scene → %s/%s\n",
		routing.DefaultRoute.Bus, routing.DefaultRoute.Mode,
		routing.GlobalRoute.Bus, routing.GlobalRoute.Mode)
	return nil
}
