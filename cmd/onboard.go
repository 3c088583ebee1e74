package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dayuer/scenebus/internal/config"
	"github.com/dayuer/scenebus/internal/routing"
	"github.com/dayuer/scenebus/internal/utils"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize scenebus configuration and routes",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := configPath()

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s\n", cfgPath)
	} else {
		if _, err := utils.EnsureDir(filepath.Dir(cfgPath)); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
		if err := config.Save(config.DefaultConfig(), cfgPath); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Printf("✓ Created config at %s\n", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	routesPath := cfg.RoutesPath(cfgPath)
	if _, err := os.Stat(routesPath); os.IsNotExist(err) {
		if _, err := utils.EnsureDir(filepath.Dir(routesPath)); err != nil {
			return fmt.Errorf("creating routes dir: %w", err)
		}
		if err := os.WriteFile(routesPath, []byte(routing.DefaultRulesYAML), 0644); err != nil {
			return fmt.Errorf("creating routes: %w", err)
		}
		fmt.Printf("✓ Created routes at %s\n", routesPath)
	} else {
		fmt.Printf("Routes already exist at %s\n", routesPath)
	}

	fmt.Println("\n🚌 scenebus is ready!")
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Tune bus budgets in %s\n", cfgPath)
	fmt.Println("  2. Start: scenebus server")
	fmt.Println("  3. Send:  scenebus send -f messages.jsonl")

	return nil
}
