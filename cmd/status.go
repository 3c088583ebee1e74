package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/scenebus/internal/config"
	"github.com/dayuer/scenebus/internal/messaging"
	"github.com/dayuer/scenebus/internal/redis"
	"github.com/dayuer/scenebus/internal/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scenebus configuration and live session stats",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("🚌 scenebus Status")
	fmt.Println()
	fmt.Printf("Config: %s\n", cfgPath)
	fmt.Printf("Routes: %s\n", cfg.RoutesPath(cfgPath))
	fmt.Printf("Kernel: %s:%d\n", cfg.Kernel.Host, cfg.Kernel.Port)
	fmt.Printf("Frame: %s\n", cfg.FrameInterval())

	fmt.Println("\nBuses:")
	ids := make([]string, 0, len(cfg.Buses))
	for id := range cfg.Buses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := cfg.Buses[id]
		mode := "fixed"
		if b.Throttle {
			mode = "throttled"
		}
		fmt.Printf("  %-7s %s to %s %s\n", id,
			utils.FormatMillis(config.Millis(b.BudgetMinMs)), utils.FormatMillis(config.Millis(b.BudgetMaxMs)), mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, source := loadLiveStats(ctx, cfg)
	if source == "" {
		fmt.Println("\nSessions: server not reachable")
		return nil
	}

	fmt.Printf("\nSessions (%s): %d\n", source, len(stats))
	if len(stats) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SESSION\tPENDING\tPROCESSED\tREJECTED\tREPLACED\tBUDGET\tLAST\tSTATE")
	for _, st := range stats {
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			messaging.SessionKey{SceneID: st.SceneID, BusID: st.BusID},
			st.Pending, st.Processed, st.Rejected, st.Replaced,
			utils.FormatMillis(config.Millis(st.TimeBudgetMs)),
			utils.FormatMillis(config.Millis(st.LastTimeConsumedMs)), st.State)
	}
	return w.Flush()
}

// loadLiveStats reads session stats from Redis, falling back to the kernel
// HTTP API. source is empty when neither answered.
func loadLiveStats(ctx context.Context, cfg config.Config) (stats []messaging.Stats, source string) {
	if cfg.Redis.URL != "" {
		store := redis.NewStore(redis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer store.Close()
		if store.Available() {
			if stats, err := store.LoadStats(ctx); err == nil {
				return stats, "redis"
			}
		}
	}

	url := fmt.Sprintf("http://%s:%d/api/scenes", cfg.Kernel.Host, cfg.Kernel.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ""
	}
	if cfg.Kernel.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Kernel.APIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ""
	}

	var body struct {
		Sessions []messaging.Stats `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ""
	}
	return body.Sessions, "kernel"
}
