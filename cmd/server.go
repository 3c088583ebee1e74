package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/scenebus/internal/config"
	"github.com/dayuer/scenebus/internal/kernel"
	"github.com/dayuer/scenebus/internal/messaging"
	"github.com/dayuer/scenebus/internal/redis"
)

var (
	serverPort    int
	serverAPIKey  string
	serverNoWatch bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the scenebus server (kernel socket, frame scheduler, stats)",
	Long: `Start the scenebus server with:
  - Kernel websocket ingress (/ws) and HTTP API (/api/scenes, /api/messages)
  - Per-frame scheduler draining INIT/SYSTEM/UI buses under time budgets
  - Hot reload of config.json budgets and routes.yaml
  - Optional Redis stats publishing`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Kernel port (overrides config)")
	serverCmd.Flags().StringVar(&serverAPIKey, "api-key", "", "API key for auth (or SCENEBUS_API_KEY env)")
	serverCmd.Flags().BoolVar(&serverNoWatch, "no-watch", false, "Disable config and routes hot reload")
}

func runServer(cmd *cobra.Command, args []string) error {
	// 1. Load config
	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// --- Resolve settings: CLI flag → env var → config.json ---
	port := cfg.Kernel.Port
	if serverPort != 0 {
		port = serverPort
	}
	apiKey := serverAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("SCENEBUS_API_KEY")
	}
	if apiKey == "" {
		apiKey = cfg.Kernel.APIKey
	}

	fmt.Println("🚌 Starting scenebus server...")
	fmt.Printf("   Config: %s\n", cfgPath)

	// 2. Routes
	routesPath := cfg.RoutesPath(cfgPath)
	table, err := loadRoutes(routesPath)
	if err != nil {
		return err
	}
	fmt.Printf("   ✅ %d routes (%s)\n", table.Len(), routesPath)

	// 3. Scheduler + scene controller
	counter := messaging.NewMethodCounter()
	sched, ctrl, err := makeScheduler(cfg, counter)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	// 4. Kernel server
	srv, err := kernel.NewServer(kernel.ServerConfig{
		Host:      cfg.Kernel.Host,
		Port:      port,
		APIKey:    apiKey,
		Scheduler: sched,
		Routes:    table,
		Scenes:    ctrl,
		Counter:   counter,
	})
	if err != nil {
		return err
	}

	// 5. Redis stats (optional)
	store := redis.NewStore(redis.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer store.Close()
	reporter := redis.NewReporter(store, sched,
		time.Duration(cfg.Redis.StatsIntervalSec)*time.Second,
		time.Duration(cfg.Redis.TTLSec)*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Hot reload
	reload := func() {
		if err := reloadConfig(cfgPath, sched); err != nil {
			log.Printf("⚠️ Config reload failed: %v", err)
		}
		if err := table.Reload(routesPath); err != nil {
			log.Printf("⚠️ Routes reload failed: %v", err)
		}
	}
	if !serverNoWatch {
		watcher, err := config.NewWatcher(0)
		if err != nil {
			log.Printf("⚠️ Hot reload disabled: %v", err)
		} else {
			defer watcher.Close()
			watched := watchFiles(watcher, map[string]config.ReloadFunc{
				cfgPath:    func(string) error { return reloadConfig(cfgPath, sched) },
				routesPath: table.Reload,
			})
			watcher.Start()
			fmt.Printf("   ✅ Watching %d/2 files for changes\n", watched)
		}
	}

	fmt.Printf("   ✅ Frame interval %s\n", cfg.FrameInterval())
	fmt.Println("────────────────────────────────────────")

	isForeground := false
	if _, err := os.Stat(pidFilePath()); os.IsNotExist(err) {
		writePID(os.Getpid())
		isForeground = true
	}
	defer func() {
		if isForeground {
			removePID()
		}
	}()

	// 7. Graceful shutdown + SIGHUP reload
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					log.Println("🔄 SIGHUP received, reloading config and routes...")
					reload()
				case syscall.SIGINT, syscall.SIGTERM:
					fmt.Println("\n🛑 Shutting down...")
					cancel()
					return
				}
			}
		}
	}()

	// 8. Run scheduler + reporter, serve kernel (blocks)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx, cfg.FrameInterval())
	}()
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	err = srv.Start(ctx)
	cancel()
	wg.Wait()
	return err
}

// reloadConfig re-reads the bus budgets. Other settings need a restart.
// watchFiles registers each file with w and returns how many were added.
// Failures are logged; the server keeps running without hot reload for them.
func watchFiles(w *config.Watcher, files map[string]config.ReloadFunc) int {
	added := 0
	for path, fn := range files {
		if err := w.Add(path, fn); err != nil {
			log.Printf("⚠️ Hot reload disabled for %s: %v", path, err)
			continue
		}
		added++
	}
	return added
}

func reloadConfig(path string, sched *messaging.Scheduler) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	sched.SetBuses(cfg.SchedulerBuses())
	log.Printf("[Config] Bus budgets updated (%d buses), applied to new sessions", len(cfg.Buses))
	return nil
}
