package cmd

import (
	"fmt"

	"github.com/dayuer/scenebus/internal/config"
	"github.com/dayuer/scenebus/internal/messaging"
	"github.com/dayuer/scenebus/internal/routing"
	"github.com/dayuer/scenebus/internal/scene"
)

// configPath resolves the --config flag.
func configPath() string {
	if configFile != "" {
		return config.ExpandHome(configFile)
	}
	return config.GetConfigPath()
}

// loadRoutes builds the routing table from the routes file, falling back to
// the built-in rules when the file is missing.
func loadRoutes(path string) (*routing.Table, error) {
	rules, err := routing.LoadFileOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	return routing.NewTable(rules)
}

// makeScheduler wires the scene controller to a scheduler configured from cfg.
func makeScheduler(cfg config.Config, observer *messaging.MethodCounter) (*messaging.Scheduler, *scene.Controller, error) {
	ctrl := scene.NewController(scene.Config{
		ComponentLoadDelay: config.Millis(cfg.Scene.ComponentLoadDelayMs),
	})

	sched, err := messaging.NewScheduler(messaging.SchedulerConfig{
		Handler:         ctrl,
		Buses:           cfg.SchedulerBuses(),
		ThrottleAlpha:   cfg.Throttle.Alpha,
		ThrottleHorizon: cfg.Throttle.Horizon,
		Observer:        observer,
	})
	if err != nil {
		return nil, nil, err
	}
	ctrl.SetUnloader(sched)
	return sched, ctrl, nil
}
