// Package config handles configuration loading, saving, and schema definition.
package config

import (
	"time"

	"github.com/dayuer/scenebus/internal/messaging"
)

// Config is the top-level scenebus configuration.
// Uses json tags in camelCase to match the JSON config file format.
type Config struct {
	Frame      FrameConfig          `json:"frame"`
	Buses      map[string]BusConfig `json:"buses"`
	Throttle   ThrottleConfig       `json:"throttle"`
	Kernel     KernelConfig         `json:"kernel"`
	Redis      RedisConfig          `json:"redis"`
	Scene      SceneConfig          `json:"scene"`
	RoutesFile string               `json:"routesFile,omitempty"`
}

// FrameConfig holds the scheduler frame rate.
type FrameConfig struct {
	IntervalMs float64 `json:"intervalMs,omitempty"`
}

// BusConfig holds per-bus budget bounds, in milliseconds.
type BusConfig struct {
	BudgetMinMs float64 `json:"budgetMinMs"`
	BudgetMaxMs float64 `json:"budgetMaxMs"`
	Throttle    bool    `json:"throttle,omitempty"`
}

// ThrottleConfig tunes the adaptive budget curve.
type ThrottleConfig struct {
	Alpha   float64 `json:"alpha,omitempty"`
	Horizon float64 `json:"horizon,omitempty"`
}

// KernelConfig holds the ingress server settings.
type KernelConfig struct {
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

// RedisConfig holds the stats store connection. An empty URL disables it.
type RedisConfig struct {
	URL              string `json:"url,omitempty"` // redis://host:port
	Password         string `json:"password,omitempty"`
	DB               int    `json:"db,omitempty"`
	StatsIntervalSec int    `json:"statsIntervalSec,omitempty"`
	TTLSec           int    `json:"ttlSec,omitempty"`
}

// SceneConfig holds reference scene runtime settings.
type SceneConfig struct {
	ComponentLoadDelayMs float64 `json:"componentLoadDelayMs,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Frame: FrameConfig{
			IntervalMs: 16.667, // 60 FPS
		},
		Buses: map[string]BusConfig{
			messaging.BusInit:   {BudgetMinMs: 1, BudgetMaxMs: 8},
			messaging.BusSystem: {BudgetMinMs: 1, BudgetMaxMs: 4, Throttle: true},
			messaging.BusUI:     {BudgetMinMs: 0.5, BudgetMaxMs: 2, Throttle: true},
		},
		Kernel: KernelConfig{
			Host: "127.0.0.1",
			Port: 18795,
		},
		Redis: RedisConfig{
			StatsIntervalSec: 5,
			TTLSec:           60,
		},
	}
}

// Millis converts a millisecond config value to a Duration.
func Millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// FrameInterval returns the scheduler frame interval.
func (c Config) FrameInterval() time.Duration {
	if c.Frame.IntervalMs <= 0 {
		return Millis(DefaultConfig().Frame.IntervalMs)
	}
	return Millis(c.Frame.IntervalMs)
}

// SchedulerBuses converts the bus section for the scheduler.
func (c Config) SchedulerBuses() map[string]messaging.BusConfig {
	out := make(map[string]messaging.BusConfig, len(c.Buses))
	for id, b := range c.Buses {
		out[id] = messaging.BusConfig{
			BudgetMin: Millis(b.BudgetMinMs),
			BudgetMax: Millis(b.BudgetMaxMs),
			Throttle:  b.Throttle,
		}
	}
	return out
}

// Validate checks the budget bounds. A zero minimum would select the
// messaging default, so bounds must be positive.
func (c Config) Validate() error {
	if len(c.Buses) == 0 {
		return ErrNoBuses
	}
	for id, b := range c.Buses {
		if b.BudgetMinMs <= 0 || b.BudgetMaxMs < b.BudgetMinMs {
			return &BusError{Bus: id, Err: ErrInvalidBudget}
		}
	}
	if c.Kernel.Port < 0 || c.Kernel.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}
