package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/scenebus/internal/messaging"
)

// --- Schema Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 18795, cfg.Kernel.Port)
	assert.Equal(t, "127.0.0.1", cfg.Kernel.Host)
	assert.Len(t, cfg.Buses, 3)
	assert.True(t, cfg.Buses[messaging.BusUI].Throttle)
	assert.False(t, cfg.Buses[messaging.BusInit].Throttle)
	assert.Empty(t, cfg.Redis.URL)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_CamelCaseJSON(t *testing.T) {
	jsonStr := `{
		"frame": {"intervalMs": 33},
		"buses": {"UI": {"budgetMinMs": 1, "budgetMaxMs": 3, "throttle": true}},
		"throttle": {"alpha": 0.5, "horizon": 2},
		"kernel": {"port": 9090, "apiKey": "k"},
		"redis": {"url": "redis://localhost:6379", "statsIntervalSec": 2, "ttlSec": 10},
		"scene": {"componentLoadDelayMs": 50},
		"routesFile": "~/routes.yaml"
	}`

	var cfg Config
	err := json.Unmarshal([]byte(jsonStr), &cfg)
	require.NoError(t, err)

	assert.Equal(t, 33*time.Millisecond, cfg.FrameInterval())
	assert.Equal(t, 3.0, cfg.Buses["UI"].BudgetMaxMs)
	assert.Equal(t, 0.5, cfg.Throttle.Alpha)
	assert.Equal(t, 9090, cfg.Kernel.Port)
	assert.Equal(t, "k", cfg.Kernel.APIKey)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 50.0, cfg.Scene.ComponentLoadDelayMs)
	assert.Equal(t, "~/routes.yaml", cfg.RoutesFile)
}

func TestSchedulerBuses(t *testing.T) {
	buses := DefaultConfig().SchedulerBuses()
	assert.Equal(t, 500*time.Microsecond, buses[messaging.BusUI].BudgetMin)
	assert.Equal(t, 2*time.Millisecond, buses[messaging.BusUI].BudgetMax)
	assert.Equal(t, 8*time.Millisecond, buses[messaging.BusInit].BudgetMax)
}

func TestFrameInterval_Default(t *testing.T) {
	var cfg Config
	assert.Equal(t, Millis(16.667), cfg.FrameInterval())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buses = nil
	assert.ErrorIs(t, cfg.Validate(), ErrNoBuses)

	cfg = DefaultConfig()
	cfg.Buses["UI"] = BusConfig{BudgetMinMs: 5, BudgetMaxMs: 1}
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidBudget)
	var be *BusError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "UI", be.Bus)

	cfg = DefaultConfig()
	cfg.Kernel.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPort)
}

// --- Loader Tests ---

func TestLoad_FileNotExist(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"kernel": {"port": 9000}, "buses": {"UI": {"budgetMinMs": 1, "budgetMaxMs": 4}}}`
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Kernel.Port)
	assert.Equal(t, 4.0, cfg.Buses["UI"].BudgetMaxMs)
	// Defaults should be preserved for unset fields
	assert.Equal(t, "127.0.0.1", cfg.Kernel.Host)
	assert.Equal(t, 8.0, cfg.Buses["INIT"].BudgetMaxMs)
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	err := os.WriteFile(path, []byte("{invalid json}"), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	assert.Error(t, err)
	// Should return defaults on error
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_InvalidBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"buses": {"UI": {"budgetMinMs": 9, "budgetMaxMs": 2}}}`), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestSave_And_Load_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")

	cfg := DefaultConfig()
	cfg.Kernel.APIKey = "secret"
	cfg.Redis.URL = "redis://127.0.0.1:6379"

	err := Save(cfg, path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", loaded.Kernel.APIKey)
	assert.Equal(t, "redis://127.0.0.1:6379", loaded.Redis.URL)
}

func TestSave_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "config.json")

	err := Save(DefaultConfig(), path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestRoutesPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("/etc/scenebus", "routes.yaml"), cfg.RoutesPath("/etc/scenebus/config.json"))

	cfg.RoutesFile = "/opt/routes.yaml"
	assert.Equal(t, "/opt/routes.yaml", cfg.RoutesPath("/etc/scenebus/config.json"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x.yaml"), ExpandHome("~/x.yaml"))
	assert.Equal(t, "/abs/x.yaml", ExpandHome("/abs/x.yaml"))
}

// --- Watcher Tests ---

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0644))

	w, err := NewWatcher(20 * time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	var calls atomic.Int32
	require.NoError(t, w.Add(path, func(p string) error {
		calls.Add(1)
		return nil
	}))
	w.Start()

	require.NoError(t, os.WriteFile(path, []byte("rules: [{method: X, bus: UI}]\n"), 0644))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	w, err := NewWatcher(10 * time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	var calls atomic.Int32
	require.NoError(t, w.Add(path, func(string) error {
		calls.Add(1)
		return nil
	}))
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
