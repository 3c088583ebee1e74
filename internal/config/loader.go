package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// GetConfigDir returns the scenebus data directory (~/.scenebus).
func GetConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scenebus")
}

// GetConfigPath returns the default config file path (~/.scenebus/config.json).
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// ExpandHome resolves a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// RoutesPath returns the routes file to use: the configured one, or
// routes.yaml next to the config file.
func (c Config) RoutesPath(configPath string) string {
	if c.RoutesFile != "" {
		return ExpandHome(c.RoutesFile)
	}
	if configPath == "" {
		configPath = GetConfigPath()
	}
	return filepath.Join(filepath.Dir(configPath), "routes.yaml")
}

// Load reads configuration from a JSON file.
// If path is empty, uses the default config path.
// If the file doesn't exist, returns DefaultConfig().
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}

	cfg := DefaultConfig() // start with defaults so zero-value fields get filled
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Save writes configuration to a JSON file.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
