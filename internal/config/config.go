// Package config manages persistent settings for the patchbay daemon.
// Settings are stored as JSON at os.UserConfigDir()/patchbay/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds the daemon's persistent settings.
type Config struct {
	Token            uint8         `json:"token"`
	InputDevice      string        `json:"input_device"`
	OutputDevice     string        `json:"output_device"`
	Rate             int           `json:"rate"`
	PeriodMs         int           `json:"period_ms"`
	SilenceThreshold float64       `json:"silence_threshold,omitempty"`
	Remotes          []RemoteEntry `json:"remotes,omitempty"`
}

// RemoteEntry is a saved UDP destination.
type RemoteEntry struct {
	Host  string `json:"host"`
	Token uint8  `json:"token"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Token:        1,
		InputDevice:  "default_input",
		OutputDevice: "default_output",
		Rate:         48000,
		PeriodMs:     10,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "patchbay", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
