package config

import (
	"os"
	"path/filepath"
)

// DayflowPath returns the directory holding the config, database, key and
// heartbeat files.
func DayflowPath() string {
	if v := os.Getenv("DAYFLOW_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".dayflow")
	}
	return filepath.Join(home, ".dayflow")
}

// ConfigPath returns the path to the dayflow config file.
func ConfigPath() string {
	return filepath.Join(DayflowPath(), "config.jsonc")
}

// HeartbeatPath returns the path to the serve process liveness file.
func HeartbeatPath() string {
	return filepath.Join(DayflowPath(), "heartbeat.json")
}
