package config

import (
	"os"
	"path/filepath"
)

const (
	// AppsDir is the subdirectory of the configuration directory holding
	// declarative Application YAML files.
	AppsDir = "apps"

	userConfigDir  = ".config/driftsync"
	configFileName = "config.yaml"
)

// GetDefaultConfig returns the built-in defaults, applied before config.yaml
// is merged on top.
func GetDefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Controller: ControllerConfig{
			Workers:                 2,
			MaxRetries:              5,
			InitialBackoffSeconds:   1,
			MaxBackoffSeconds:       300,
			ReconcileTimeoutSeconds: 60,
			ResyncIntervalSeconds:   180,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8334,
		},
		Source: SourceConfig{
			PollIntervalSeconds: 30,
		},
	}
}

// GetDefaultConfigPathOrPanic returns ~/.config/driftsync.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(homeDir, userConfigDir)
}
