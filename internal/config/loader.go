package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"driftsync/pkg/logging"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a single directory. The directory
// should contain config.yaml plus the apps/ subdirectory for declarative
// Application files. A missing config.yaml is not an error; defaults apply.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if config.Source.CacheDir == "" {
		config.Source.CacheDir = filepath.Join(configPath, "repos")
	}

	return config, nil
}
