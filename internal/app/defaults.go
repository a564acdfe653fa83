package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment
// variables first. Environment variables:
//   - STOREWATCH_CONFIG_PATH: config file location (default: ~/.config/storewatch.toml)
//   - STOREWATCH_HOME: base directory for service data (default: ~/.local/share/storewatch)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking STOREWATCH_CONFIG_PATH
// first, then falling back to the default ~/.config/storewatch.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("STOREWATCH_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "storewatch.toml"), nil
}

// getBaseDir returns the base directory for service data, checking
// STOREWATCH_HOME first, then falling back to the XDG default
// ~/.local/share/storewatch.
func getBaseDir() (string, error) {
	if path := os.Getenv("STOREWATCH_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "storewatch"), nil
}
