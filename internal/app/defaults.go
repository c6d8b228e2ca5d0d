package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetConfigPath returns the config file path, checking the
// DISTRIBOX_CONFIG_PATH env var first, then falling back to the default
// ~/.config/distribox.toml.
func GetConfigPath() (string, error) {
	if path := os.Getenv("DISTRIBOX_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "distribox.toml"), nil
}
