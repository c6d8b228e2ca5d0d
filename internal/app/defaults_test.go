package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("uses env var when set", func(t *testing.T) {
		t.Setenv("DISTRIBOX_CONFIG_PATH", "/custom/distribox.toml")

		path, err := GetConfigPath()
		if err != nil {
			t.Fatalf("GetConfigPath() error = %v", err)
		}
		if path != "/custom/distribox.toml" {
			t.Errorf("path = %q, want /custom/distribox.toml", path)
		}
	})

	t.Run("falls back to home dir default", func(t *testing.T) {
		t.Setenv("DISTRIBOX_CONFIG_PATH", "")

		path, err := GetConfigPath()
		if err != nil {
			t.Fatalf("GetConfigPath() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		want := filepath.Join(homeDir, ".config", "distribox.toml")
		if path != want {
			t.Errorf("path = %q, want %q", path, want)
		}
	})
}
