package config

import (
	"os"
	"path/filepath"
)

// defaultDataDir falls back to a relative path when the home directory
// can't be resolved.
func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".sentinel-agent")
	}
	return ".sentinel-agent"
}

func defaultInstallDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
