package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath returns the per-user config file location,
// e.g. ~/.config/drover/config.toml on Linux.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return filepath.Join(dir, "drover", "config.toml"), nil
}

// DataDir returns drover's per-user data directory (~/.drover), holding the
// updates log, the installer lock, and the download staging area.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".drover"), nil
}

// UpdateLogPath returns the append-only updates log location.
func UpdateLogPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "updates.log"), nil
}

// InstallerLockPath returns the advisory lock shared by installing
// processes. Distinct from the per-config-file mutation lock.
func InstallerLockPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "update.lock"), nil
}

// StagingDir returns the directory downloads are staged into.
func StagingDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tmp"), nil
}
