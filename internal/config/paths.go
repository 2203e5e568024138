package config

import (
	"os"
	"path/filepath"
)

const appDirName = "colprofile"

// ConfigDirectory returns ~/.config/colprofile (or the platform equivalent).
func ConfigDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appDirName)
		}
		return filepath.Join(homeDir, ".config", appDirName)
	}
	return filepath.Join(configDir, appDirName)
}

// DataDirectory holds the embedded badger databases and file backups.
func DataDirectory() string {
	return filepath.Join(ConfigDirectory(), "data")
}

// LogDirectory returns the directory for --log-file defaults.
func LogDirectory() string {
	return filepath.Join(ConfigDirectory(), "logs")
}

// DefaultCredentialsPath returns the INI credentials file location.
func DefaultCredentialsPath() string {
	return filepath.Join(ConfigDirectory(), "credentials")
}

// EnsureDirectory creates dir with owner-only permissions.
func EnsureDirectory(dir string) error {
	return os.MkdirAll(dir, 0700)
}
