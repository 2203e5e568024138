package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"
)

// Credentials is the elevation provider login kept outside the YAML config.
//
// INI format:
//
//	[elevation]
//	base_url = https://api.open-elevation.com
//	api_key = <key>
type Credentials struct {
	BaseURL string `ini:"base_url"`
	APIKey  string `ini:"api_key"`
}

var ErrMissingAPIKey = errors.New("api_key is required")

const credentialsSection = "elevation"

// LoadCredentials reads path. A missing file yields empty credentials and no error.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{}
	if path == "" {
		path = DefaultCredentialsPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return creds, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	section := iniFile.Section(credentialsSection)
	creds.BaseURL = strings.TrimSpace(section.Key("base_url").String())
	creds.APIKey = strings.TrimSpace(section.Key("api_key").String())
	return creds, nil
}

// SaveCredentials writes creds to path with owner-only permissions.
func SaveCredentials(creds *Credentials, path string) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if path == "" {
		path = DefaultCredentialsPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	section, err := iniFile.NewSection(credentialsSection)
	if err != nil {
		return fmt.Errorf("failed to create %s section: %w", credentialsSection, err)
	}
	if creds.BaseURL != "" {
		section.Key("base_url").SetValue(creds.BaseURL)
	}
	section.Key("api_key").SetValue(creds.APIKey)

	// Temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set credentials permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Validate checks the key is present.
func (c *Credentials) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Redacted returns the key with all but its last four characters masked.
func (c *Credentials) Redacted() string {
	return Redact(c.APIKey)
}

// Redact masks all but the last four characters of secret.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
