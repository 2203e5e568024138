package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Redacted returns a copy of cfg with every secret masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Elevation.APIKey = Redact(c.Elevation.APIKey)
	out.Proxy.Password = Redact(c.Proxy.Password)
	out.Backup.S3.SecretAccessKey = Redact(c.Backup.S3.SecretAccessKey)
	out.Backup.Azure.SASURL = redactQuery(c.Backup.Azure.SASURL)
	return &out
}

// redactQuery masks the SAS token of an account URL, keeping the host visible.
func redactQuery(u string) string {
	base, query, ok := strings.Cut(u, "?")
	if !ok {
		return u
	}
	return base + "?" + Redact(query)
}

// MarshalYAML renders cfg with the same keys the config file uses.
// Durations are written in their string form ("30s") so the output can be
// pasted back into a config file.
func MarshalYAML(cfg *Config) ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to flatten config: %w", err)
	}
	for key, val := range k.All() {
		if d, ok := val.(time.Duration); ok {
			if err := k.Set(key, d.String()); err != nil {
				return nil, err
			}
		}
	}
	return k.Marshal(yaml.Parser())
}
