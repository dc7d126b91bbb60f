package types

import (
	"fmt"
	"maps"
	"strings"
)

// PluginConfig is the resolved configuration for one source. Credential values
// are already materialized secrets.
type PluginConfig struct {
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	Credentials map[string]string `yaml:"credentials" json:"-"`
	Category    string            `yaml:"category" json:"category"`
}

// Clone returns a deep copy so a plugin can never mutate the caller's map.
func (c PluginConfig) Clone() PluginConfig {
	c.Credentials = maps.Clone(c.Credentials)
	return c
}

// Credential returns the named credential or "" if it is not configured.
func (c PluginConfig) Credential(key string) string { return c.Credentials[key] }

// Validate checks the fields every plugin relies on.
func (c PluginConfig) Validate() error {
	if strings.TrimSpace(c.Category) == "" {
		return fmt.Errorf("category is required")
	}
	for k, v := range c.Credentials {
		if v == "" {
			return fmt.Errorf("credential %q is empty", k)
		}
	}
	return nil
}
