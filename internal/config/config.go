// Package config loads per-repository indexing settings.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds user-overridable indexing settings.
// Loaded from .repograph.yml in the repository root.
type Config struct {
	Index IndexConfig `yaml:"index"`
}

// IndexConfig holds indexer-specific settings.
type IndexConfig struct {
	// IgnoreDirs are directory name patterns to skip during discovery,
	// added to (not replacing) the built-in ignore set.
	IgnoreDirs []string `yaml:"ignore_dirs"`

	// Languages restricts indexing to the named languages. Empty means
	// every supported language.
	Languages []string `yaml:"languages"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{}
}

// Load reads .repograph.yml from the given directory.
// Returns the default config if the file doesn't exist or is invalid.
func Load(dir string) *Config {
	cfg := Default()

	path := filepath.Join(dir, ".repograph.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // file not found or unreadable — use defaults
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default() // invalid YAML — use defaults
	}

	return cfg
}

// LanguageEnabled reports whether a language is enabled by the config.
func (c *Config) LanguageEnabled(name string) bool {
	if len(c.Index.Languages) == 0 {
		return true
	}
	for _, l := range c.Index.Languages {
		if l == name {
			return true
		}
	}
	return false
}
