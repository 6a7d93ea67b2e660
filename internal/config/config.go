// Package config handles Vaakya configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./vaakya.yaml, ~/.config/vaakya/config.yaml, /etc/vaakya/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"vaakya.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vaakya", "config.yaml"))
	}

	paths = append(paths, "/etc/vaakya/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Vaakya configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Model       ModelConfig       `yaml:"model"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Search      SearchConfig      `yaml:"search"`
	Apps        AppsConfig        `yaml:"apps"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the language model backend.
type ModelConfig struct {
	// BaseURL is the Ollama-compatible API endpoint.
	BaseURL string `yaml:"base_url"`
	// Name is the model to request (e.g., "qwen2.5:1.5b").
	Name string `yaml:"name"`
	// TokenBudget is the maximum cumulative context size sent per call.
	// Oldest non-pinned messages are evicted to stay under it.
	TokenBudget int `yaml:"token_budget"`
	// MaxRounds caps model-call/dispatch cycles per user turn.
	MaxRounds int `yaml:"max_rounds"`
	// TimeoutSec is the per-call timeout for the model backend.
	TimeoutSec int `yaml:"timeout_sec"`
}

// TranscriberConfig defines the speech-to-text service.
type TranscriberConfig struct {
	// URL is the transcription endpoint. Empty disables audio turns.
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// WorkspaceConfig defines the sandbox for file operations.
type WorkspaceConfig struct {
	// Roots are the directories file operations may touch.
	// Empty disables the file capability family.
	Roots []string `yaml:"roots"`
	// WriteExtensions restricts writes to these extensions
	// (e.g., ".txt", ".md"). Empty allows any extension.
	WriteExtensions []string `yaml:"write_extensions"`
}

// SearchConfig defines the web search backend and result bounds.
type SearchConfig struct {
	// Provider selects the backend: "duckduckgo" or "searxng".
	Provider string `yaml:"provider"`
	// SearXNGURL is the root URL of a SearXNG instance.
	SearXNGURL string `yaml:"searxng_url"`
	// MaxResults caps results per query.
	MaxResults int `yaml:"max_results"`
	// SnippetLength caps snippet size in bytes. Truncation never
	// splits a multi-byte character.
	SnippetLength int `yaml:"snippet_length"`
}

// AppsConfig defines application discovery and launch settings.
type AppsConfig struct {
	// ExtraDirs are additional directories scanned for applications.
	ExtraDirs []string `yaml:"extra_dirs"`
	// MatchThreshold is the minimum similarity score (0-100) for a
	// launch request to be accepted. Below it, candidates are suggested.
	MatchThreshold int `yaml:"match_threshold"`
	// LaunchTimeoutSec bounds the time spent starting an application.
	LaunchTimeoutSec int `yaml:"launch_timeout_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = "http://localhost:11434"
	}
	if c.Model.Name == "" {
		c.Model.Name = "qwen2.5:1.5b"
	}
	if c.Model.TokenBudget == 0 {
		c.Model.TokenBudget = 8192
	}
	if c.Model.MaxRounds == 0 {
		c.Model.MaxRounds = 8
	}
	if c.Model.TimeoutSec == 0 {
		c.Model.TimeoutSec = 120
	}
	if c.Transcriber.TimeoutSec == 0 {
		c.Transcriber.TimeoutSec = 120
	}
	if c.Search.Provider == "" {
		c.Search.Provider = "duckduckgo"
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 5
	}
	if c.Search.SnippetLength == 0 {
		c.Search.SnippetLength = 200
	}
	if c.Apps.MatchThreshold == 0 {
		c.Apps.MatchThreshold = 40
	}
	if c.Apps.LaunchTimeoutSec == 0 {
		c.Apps.LaunchTimeoutSec = 15
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}
