// Package config handles loading and managing email-reader configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
)

// AuthConfig identifies the Azure app registration used to sign in.
type AuthConfig struct {
	TenantID   string `toml:"tenant_id"`
	ClientID   string `toml:"client_id"`
	TokenCache string `toml:"token_cache"` // path to the cached token JSON
}

// GraphConfig holds Graph API settings.
type GraphConfig struct {
	Endpoint string `toml:"endpoint"`
}

// LedgerConfig holds processed-message ledger settings.
type LedgerConfig struct {
	Path    string `toml:"path"`
	Backend string `toml:"backend"` // "json" (default) or "sqlite"
}

// AgentConfig holds reasoning-engine settings. The API key is read from
// the ANTHROPIC_API_KEY environment variable, never from the file.
type AgentConfig struct {
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	APIKey    string `toml:"-"`
}

// Config is the email-reader configuration.
type Config struct {
	Auth   AuthConfig   `toml:"auth"`
	Graph  GraphConfig  `toml:"graph"`
	Ledger LedgerConfig `toml:"ledger"`
	Agent  AgentConfig  `toml:"agent"`

	// Computed, not from the config file.
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default email-reader home directory. Respects
// the EMAIL_READER_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("EMAIL_READER_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".email-reader"
	}
	return filepath.Join(home, ".email-reader")
}

// Load reads configuration from the given file, or from
// <home>/config.toml when path is empty. The file is optional; defaults
// apply when it is absent.
func Load(path, home string) (*Config, error) {
	if home == "" {
		home = DefaultHome()
	}
	if path == "" {
		path = filepath.Join(home, "config.toml")
	}

	cfg := &Config{
		HomeDir: home,
		Auth: AuthConfig{
			TenantID:   os.Getenv("TENANT_ID"),
			ClientID:   os.Getenv("CLIENT_ID"),
			TokenCache: filepath.Join(home, "token.json"),
		},
		Graph: GraphConfig{
			Endpoint: "https://graph.microsoft.com/v1.0",
		},
		Ledger: LedgerConfig{
			Path:    filepath.Join(home, "processed_emails.json"),
			Backend: "json",
		},
		Agent: AgentConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, eris.Wrapf(err, "decode config %s", path)
		}
	}

	cfg.Agent.APIKey = os.Getenv("ANTHROPIC_API_KEY")

	cfg.Auth.TokenCache = expandPath(cfg.Auth.TokenCache)
	cfg.Ledger.Path = expandPath(cfg.Ledger.Path)
	return cfg, nil
}

// EnsureHomeDir creates the home directory if needed.
func (c *Config) EnsureHomeDir() error {
	if err := os.MkdirAll(c.HomeDir, 0o700); err != nil {
		return eris.Wrapf(err, "create home directory %s", c.HomeDir)
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
