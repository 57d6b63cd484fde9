// Package config loads environment-based configuration for gitnotes.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"

	"github.com/alexjbarnes/gitnotes/internal/remote"
)

// Config holds all environment-based configuration for gitnotes.
type Config struct {
	// GitHub access. A token takes precedence; without one the daemon
	// falls back to a previously cached token, then to exchanging
	// GITHUB_OAUTH_CODE through the OAuth app identified by the client
	// id and secret.
	Token        string `env:"GITHUB_TOKEN"`
	ClientID     string `env:"GITHUB_CLIENT_ID"`
	ClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	OAuthCode    string `env:"GITHUB_OAUTH_CODE"`

	// Repository the notes live in.
	RepoOwner  string `env:"REPO_OWNER"`
	RepoName   string `env:"REPO_NAME"`
	RepoBranch string `env:"REPO_BRANCH" envDefault:"main"`

	// MirrorDir enables the on-disk workspace mirror when set. Notes are
	// materialized there as editable Markdown files and external edits
	// flow back through the engine.
	MirrorDir string `env:"MIRROR_DIR"`

	// SyncInterval is how often the engine re-fetches the remote state.
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"30s"`

	// PingInterval is how often connectivity is probed while online.
	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"30s"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// MCP server settings (used when MCP is enabled)
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:":8090"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the GitHub token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve MirrorDir to an absolute path at startup. The mirror's
	// escape checks rely on string prefix comparison, which only works
	// reliably with absolute paths.
	if cfg.MirrorDir != "" {
		absDir, err := filepath.Abs(cfg.MirrorDir)
		if err != nil {
			return nil, fmt.Errorf("resolving mirror dir to absolute path: %w", err)
		}

		cfg.MirrorDir = absDir
	}

	return cfg, nil
}

// Validate checks field-level rules and the cross-field requirements
// the struct tags cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.RepoOwner, validation.Required),
		validation.Field(&c.RepoName, validation.Required),
		validation.Field(&c.RepoBranch, validation.Required),
		validation.Field(&c.SyncInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.PingInterval, validation.Required, validation.Min(time.Second)),
	); err != nil {
		return err
	}

	if c.OAuthCode != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return fmt.Errorf("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required to exchange GITHUB_OAUTH_CODE")
	}

	if c.EnableMCP && c.MCPListenAddr == "" {
		return fmt.Errorf("MCP_LISTEN_ADDR is required when MCP is enabled")
	}

	return nil
}

// Selection returns the repository selection this config points at.
func (c *Config) Selection() remote.Selection {
	return remote.Selection{Owner: c.RepoOwner, Name: c.RepoName, Branch: c.RepoBranch}
}

// MirrorEnabled reports whether the workspace mirror should run.
func (c *Config) MirrorEnabled() bool {
	return c.MirrorDir != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
