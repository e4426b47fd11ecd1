package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.veridesk).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".veridesk"), nil
}

// DefaultSyncConfigPath returns the default sync config file path (~/.veridesk/sync.yml).
func DefaultSyncConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sync.yml"), nil
}

// ProxyConfig holds outbound proxy settings for reaching the external
// license API from behind a corporate proxy.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
}

// HasProxy reports whether any proxy is configured.
func (c *ProxyConfig) HasProxy() bool {
	return c != nil && (c.HTTPProxy != "" || c.HTTPSProxy != "" || c.SOCKS5Proxy != "")
}

// ExportConfig holds settings for exporting license reports to an
// S3-compatible bucket.
type ExportConfig struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UseSSL          bool   `yaml:"use_ssl,omitempty"`
}

// SyncConfig holds configuration for the external license sync.
type SyncConfig struct {
	// RemoteURL is the base URL of the external license API.
	RemoteURL string `yaml:"remote_url,omitempty"`
	// RemoteAPIKey authenticates against the external license API.
	RemoteAPIKey string `yaml:"remote_api_key,omitempty"`
	// DatabaseURL is the postgres connection string for the local store.
	DatabaseURL string `yaml:"database_url,omitempty"`
	// BatchSize is the page size used against the remote API.
	BatchSize int `yaml:"batch_size,omitempty"`
	// MaxPages caps the number of pages fetched per run (0 = unlimited).
	MaxPages int `yaml:"max_pages,omitempty"`
	// Limit caps the total number of records fetched per run (0 = unlimited).
	Limit int `yaml:"limit,omitempty"`
	// DetectDuplicates enables duplicate consolidation after matching.
	DetectDuplicates bool `yaml:"detect_duplicates,omitempty"`
	// Schedule is a cron expression for periodic syncs (empty = disabled).
	Schedule string `yaml:"schedule,omitempty"`
	// Proxy routes requests to the remote API through an outbound proxy.
	Proxy *ProxyConfig `yaml:"proxy,omitempty"`
	// Export configures optional report export to S3.
	Export ExportConfig `yaml:"export,omitempty"`
}

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 100

// Validate checks that the configuration has the fields required to run a sync.
func (c *SyncConfig) Validate() error {
	if c.RemoteURL == "" {
		return errors.New("remote_url is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.BatchSize < 0 {
		return errors.New("batch_size must be positive")
	}
	return nil
}

// LoadSyncConfig reads the sync configuration from the given path and applies
// environment variable overrides. A missing file yields an env-only config.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	cfg := &SyncConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read sync config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse sync config: %w", err)
	}

	if v := os.Getenv("LICENSE_API_URL"); v != "" {
		cfg.RemoteURL = v
	}
	if v := os.Getenv("LICENSE_API_KEY"); v != "" {
		cfg.RemoteAPIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = getEnvInt("SYNC_BATCH_SIZE", DefaultBatchSize)
	}
	if !cfg.DetectDuplicates {
		cfg.DetectDuplicates = getEnvBool("SYNC_DETECT_DUPLICATES", false)
	}
	if !cfg.Proxy.HasProxy() {
		proxy := &ProxyConfig{
			HTTPProxy:   os.Getenv("HTTP_PROXY"),
			HTTPSProxy:  os.Getenv("HTTPS_PROXY"),
			SOCKS5Proxy: os.Getenv("SOCKS5_PROXY"),
			NoProxy:     os.Getenv("NO_PROXY"),
		}
		if proxy.HasProxy() {
			cfg.Proxy = proxy
		}
	}

	return cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *SyncConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal sync config: %w", err)
	}

	// Restricted permissions, the file carries API credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write sync config: %w", err)
	}

	return nil
}
