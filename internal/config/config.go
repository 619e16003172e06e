// Package config handles configuration loading, validation, and persistence
// for the login gateway.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultListenPort = 11031
	DefaultAdminPort  = 5000
)

// Config is the root configuration structure for the gateway.
type Config struct {
	mu   sync.RWMutex
	path string

	Listen    ListenConfig    `json:"listen"`
	Patch     PatchConfig     `json:"patch"`
	Account   AccountConfig   `json:"account"`
	Admission AdmissionConfig `json:"admission"`
	Ban       BanConfig       `json:"ban"`
	Admin     AdminConfig     `json:"admin"`
	Store     StoreConfig     `json:"store"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Logging   LoggingConfig   `json:"logging"`
}

// ListenConfig holds the client-facing TCP listener settings.
type ListenConfig struct {
	Address           string `json:"address"`
	Port              int    `json:"port"`
	MaxHeaderBytes    int    `json:"max_header_bytes"`
	HandshakeTimeoutS int    `json:"handshake_timeout_sec"`
	KeepAliveIntervalS int   `json:"keepalive_interval_sec"`
}

// PatchConfig holds the patch resolver's on-disk layout and allowed versions.
type PatchConfig struct {
	Directory      string   `json:"directory"`
	SurveyPath     string   `json:"survey_path"`
	SurveyID       uint32   `json:"survey_id"`
	AllowedBuilds  []string `json:"allowed_versions"` // "major.minor.patch.build"
}

// AccountConfig holds the upstream account-service RPC settings.
type AccountConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutS   int    `json:"timeout_sec"`
	MaxRetries int    `json:"max_retries"`
}

// AdmissionConfig holds the admission queue's population cap.
type AdmissionConfig struct {
	PopulationCap int `json:"population_cap"`
}

// BanConfig holds the IP ban cache's source and reload behavior.
type BanConfig struct {
	ListPath string `json:"list_path"`
}

// AdminConfig holds the read-only operator HTTP API settings.
type AdminConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	AuthToken string `json:"auth_token"`
	TLSEnabled bool  `json:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`
}

// StoreConfig holds the SQLite-backed persistence settings.
type StoreConfig struct {
	Path string `json:"path"`
}

// MQTTConfig holds MQTT telemetry publishing settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Address:            "0.0.0.0",
			Port:               DefaultListenPort,
			MaxHeaderBytes:     10 * 1024,
			HandshakeTimeoutS:  30,
			KeepAliveIntervalS: 15,
		},
		Patch: PatchConfig{
			Directory: "patches",
		},
		Account: AccountConfig{
			BaseURL:    "http://127.0.0.1:11099",
			TimeoutS:   10,
			MaxRetries: 3,
		},
		Admission: AdmissionConfig{
			PopulationCap: 2500,
		},
		Ban: BanConfig{
			ListPath: "config/bans.json",
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    DefaultAdminPort,
		},
		Store: StoreConfig{
			Path: "data/gateway.db",
		},
		MQTT: MQTTConfig{
			Enabled:   false,
			BrokerURL: "mqtt.kongor.net",
			Port:      8883,
			UseTLS:    true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file, creating a default one if it
// doesn't exist yet.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay.
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always reflects the complete set of options,
	// including any new defaults added since it was last written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SnapshotListen returns a copy of the listen configuration, safe to read
// without holding the lock afterwards.
func (c *Config) SnapshotListen() ListenConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Listen
}

// SnapshotPatch returns a copy of the patch configuration.
func (c *Config) SnapshotPatch() PatchConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Patch
}

// SnapshotAdmission returns a copy of the admission configuration.
func (c *Config) SnapshotAdmission() AdmissionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Admission
}

// SnapshotAccount returns a copy of the account-service configuration.
func (c *Config) SnapshotAccount() AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Account
}
