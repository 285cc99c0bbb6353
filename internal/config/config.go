package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir"`

	// Sync settings
	SyncIntervalMinutes int  `json:"sync_interval_minutes"`
	SyncOnStartup       bool `json:"sync_on_startup"`

	// OAuth settings. Client secrets come from the environment, never from
	// this file.
	RedirectURL        string `json:"redirect_url"`
	CallbackTimeoutSec int    `json:"callback_timeout_sec"`

	// Notification settings
	DefaultReminderMins int `json:"default_reminder_mins"`

	// Loaded from the environment, not persisted
	GoogleClientID        string `json:"-"`
	GoogleClientSecret    string `json:"-"`
	MicrosoftClientID     string `json:"-"`
	MicrosoftClientSecret string `json:"-"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		DataDir:             getDefaultDataDir(),
		SyncIntervalMinutes: 15,
		SyncOnStartup:       true,
		RedirectURL:         "http://localhost:8085/callback",
		CallbackTimeoutSec:  300,
		DefaultReminderMins: 60,
	}
}

// Load loads config from disk, then overlays OAuth client credentials from
// a .env file (if present) and the process environment.
func Load() (*Config, error) {
	configPath := getConfigPath()

	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.Save()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Missing .env is fine, the variables may already be exported
	godotenv.Load()

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.MicrosoftClientID = os.Getenv("MICROSOFT_CLIENT_ID")
	cfg.MicrosoftClientSecret = os.Getenv("MICROSOFT_CLIENT_SECRET")

	return cfg, nil
}

// Save saves config to disk
func (c *Config) Save() error {
	configPath := getConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// DatabasePath returns the path to the SQLite database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "billsync.db")
}

// CredentialsDir returns the directory for encrypted OAuth credentials
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.DataDir, "credentials")
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "billsync", "config.json")
}

// getDefaultDataDir returns the default data directory
func getDefaultDataDir() string {
	dataDir, err := os.UserConfigDir()
	if err != nil {
		dataDir = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(dataDir, "billsync")
}
