package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Load reads configuration from standard locations with environment overrides.
// Search order: ~/.encorerc, $XDG_CONFIG_HOME/encore/config.toml, ~/.config/encore/config.toml
func Load() (*Config, error) {
	cfg := &Config{}

	path := FindConfigFile()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Apply defaults, then environment variable overrides
	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultPath returns the path `config init` writes to.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the directory holding the local snapshot store.
func DataDir() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

func configDir() (string, error) {
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		xdgConfig = filepath.Join(home, ".config")
	}
	return filepath.Join(xdgConfig, "encore"), nil
}

// FindConfigFile returns the first existing config file path.
func FindConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	paths := []string{
		filepath.Join(home, ".encorerc"),
	}
	if p, err := DefaultPath(); err == nil {
		paths = append(paths, p)
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("ENCORE_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("ENCORE_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}

	// Identity
	if v := os.Getenv("ENCORE_PROFILE_ID"); v != "" {
		cfg.Profile.ID = v
	}
	if v := os.Getenv("ENCORE_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	// Persistence
	if v := os.Getenv("ENCORE_PERSISTENCE_BACKEND"); v != "" {
		cfg.Persistence.Backend = v
	}
	if v := os.Getenv("ENCORE_PERSISTENCE_PATH"); v != "" {
		cfg.Persistence.Path = v
	}

	// Sync
	if v := os.Getenv("ENCORE_SYNC_DEBOUNCE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Debounce = i
		}
	}
	if v := os.Getenv("ENCORE_SYNC_RECONNECT_DELAY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Sync.ReconnectDelay = i
		}
	}

	// Audio
	if v := os.Getenv("ENCORE_AUDIO_BACKEND"); v != "" {
		cfg.Audio.Backend = v
	}

	// Log
	if v := os.Getenv("ENCORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ENCORE_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}
