package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads the TOML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	loadFromEnv(cfg)

	cfg.Monitor.LogPath = ExpandPath(cfg.Monitor.LogPath)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Daemon.Binary = ExpandPath(cfg.Daemon.Binary)

	return cfg, nil
}

// loadFile decodes path on top of cfg. Keys absent from the file keep their
// current values.
func loadFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return err
	}
	if cfg.Apps == nil {
		cfg.Apps = make(map[string]string)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if env := os.Getenv("DNSMON_MODE"); env != "" {
		cfg.Monitor.Mode = env
	}
	if env := os.Getenv("DNSMON_LOG_PATH"); env != "" {
		cfg.Monitor.LogPath = env
	}
	if env := os.Getenv("DNSMON_DB"); env != "" {
		cfg.Storage.DBPath = env
	}
	if env := os.Getenv("DNSMON_DAEMON_BINARY"); env != "" {
		cfg.Daemon.Binary = env
	}
	if env := os.Getenv("DNSMON_CAPTURE_LISTEN"); env != "" {
		cfg.Capture.Listen = env
	}
}
