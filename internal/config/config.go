package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rsclarke/dnsmon/internal/module"
)

// Config is the complete dnsmon configuration.
type Config struct {
	Monitor MonitorConfig     `toml:"monitor"`
	Network NetworkConfig     `toml:"network"`
	Daemon  DaemonConfig      `toml:"daemon"`
	Capture CaptureConfig     `toml:"capture"`
	Storage StorageConfig     `toml:"storage"`
	Apps    map[string]string `toml:"apps"` // uid -> label
}

// MonitorConfig controls the activity monitor.
type MonitorConfig struct {
	Mode                    string `toml:"mode"` // root|vpn
	FixTTL                  bool   `toml:"fix_ttl"`
	UseModulesWithRoot      bool   `toml:"use_modules_with_root"`
	LogPath                 string `toml:"log_path"`
	TailLines               int    `toml:"tail_lines"`
	AutoScroll              bool   `toml:"auto_scroll"`
	SuppressIPv6BlockReport bool   `toml:"suppress_ipv6_block_report"`
	IgnoreSystemDNS         bool   `toml:"ignore_system_dns"`
}

// NetworkConfig describes the host's network situation.
type NetworkConfig struct {
	Metered           bool   `toml:"metered"`
	TorTethering      bool   `toml:"tor_tethering"`
	Hotspot           bool   `toml:"hotspot"`
	USBTether         bool   `toml:"usb_tether"`
	Ethernet          bool   `toml:"ethernet"`
	HotspotPrefix     string `toml:"hotspot_prefix"`
	USBPrefix         string `toml:"usb_prefix"`
	LocalEthernetAddr string `toml:"local_ethernet_addr"`
}

// DaemonConfig describes how to launch the resolution daemon.
type DaemonConfig struct {
	Binary string   `toml:"binary"`
	Args   []string `toml:"args"`
	Listen string   `toml:"listen"` // address the daemon answers DNS on
}

// CaptureConfig controls the local DNS capture proxy.
type CaptureConfig struct {
	Listen          string `toml:"listen"`
	Fallback        string `toml:"fallback"` // system resolver used while system DNS is allowed
	BlockIPv6       bool   `toml:"block_ipv6"`
	MaxRecords      int    `toml:"max_records"`
	ReverseResolver string `toml:"reverse_resolver"`
}

// StorageConfig controls persistent state.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	base := StateDir()
	return &Config{
		Monitor: MonitorConfig{
			Mode:       string(module.VPNMode),
			LogPath:    filepath.Join(base, "logs", "dnscrypt-proxy.log"),
			TailLines:  100,
			AutoScroll: true,
		},
		Network: NetworkConfig{
			Metered:           true,
			HotspotPrefix:     "192.168.43.",
			USBPrefix:         "192.168.42.",
			LocalEthernetAddr: "192.168.0.100",
		},
		Daemon: DaemonConfig{
			Binary: "dnscrypt-proxy",
			Listen: "127.0.0.1:5354",
		},
		Capture: CaptureConfig{
			Listen:          "127.0.0.1:5353",
			Fallback:        "1.1.1.1:53",
			BlockIPv6:       true,
			MaxRecords:      200,
			ReverseResolver: "127.0.0.1:5354",
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(base, "dnsmon.db"),
		},
		Apps: make(map[string]string),
	}
}

// StateDir returns the base directory for dnsmon state.
func StateDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}
	return filepath.Join(homeDir, ".local", "state", "dnsmon")
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	if env := os.Getenv("DNSMON_CONFIG"); env != "" {
		return env
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}
	return filepath.Join(homeDir, ".config", "dnsmon", "config.toml")
}

// OperationMode returns the parsed operation mode.
func (c *Config) OperationMode() (module.Mode, error) {
	return module.ParseMode(c.Monitor.Mode)
}

// FixTTL reports whether TTL fixing is in effect. It only applies in root
// mode when the modules themselves do not run as root.
func (c *Config) FixTTL() bool {
	mode, err := c.OperationMode()
	if err != nil {
		return false
	}
	return c.Monitor.FixTTL && mode == module.RootMode && !c.Monitor.UseModulesWithRoot
}

// AppLabels returns the [apps] table keyed by numeric UID.
func (c *Config) AppLabels() (map[int]string, error) {
	labels := make(map[int]string, len(c.Apps))
	for k, v := range c.Apps {
		uid, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("invalid uid %q in [apps]: %w", k, err)
		}
		labels[uid] = v
	}
	return labels, nil
}

// Validate checks the configuration for values the monitor cannot run with.
func (c *Config) Validate() error {
	if _, err := c.OperationMode(); err != nil {
		return err
	}
	if c.Monitor.LogPath == "" {
		return fmt.Errorf("monitor.log_path must be set")
	}
	if c.Monitor.TailLines <= 0 {
		return fmt.Errorf("monitor.tail_lines must be positive, got %d", c.Monitor.TailLines)
	}
	if c.Capture.MaxRecords <= 0 {
		return fmt.Errorf("capture.max_records must be positive, got %d", c.Capture.MaxRecords)
	}
	if _, err := c.AppLabels(); err != nil {
		return err
	}
	return nil
}

// ExpandPath expands ~ in paths to the home directory.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return homeDir
	}
	return filepath.Join(homeDir, path[1:])
}
