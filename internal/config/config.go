// Package config handles configuration loading and validation for wgkeeper.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReloadConfig holds configuration for applying config changes to the
// running interface.
type ReloadConfig struct {
	Method     string `yaml:"method"`      // "wg-quick" (default) or "restart"
	Timeout    string `yaml:"timeout"`     // duration string, e.g. "30s"
	DockerHost string `yaml:"docker_host"` // Docker daemon address (empty: environment default)
	Container  string `yaml:"container"`   // container running the interface (empty: run on the host)
	ConfPath   string `yaml:"conf_path"`   // config path as seen by wg-quick inside the container
}

// ServeConfig holds configuration for the admin HTTP API.
type ServeConfig struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"` // bearer token for the bot layer (optional, but recommended)
}

// Config is the wgkeeper configuration.
type Config struct {
	ConfigPath  string `yaml:"config_path"` // server wg config, e.g. /etc/wireguard/wg0.conf
	ProfileDir  string `yaml:"profile_dir"` // directory for per-peer client profiles
	Interface   string `yaml:"interface"`   // interface name (default: "wg0")
	Subnet      string `yaml:"subnet"`      // VPN subnet, e.g. "10.10.1.0/24"
	StartOffset int    `yaml:"start_offset"`

	Endpoint   string   `yaml:"endpoint"` // public endpoint for clients (host:port)
	ListenPort int      `yaml:"listen_port"`
	DNS        []string `yaml:"dns"`

	PresharedKeys       bool     `yaml:"preshared_keys"`
	PersistentKeepalive int      `yaml:"persistent_keepalive"`
	AllowedIPs          string   `yaml:"allowed_ips"` // routes pushed to clients
	VendorKeys          []string `yaml:"vendor_keys"` // interface keys mirrored into client profiles

	Reload ReloadConfig `yaml:"reload"`
	Serve  ServeConfig  `yaml:"serve"`
}

// DefaultVendorKeys are the AmneziaWG obfuscation parameters; when the
// server [Interface] carries them, client profiles must use matching
// values.
var DefaultVendorKeys = []string{"Jc", "Jmin", "Jmax", "S1", "S2", "H1", "H2", "H3", "H4"}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Interface == "" {
		c.Interface = "wg0"
	}
	if c.ConfigPath == "" {
		c.ConfigPath = "/etc/wireguard/" + c.Interface + ".conf"
	}
	if c.ProfileDir == "" {
		c.ProfileDir = filepath.Dir(c.ConfigPath)
	}
	if c.Subnet == "" {
		c.Subnet = "10.10.1.0/24"
	}
	if c.StartOffset == 0 {
		c.StartOffset = 2
	}
	if c.ListenPort == 0 {
		c.ListenPort = 51820
	}
	if len(c.DNS) == 0 {
		c.DNS = []string{"1.1.1.1", "8.8.8.8"}
	}
	if c.PersistentKeepalive == 0 {
		c.PersistentKeepalive = 25
	}
	if c.AllowedIPs == "" {
		c.AllowedIPs = "0.0.0.0/0"
	}
	if len(c.VendorKeys) == 0 {
		c.VendorKeys = DefaultVendorKeys
	}
	if c.Reload.Method == "" {
		c.Reload.Method = "wg-quick"
	}
	if c.Reload.Timeout == "" {
		c.Reload.Timeout = "30s"
	}
	if c.Reload.ConfPath == "" {
		c.Reload.ConfPath = c.ConfigPath
	}
	if c.Serve.Listen == "" {
		c.Serve.Listen = "127.0.0.1:8680"
	}

	// Expand home directory in paths
	for _, p := range []*string{&c.ConfigPath, &c.ProfileDir} {
		if strings.HasPrefix(*p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[2:])
			}
		}
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	prefix, err := netip.ParsePrefix(c.Subnet)
	if err != nil {
		return fmt.Errorf("invalid subnet %q: %w", c.Subnet, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("subnet %q: only IPv4 is supported", c.Subnet)
	}
	if c.StartOffset < 1 {
		return fmt.Errorf("start_offset must be at least 1, got %d", c.StartOffset)
	}
	switch c.Reload.Method {
	case "wg-quick", "restart":
	default:
		return fmt.Errorf("reload.method must be \"wg-quick\" or \"restart\", got %q", c.Reload.Method)
	}
	if _, err := time.ParseDuration(c.Reload.Timeout); err != nil {
		return fmt.Errorf("invalid reload.timeout %q: %w", c.Reload.Timeout, err)
	}
	return nil
}

// SubnetPrefix returns the parsed VPN subnet. Validate has already
// guaranteed it parses.
func (c *Config) SubnetPrefix() netip.Prefix {
	return netip.MustParsePrefix(c.Subnet)
}

// ReloadTimeout returns the parsed reload timeout.
func (c *Config) ReloadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Reload.Timeout)
	return d
}
