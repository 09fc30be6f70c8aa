// Package config loads and validates the daemon's JSON configuration
// (spec §4.8). It generalizes the teacher's config/setting.go: the same
// load-from-path-or-env and verify-each-entry shape, applied to tunnel
// definitions instead of TCP relay rules. There is no separate Reload
// function; a SIGHUP calls Load again.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level daemon configuration (spec §4.8).
type Config struct {
	Log           LogConfig       `json:"log"`
	Metrics       MetricsConfig   `json:"metrics"`
	Device        DeviceConfig    `json:"device"`
	Tunnels       []*TunnelConfig `json:"tunnels"`
	LossTolerence float64         `json:"loss_tolerence"`
}

// LogConfig configures the logging package (spec §4.10).
type LogConfig struct {
	Level   string `json:"level"`
	Path    string `json:"path"`
	Console bool   `json:"console"`
}

// MetricsConfig configures the optional Prometheus endpoint (spec §4.11).
// An empty Listen disables metrics entirely.
type MetricsConfig struct {
	Listen string `json:"listen"`
}

// DeviceConfig configures the tun device adapter (spec §4.13).
type DeviceConfig struct {
	Name string `json:"name"`
	MTU  int    `json:"mtu"`
}

// TunnelConfig describes one bonded UDP path (spec §4.8).
type TunnelConfig struct {
	Name          string `json:"name"`
	Role          string `json:"role"` // "server" | "client"
	BindAddr      string `json:"bind"`
	DestAddr      string `json:"dest"`
	BindDevice    string `json:"bind_device,omitempty"`
	// PresharedKey is a hex-encoded 32-byte AEAD key (spec §3 "owns
	// socket, keys, and per-path state"; no key exchange, §1 Non-goals).
	PresharedKey  string `json:"psk"`
	Quota         uint64 `json:"quota_bps,omitempty"`
	FallbackOnly  bool   `json:"fallback_only,omitempty"`
	CleartextData bool   `json:"cleartext_data,omitempty"`

	// Permitted is the initial quota accumulator, settable via the
	// -p/--permitted CLI override (spec §4.8, §6).
	Permitted int64 `json:"permitted,omitempty"`
}

// envConfigPath mirrors the teacher's MOTO_CONFIG environment override.
const envConfigPath = "MLBOND_CONFIG"

// Load reads and validates a Config from path, falling back to
// $MLBOND_CONFIG when path is empty (spec §4.8, §6 "-c/--config").
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		return nil, fmt.Errorf("no config path given and %s is unset", envConfigPath)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Verify validates required fields and per-tunnel name uniqueness (spec
// §4.8, mirroring the teacher's Rule.verify()).
func (c *Config) Verify() error {
	if len(c.Tunnels) == 0 {
		return fmt.Errorf("no tunnels configured")
	}
	seen := make(map[string]bool, len(c.Tunnels))
	for i, t := range c.Tunnels {
		if t.Name == "" {
			return fmt.Errorf("tunnel %d: empty name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tunnel %d: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true

		switch t.Role {
		case "server":
			if t.BindAddr == "" {
				return fmt.Errorf("tunnel %s: server role requires bind", t.Name)
			}
		case "client":
			if t.DestAddr == "" {
				return fmt.Errorf("tunnel %s: client role requires dest", t.Name)
			}
		default:
			return fmt.Errorf("tunnel %s: invalid role %q", t.Name, t.Role)
		}
		if t.BindAddr != "" {
			if _, err := net.ResolveUDPAddr("udp", t.BindAddr); err != nil {
				return fmt.Errorf("tunnel %s: invalid bind address: %w", t.Name, err)
			}
		}
		if t.DestAddr != "" {
			if _, err := net.ResolveUDPAddr("udp", t.DestAddr); err != nil {
				return fmt.Errorf("tunnel %s: invalid dest address: %w", t.Name, err)
			}
		}
		if !t.CleartextData {
			if _, err := t.DecodeKey(); err != nil {
				return fmt.Errorf("tunnel %s: psk: %w", t.Name, err)
			}
		}
	}
	if c.LossTolerence <= 0 {
		c.LossTolerence = 20
	}
	return nil
}

// ApplyPermittedOverride parses a "-p/--permitted tunnel:value[bkm]" CLI
// flag and applies it to the named tunnel's initial Permitted accumulator
// (spec §6). A trailing b/k/m (case-insensitive) multiplies the value by
// 1, 1024, or 1024*1024; no other config value is suffix-parsed.
func (c *Config) ApplyPermittedOverride(spec string) error {
	name, valueStr, ok := strings.Cut(spec, ":")
	if !ok {
		return fmt.Errorf("invalid -p/--permitted value %q, want tunnel:value[bkm]", spec)
	}
	value, err := parseByteSuffixed(valueStr)
	if err != nil {
		return fmt.Errorf("invalid -p/--permitted value %q: %w", spec, err)
	}
	for _, t := range c.Tunnels {
		if t.Name == name {
			t.Permitted = value
			return nil
		}
	}
	return fmt.Errorf("-p/--permitted: no tunnel named %q", name)
}

// DecodeKey decodes PresharedKey into the fixed-size array the codec's
// AEAD constructor expects (spec §4.1, §3 "owns socket, keys, and
// per-path state"). Unused when CleartextData is set.
func (t *TunnelConfig) DecodeKey() ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(t.PresharedKey)
	if err != nil {
		return key, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("want 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func parseByteSuffixed(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	multiplier := int64(1)
	last := s[len(s)-1]
	switch last {
	case 'b', 'B':
		multiplier = 1
		s = s[:len(s)-1]
	case 'k', 'K':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return v * multiplier, nil
}
