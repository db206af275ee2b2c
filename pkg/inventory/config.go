package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration, loaded from ~/.parallax/config.toml
// by default.
type Config struct {
	SSH    SSHConfig        `toml:"ssh"`
	Run    RunConfig        `toml:"run"`
	Log    LogConfig        `toml:"log"`
	Groups map[string]Group `toml:"hosts"`
}

// SSHConfig carries connection defaults applied to every host that does not
// override them.
type SSHConfig struct {
	User           string `toml:"user"`
	Port           int    `toml:"port"`
	KeyPath        string `toml:"key_path"`
	KnownHostsPath string `toml:"known_hosts"`
	StrictHostKey  bool   `toml:"strict_host_key"`
}

// RunConfig carries batch execution defaults.
type RunConfig struct {
	Parallel int    `toml:"parallel"`
	Timeout  string `toml:"timeout"` // parsed as duration
	OutDir   string `toml:"outdir"`
	ErrDir   string `toml:"errdir"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level    string `toml:"level"` // debug, info, warn, error
	NoColor  bool   `toml:"no_color"`
	ShowTime bool   `toml:"show_time"`
}

// Group is a named set of hosts sharing overrides. A group keyed by a bare
// address acts as a per-host override.
type Group struct {
	Addresses []string `toml:"addresses"`
	User      string   `toml:"user"`
	Port      int      `toml:"port"`
	KeyPath   string   `toml:"key_path"`
}

// Host is a fully resolved host: address plus whichever settings were
// explicitly configured for it. The *Set flags distinguish configured values
// from fallback defaults.
type Host struct {
	Address    string
	User       string
	Port       int
	KeyPath    string
	UserSet    bool
	PortSet    bool
	KeyPathSet bool
}

// Entry renders the host as a "[user@]host[:port]" string, including only
// the parts that were explicitly configured.
func (h Host) Entry() string {
	var b strings.Builder
	if h.UserSet && h.User != "" {
		b.WriteString(h.User)
		b.WriteByte('@')
	}
	if h.PortSet && strings.Contains(h.Address, ":") {
		fmt.Fprintf(&b, "[%s]:%d", h.Address, h.Port)
		return b.String()
	}
	b.WriteString(h.Address)
	if h.PortSet && h.Port != 0 {
		fmt.Fprintf(&b, ":%d", h.Port)
	}
	return b.String()
}

// Inventory resolves host patterns against the config file and the user's
// SSH config.
type Inventory struct {
	mu     sync.RWMutex
	config *Config
	path   string
}

// New loads the config file at configPath, falling back to built-in defaults
// when the file does not exist. An empty path means the default location.
func New(configPath string) (*Inventory, error) {
	if configPath == "" {
		home, _ := os.UserHomeDir()
		configPath = filepath.Join(home, ".parallax", "config.toml")
	}

	inv := &Inventory{
		config: &Config{
			SSH: SSHConfig{
				Port:           22,
				KnownHostsPath: "~/.ssh/known_hosts",
			},
			Run: RunConfig{
				Parallel: 32,
				Timeout:  "60s",
			},
			Log: LogConfig{
				Level: "info",
			},
			Groups: make(map[string]Group),
		},
		path: configPath,
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := inv.Load(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	return inv, nil
}

// Load re-reads the config file.
func (inv *Inventory) Load() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	data, err := os.ReadFile(inv.path)
	if err != nil {
		return err
	}

	config := &Config{Groups: make(map[string]Group)}
	if err := toml.Unmarshal(data, config); err != nil {
		return err
	}
	inv.config = config
	return nil
}

// Save writes the current configuration back to its file, creating the
// directory when needed.
func (inv *Inventory) Save() error {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(inv.path), 0o755); err != nil {
		return err
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(inv.config); err != nil {
		return err
	}
	return os.WriteFile(inv.path, []byte(buf.String()), 0o644)
}

// Resolve turns patterns into hosts. Each pattern is tried as a group name,
// then as an SSH config wildcard when it contains metacharacters, then as a
// literal address. Duplicate addresses keep their first resolution.
func (inv *Inventory) Resolve(patterns []string) ([]Host, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	var hosts []Host
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		if group, ok := inv.config.Groups[pattern]; ok {
			for _, addr := range group.Addresses {
				if !seen[addr] {
					hosts = append(hosts, inv.buildHost(addr, pattern))
					seen[addr] = true
				}
			}
			continue
		}
		if strings.ContainsAny(pattern, "*?[") {
			matches := ExpandWildcard(pattern)
			if len(matches) == 0 {
				return nil, fmt.Errorf("no hosts match pattern %q", pattern)
			}
			for _, m := range matches {
				if !seen[m] {
					hosts = append(hosts, inv.buildHost(m, ""))
					seen[m] = true
				}
			}
			continue
		}
		if !seen[pattern] {
			hosts = append(hosts, inv.buildHost(pattern, ""))
			seen[pattern] = true
		}
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts found for %v", patterns)
	}
	return hosts, nil
}

// buildHost merges settings for one address.
// Priority: per-host section > group section > SSH config > [ssh] defaults.
func (inv *Inventory) buildHost(address, group string) Host {
	host := Host{
		Address: address,
		User:    inv.config.SSH.User,
		Port:    inv.config.SSH.Port,
		KeyPath: inv.config.SSH.KeyPath,
	}

	if override, ok := inv.config.Groups[address]; ok {
		if override.User != "" {
			host.User, host.UserSet = override.User, true
		}
		if override.Port != 0 {
			host.Port, host.PortSet = override.Port, true
		}
		if override.KeyPath != "" {
			host.KeyPath, host.KeyPathSet = override.KeyPath, true
		}
	}

	if group != "" {
		if g, ok := inv.config.Groups[group]; ok {
			if !host.UserSet && g.User != "" {
				host.User, host.UserSet = g.User, true
			}
			if !host.PortSet && g.Port != 0 {
				host.Port, host.PortSet = g.Port, true
			}
			if !host.KeyPathSet && g.KeyPath != "" {
				host.KeyPath, host.KeyPathSet = g.KeyPath, true
			}
		}
	}

	if entry, ok := LookupSSHConfig(address); ok {
		if entry.HostName != "" {
			host.Address = entry.HostName
		}
		if !host.UserSet && entry.User != "" {
			host.User = entry.User
		}
		if !host.PortSet && entry.Port != 0 {
			host.Port = entry.Port
		}
		if !host.KeyPathSet && entry.KeyPath != "" {
			host.KeyPath = entry.KeyPath
		}
	}

	return host
}

// GroupNames returns every configured group that actually lists addresses.
// Per-host override sections are excluded.
func (inv *Inventory) GroupNames() map[string][]string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	groups := make(map[string][]string)
	for name, g := range inv.config.Groups {
		if len(g.Addresses) > 0 {
			groups[name] = g.Addresses
		}
	}
	return groups
}

// DefaultParallel returns the configured concurrency limit.
func (inv *Inventory) DefaultParallel() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.config.Run.Parallel
}

// DefaultTimeout returns the configured per-host timeout, or zero when the
// config value is missing or malformed.
func (inv *Inventory) DefaultTimeout() time.Duration {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	d, err := time.ParseDuration(inv.config.Run.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetConfig returns the loaded configuration.
func (inv *Inventory) GetConfig() *Config {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.config
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return home
}
