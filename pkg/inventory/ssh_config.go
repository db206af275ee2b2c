package inventory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// SSHConfigEntry is one Host block from the user's SSH config, reduced to
// the settings this tool cares about.
type SSHConfigEntry struct {
	HostPatterns []string
	HostName     string
	User         string
	Port         int
	KeyPath      string
}

type sshConfigCache struct {
	mu      sync.RWMutex
	entries []SSHConfigEntry
	loaded  bool
}

var globalSSHConfig = &sshConfigCache{}

// sshConfigPath is a var so tests can point it at a fixture.
var sshConfigPath = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// LoadSSHConfig parses ~/.ssh/config once and caches the result. A missing
// file is not an error.
func LoadSSHConfig() ([]SSHConfigEntry, error) {
	globalSSHConfig.mu.Lock()
	defer globalSSHConfig.mu.Unlock()

	if globalSSHConfig.loaded {
		return globalSSHConfig.entries, nil
	}

	configPath, err := sshConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve ssh config path: %w", err)
	}

	f, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			globalSSHConfig.loaded = true
			globalSSHConfig.entries = nil
			return nil, nil
		}
		return nil, fmt.Errorf("open ssh config: %w", err)
	}
	defer f.Close()

	entries, err := parseSSHConfig(f)
	if err != nil {
		return nil, fmt.Errorf("parse ssh config: %w", err)
	}

	globalSSHConfig.entries = entries
	globalSSHConfig.loaded = true
	return entries, nil
}

func parseSSHConfig(r io.Reader) ([]SSHConfigEntry, error) {
	scanner := bufio.NewScanner(r)
	var entries []SSHConfigEntry
	var current *SSHConfigEntry

	flush := func() {
		if current != nil && len(current.HostPatterns) > 0 {
			entries = append(entries, *current)
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "host":
			flush()
			current = &SSHConfigEntry{HostPatterns: fields[1:]}
		case "hostname":
			if current != nil && len(fields) > 1 {
				current.HostName = fields[1]
			}
		case "user":
			if current != nil && len(fields) > 1 {
				current.User = fields[1]
			}
		case "port":
			if current != nil && len(fields) > 1 {
				if port, err := strconv.Atoi(fields[1]); err == nil {
					current.Port = port
				}
			}
		case "identityfile":
			if current != nil && len(fields) > 1 {
				current.KeyPath = fields[1]
			}
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LookupSSHConfig finds the first entry whose pattern matches the host, by
// alias or by resolved HostName.
func LookupSSHConfig(host string) (SSHConfigEntry, bool) {
	entries, err := LoadSSHConfig()
	if err != nil {
		return SSHConfigEntry{}, false
	}

	for _, e := range entries {
		if e.HostName == host {
			return e, true
		}
		for _, pattern := range e.HostPatterns {
			if ok, _ := path.Match(pattern, host); ok {
				return e, true
			}
		}
	}
	return SSHConfigEntry{}, false
}

// ExpandWildcard returns every concrete host alias from the SSH config that
// matches the pattern. Aliases that are themselves patterns are skipped.
func ExpandWildcard(pattern string) []string {
	entries, err := LoadSSHConfig()
	if err != nil {
		return nil
	}

	var matches []string
	seen := make(map[string]bool)
	for _, e := range entries {
		for _, alias := range e.HostPatterns {
			if strings.ContainsAny(alias, "*?[") {
				continue
			}
			if ok, _ := path.Match(pattern, alias); ok && !seen[alias] {
				matches = append(matches, alias)
				seen[alias] = true
			}
		}
	}
	return matches
}

// ReloadSSHConfig drops the cache so the next lookup re-reads the file.
func ReloadSSHConfig() {
	globalSSHConfig.mu.Lock()
	defer globalSSHConfig.mu.Unlock()
	globalSSHConfig.loaded = false
	globalSSHConfig.entries = nil
}
