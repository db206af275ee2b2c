package sshkit

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

var (
	// ErrHostKeyUnknown is returned when the host key is not in known_hosts.
	ErrHostKeyUnknown = errors.New("host key unknown")
	// ErrHostKeyChanged is returned when the host key differs from known_hosts.
	ErrHostKeyChanged = errors.New("host key changed")
)

// KnownHostsVerifier handles host key verification against a known_hosts
// file. With autoAdd enabled, keys of previously unseen hosts are appended
// to the file instead of rejected.
type KnownHostsVerifier struct {
	knownHostsPath string
	hostKeys       map[string][]ssh.PublicKey
	autoAdd        bool
	mu             sync.RWMutex
}

// NewKnownHostsVerifier creates a verifier from a known_hosts file. An empty
// path means ~/.ssh/known_hosts.
func NewKnownHostsVerifier(knownHostsPath string, autoAdd bool) (*KnownHostsVerifier, error) {
	v := &KnownHostsVerifier{
		knownHostsPath: knownHostsDefault(knownHostsPath),
		hostKeys:       make(map[string][]ssh.PublicKey),
		autoAdd:        autoAdd,
	}

	if err := v.load(); err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}

	return v, nil
}

// load parses the known_hosts file. A missing file is not an error.
func (v *KnownHostsVerifier) load() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := os.Open(v.knownHostsPath)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(v.knownHostsPath), 0755); err != nil {
				return fmt.Errorf("failed to create known_hosts directory: %w", err)
			}
			return nil
		}
		return err
	}
	defer f.Close()

	v.hostKeys = make(map[string][]ssh.PublicKey)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		patterns, key, err := parseKnownHostsLine(line)
		if err != nil {
			// Skip unparseable lines
			continue
		}

		for _, pattern := range patterns {
			v.hostKeys[pattern] = append(v.hostKeys[pattern], key)
		}
	}

	return scanner.Err()
}

// parseKnownHostsLine parses a single line from known_hosts. Both the plain
// "host key-type key-data" form and the bracketed "[h1,h2] key-type key-data"
// form are accepted.
func parseKnownHostsLine(line string) ([]string, ssh.PublicKey, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, nil, fmt.Errorf("invalid line format")
	}

	var patterns []string
	if strings.HasPrefix(fields[0], "[") {
		end := strings.Index(fields[0], "]")
		if end == -1 {
			return nil, nil, fmt.Errorf("invalid bracket format")
		}
		patterns = strings.Split(fields[0][1:end], ",")
	} else {
		patterns = []string{fields[0]}
	}

	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.Join(fields[1:], " ")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse key: %w", err)
	}

	return patterns, key, nil
}

// Verify checks the presented key against known_hosts. It satisfies the
// signature of ssh.HostKeyCallback.
func (v *KnownHostsVerifier) Verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}

	v.mu.RLock()
	matched, hasEntry := v.findMatchingKey(host, key)
	v.mu.RUnlock()

	if hasEntry && matched {
		return nil
	}
	if hasEntry && !matched {
		return fmt.Errorf("%w: %s", ErrHostKeyChanged, host)
	}
	if !v.autoAdd {
		return fmt.Errorf("%w: %s", ErrHostKeyUnknown, host)
	}
	return v.Add(host, key)
}

// findMatchingKey searches the cache for host's key. matched is true when
// the presented key equals a stored key; hasEntry is true when the host has
// any entry at all.
func (v *KnownHostsVerifier) findMatchingKey(host string, key ssh.PublicKey) (matched, hasEntry bool) {
	keyBytes := key.Marshal()

	for pattern, keys := range v.hostKeys {
		if !matchHostPattern(host, pattern) {
			continue
		}
		for _, knownKey := range keys {
			if bytes.Equal(knownKey.Marshal(), keyBytes) {
				return true, true
			}
		}
		// Entry exists with a different key
		return false, true
	}

	return false, false
}

// Add appends a host key to known_hosts and the in-memory cache.
func (v *KnownHostsVerifier) Add(host string, key ssh.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := os.OpenFile(v.knownHostsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts: %w", err)
	}
	defer f.Close()

	keyData := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
	if _, err := fmt.Fprintf(f, "%s %s\n", host, keyData); err != nil {
		return fmt.Errorf("failed to write to known_hosts: %w", err)
	}

	v.hostKeys[host] = append(v.hostKeys[host], key)
	return nil
}

// HostKeyCallback returns the verifier as an ssh.HostKeyCallback.
func (v *KnownHostsVerifier) HostKeyCallback() ssh.HostKeyCallback {
	return ssh.HostKeyCallback(v.Verify)
}

// matchHostPattern matches a hostname against a known_hosts pattern.
// Supports * and ? wildcards and ! negation.
func matchHostPattern(host, pattern string) bool {
	if strings.HasPrefix(pattern, "!") {
		return !matchHostPattern(host, pattern[1:])
	}
	if host == pattern {
		return true
	}
	if strings.ContainsAny(pattern, "*?") {
		matched, _ := path.Match(pattern, host)
		return matched
	}
	return false
}

// knownHostsDefault expands an empty or ~-prefixed known_hosts path.
func knownHostsDefault(p string) string {
	if p == "" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".ssh", "known_hosts")
	}
	if strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, p[2:])
	}
	return p
}
