package sshkit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMatchHostPattern(t *testing.T) {
	tests := []struct {
		host    string
		pattern string
		match   bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "*.com", true},
		{"192.168.1.10", "192.168.1.*", true},
		{"example.com", "other.com", false},
		{"example.com", "!other.com", true},
		{"example.com", "!example.com", false},
		{"web01", "web??", false},
		{"web01", "web??*", true},
	}

	for _, tt := range tests {
		result := matchHostPattern(tt.host, tt.pattern)
		if result != tt.match {
			t.Errorf("matchHostPattern(%s, %s): expected %v, got %v", tt.host, tt.pattern, tt.match, result)
		}
	}
}

func TestResolveHostIPPassthrough(t *testing.T) {
	addr, err := resolveHost("192.0.2.7")
	if err != nil {
		t.Fatalf("resolveHost returned error for literal IP: %v", err)
	}
	if addr != "192.0.2.7" {
		t.Errorf("expected literal IP back, got %s", addr)
	}
}

func TestResolveHostFromHostsFile(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "hosts")
	content := "# comment\n10.0.0.5 db01 db01.internal\n::1 localhost6\n"
	if err := os.WriteFile(fixture, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	origPath := hostsFilePath
	hostsFilePath = fixture
	hostsCacheMu.Lock()
	hostsCacheLoaded = false
	hostsCacheMu.Unlock()
	defer func() {
		hostsFilePath = origPath
		hostsCacheMu.Lock()
		hostsCacheLoaded = false
		hostsCacheMu.Unlock()
	}()

	addr, err := resolveHost("db01.internal")
	if err != nil {
		t.Fatalf("resolveHost failed: %v", err)
	}
	if addr != "10.0.0.5" {
		t.Errorf("expected 10.0.0.5, got %s", addr)
	}

	if _, err := resolveHost("no-such-host.invalid"); err == nil {
		t.Error("expected error for unresolvable host")
	} else if _, ok := err.(*LookupError); !ok {
		t.Errorf("expected *LookupError, got %T", err)
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey]", true},
		{"ssh: handshake failed: EOF", false},
		{"connection refused", false},
	}
	for _, tt := range tests {
		if got := isAuthFailure(errFromString(tt.msg)); got != tt.want {
			t.Errorf("isAuthFailure(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }

func errFromString(s string) error { return stringError(s) }
