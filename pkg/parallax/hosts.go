package parallax

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/parallax-sh/parallax/pkg/executor"
	"github.com/parallax-sh/parallax/pkg/sshkit"
)

// ParseHostEntry splits a "[user@]host[:port]" entry into its parts. User
// and port are zero-valued when absent. Bare IPv6 addresses are passed
// through untouched; a port can only be attached to one inside brackets,
// as in "[::1]:2222".
func ParseHostEntry(entry string) (addr, user string, port int, err error) {
	s := strings.TrimSpace(entry)
	if s == "" {
		return "", "", 0, fmt.Errorf("empty host entry")
	}
	// Entries name per-host output files and directories, so a path
	// separator would let one host escape its directory.
	if strings.ContainsAny(s, `/\`) {
		return "", "", 0, fmt.Errorf("malformed host entry %q", entry)
	}

	if i := strings.Index(s, "@"); i >= 0 {
		user, s = s[:i], s[i+1:]
		if user == "" || s == "" {
			return "", "", 0, fmt.Errorf("malformed host entry %q", entry)
		}
	}

	host, portStr := s, ""
	switch {
	case strings.HasPrefix(s, "["):
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", 0, fmt.Errorf("malformed host entry %q", entry)
		}
		host = s[1:end]
		if rest := s[end+1:]; rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return "", "", 0, fmt.Errorf("malformed host entry %q", entry)
			}
			portStr = rest[1:]
		}
	case strings.Count(s, ":") == 1:
		i := strings.Index(s, ":")
		host, portStr = s[:i], s[i+1:]
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("malformed host entry %q", entry)
	}

	if portStr != "" {
		p, convErr := strconv.Atoi(portStr)
		if convErr != nil || p < 1 || p > 65535 {
			return "", "", 0, fmt.Errorf("bad port in host entry %q", entry)
		}
		port = p
	}
	return host, user, port, nil
}

// buildTasks validates every host entry up front and resolves it into a
// connection spec, applying option-level user and port defaults to entries
// that do not carry their own.
func buildTasks(hosts []string, o Options) ([]executor.Task, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("parallax: no hosts given")
	}

	tasks := make([]executor.Task, 0, len(hosts))
	for i, h := range hosts {
		addr, user, port, err := ParseHostEntry(h)
		if err != nil {
			return nil, fmt.Errorf("parallax: %w", err)
		}
		spec := sshkit.HostSpec{Address: addr}
		switch {
		case user != "":
			spec.User, spec.UserSet = user, true
		case o.DefaultUser != "":
			spec.User, spec.UserSet = o.DefaultUser, true
		}
		switch {
		case port != 0:
			spec.Port, spec.PortSet = port, true
		case o.DefaultPort != 0:
			spec.Port, spec.PortSet = o.DefaultPort, true
		}
		tasks = append(tasks, executor.Task{Host: h, Index: i, Spec: spec})
	}
	return tasks, nil
}
