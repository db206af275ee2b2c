package inventory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadHostFile reads a host file: one "[user@]host[:port]" entry per line.
// Blank lines and lines starting with # are skipped, as is anything after a
// # on an entry line. A trailing "user" field after whitespace is accepted
// for compatibility with the classic two-column format and folded into the
// entry.
func ReadHostFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := parseHostFile(f)
	if err != nil {
		return nil, fmt.Errorf("read host file %s: %w", path, err)
	}
	return entries, nil
}

// ReadHostFiles concatenates the entries of several host files in order.
func ReadHostFiles(paths []string) ([]string, error) {
	var entries []string
	for _, p := range paths {
		e, err := ReadHostFile(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e...)
	}
	return entries, nil
}

func parseHostFile(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		switch len(fields) {
		case 0:
			continue
		case 1:
			entries = append(entries, fields[0])
		case 2:
			// "host user" two-column form
			entry := fields[0]
			if !strings.Contains(entry, "@") {
				entry = fields[1] + "@" + entry
			}
			entries = append(entries, entry)
		default:
			return nil, fmt.Errorf("malformed line %q", strings.Join(fields, " "))
		}
	}
	return entries, scanner.Err()
}
