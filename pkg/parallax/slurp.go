package parallax

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parallax-sh/parallax/pkg/executor"
)

// Slurp pulls the remote file src from every host into a per-host directory
// under Options.LocalDir, so that the same filename fetched from many hosts
// never collides. dst must be a relative path; it is joined onto
// "<LocalDir>/<host entry>/". The success value is the local path written.
//
// All per-host directories are created before any host is contacted; a
// directory that cannot be created fails the whole call up front.
func Slurp(ctx context.Context, tr Transport, hosts []string, src, dst string, opts Options) (BatchResult[string], error) {
	if src == "" || dst == "" {
		return nil, fmt.Errorf("parallax: source and destination paths are required")
	}
	if filepath.IsAbs(dst) {
		return nil, fmt.Errorf("parallax: slurp destination %q must be a relative path", dst)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	o := opts.normalized()

	tasks, err := buildTasks(hosts, o)
	if err != nil {
		return nil, err
	}

	local := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if _, ok := local[t.Host]; ok {
			continue
		}
		dir := filepath.Join(o.LocalDir, t.Host)
		if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, dst)), 0o755); err != nil {
			return nil, fmt.Errorf("parallax: %w", err)
		}
		local[t.Host] = filepath.Join(dir, dst)
	}

	cfg := executor.Config{Limit: o.Limit, Timeout: o.Timeout, Log: o.Log}
	results := executor.Run(ctx, cfg, tasks, func(ctx context.Context, t executor.Task) (string, error) {
		dst := local[t.Host]
		if err := tr.Get(ctx, t.Spec, src, dst); err != nil {
			return "", err
		}
		return dst, nil
	})
	return collect(results), nil
}
