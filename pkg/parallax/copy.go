package parallax

import (
	"context"
	"fmt"
	"os"

	"github.com/parallax-sh/parallax/pkg/executor"
)

// Copy pushes the local file src to the remote path dst on every host. The
// success value is the remote path written. The source file is checked once
// up front; a missing or unreadable source fails the whole call before any
// host is contacted.
func Copy(ctx context.Context, tr Transport, hosts []string, src, dst string, opts Options) (BatchResult[string], error) {
	if src == "" || dst == "" {
		return nil, fmt.Errorf("parallax: source and destination paths are required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	o := opts.normalized()

	fi, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("parallax: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("parallax: %s is a directory", src)
	}
	mode := fi.Mode().Perm()

	tasks, err := buildTasks(hosts, o)
	if err != nil {
		return nil, err
	}

	cfg := executor.Config{Limit: o.Limit, Timeout: o.Timeout, Log: o.Log}
	results := executor.Run(ctx, cfg, tasks, func(ctx context.Context, t executor.Task) (string, error) {
		if err := tr.Put(ctx, t.Spec, src, dst, mode, o.MkDirs); err != nil {
			return "", err
		}
		return dst, nil
	})
	return collect(results), nil
}
