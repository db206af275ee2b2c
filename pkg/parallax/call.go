package parallax

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parallax-sh/parallax/pkg/executor"
	"github.com/parallax-sh/parallax/pkg/sshkit"
)

// CallOutcome is the per-host success value of Call. A nonzero ExitStatus is
// still a success: the command ran to completion and this is what it said.
type CallOutcome struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
}

// Call runs cmdline on every host concurrently and returns one outcome per
// unique host entry. The returned error covers invalid input only; per-host
// failures land in the batch.
func Call(ctx context.Context, tr Transport, hosts []string, cmdline string, opts Options) (BatchResult[CallOutcome], error) {
	if cmdline == "" {
		return nil, fmt.Errorf("parallax: empty command line")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	o := opts.normalized()

	tasks, err := buildTasks(hosts, o)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{o.OutDir, o.ErrDir} {
		if dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("parallax: %w", err)
			}
		}
	}

	cfg := executor.Config{Limit: o.Limit, Timeout: o.Timeout, Log: o.Log}
	results := executor.Run(ctx, cfg, tasks, func(ctx context.Context, t executor.Task) (CallOutcome, error) {
		var stdout, stderr bytes.Buffer

		outSink, closeOut, err := outputSink(&stdout, o.OutDir, t.Host, o.NoBuffer)
		if err != nil {
			return CallOutcome{}, err
		}
		defer closeOut()
		errSink, closeErr, err := outputSink(&stderr, o.ErrDir, t.Host, o.NoBuffer)
		if err != nil {
			return CallOutcome{}, err
		}
		defer closeErr()

		status, err := tr.Exec(ctx, t.Spec, cmdline, sshkit.ExecIO{Stdout: outSink, Stderr: errSink})
		if err != nil {
			if tail := lastBytes(stderr.Bytes(), 512); len(tail) > 0 {
				err = fmt.Errorf("%w, error output: %s", err, bytes.TrimSpace(tail))
			}
			return CallOutcome{}, err
		}
		return CallOutcome{ExitStatus: status, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
	})
	return collect(results), nil
}

// outputSink wires a host's stream capture: the in-memory buffer, a per-host
// file under dir, or both. The returned close func flushes the file, if any.
func outputSink(buf *bytes.Buffer, dir, host string, noBuffer bool) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	if dir == "" {
		if noBuffer {
			return io.Discard, noop, nil
		}
		return buf, noop, nil
	}
	f, err := os.Create(filepath.Join(dir, host))
	if err != nil {
		return nil, nil, err
	}
	if noBuffer {
		return f, f.Close, nil
	}
	return io.MultiWriter(buf, f), f.Close, nil
}

func lastBytes(b []byte, n int) []byte {
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}
