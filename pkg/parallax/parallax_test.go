package parallax

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-sh/parallax/pkg/sshkit"
)

// fakeTransport lets each test script per-host behavior. Nil funcs succeed
// with empty output.
type fakeTransport struct {
	mu    sync.Mutex
	calls []string

	exec func(ctx context.Context, spec sshkit.HostSpec, cmdline string, streams sshkit.ExecIO) (int, error)
	put  func(ctx context.Context, spec sshkit.HostSpec, src, dst string, mode os.FileMode, mkdirs bool) error
	get  func(ctx context.Context, spec sshkit.HostSpec, src, dst string) error
}

func (f *fakeTransport) record(spec sshkit.HostSpec) {
	f.mu.Lock()
	f.calls = append(f.calls, spec.Address)
	f.mu.Unlock()
}

func (f *fakeTransport) Exec(ctx context.Context, spec sshkit.HostSpec, cmdline string, streams sshkit.ExecIO) (int, error) {
	f.record(spec)
	if f.exec != nil {
		return f.exec(ctx, spec, cmdline, streams)
	}
	return 0, nil
}

func (f *fakeTransport) Put(ctx context.Context, spec sshkit.HostSpec, src, dst string, mode os.FileMode, mkdirs bool) error {
	f.record(spec)
	if f.put != nil {
		return f.put(ctx, spec, src, dst, mode, mkdirs)
	}
	return nil
}

func (f *fakeTransport) Get(ctx context.Context, spec sshkit.HostSpec, src, dst string) error {
	f.record(spec)
	if f.get != nil {
		return f.get(ctx, spec, src, dst)
	}
	return nil
}

func TestCallAllHostsSucceed(t *testing.T) {
	tr := &fakeTransport{
		exec: func(_ context.Context, _ sshkit.HostSpec, _ string, streams sshkit.ExecIO) (int, error) {
			fmt.Fprintln(streams.Stdout, "hi")
			return 0, nil
		},
	}
	hosts := []string{"web1", "web2", "web3"}

	batch, err := Call(context.Background(), tr, hosts, "echo hi", Options{})
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for _, h := range hosts {
		r, ok := batch[h]
		require.True(t, ok, "missing entry for %s", h)
		require.True(t, r.Ok(), "unexpected failure for %s: %v", h, r.Err)
		assert.Equal(t, 0, r.Value.ExitStatus)
		assert.Equal(t, "hi\n", string(r.Value.Stdout))
		assert.Empty(t, r.Value.Stderr)
	}
	assert.Empty(t, batch.Failed())
}

func TestCallHungHostTimesOutAlone(t *testing.T) {
	tr := &fakeTransport{
		exec: func(ctx context.Context, spec sshkit.HostSpec, _ string, _ sshkit.ExecIO) (int, error) {
			if spec.Address == "stuck" {
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return 0, nil
		},
	}
	hosts := []string{"a", "b", "stuck", "c", "d"}

	start := time.Now()
	batch, err := Call(context.Background(), tr, hosts, "true", Options{Limit: 2, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, batch, 5)

	r := batch["stuck"]
	require.False(t, r.Ok())
	assert.Equal(t, KindTimeout, r.Err.Kind)
	for _, h := range []string{"a", "b", "c", "d"} {
		assert.True(t, batch[h].Ok(), "host %s should have succeeded", h)
	}
	// One hung slot must not serialize the rest behind full timeouts.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallNonzeroExitIsSuccess(t *testing.T) {
	tr := &fakeTransport{
		exec: func(_ context.Context, _ sshkit.HostSpec, _ string, streams sshkit.ExecIO) (int, error) {
			fmt.Fprint(streams.Stderr, "no such file\n")
			return 2, nil
		},
	}

	batch, err := Call(context.Background(), tr, []string{"web1"}, "ls /nope", Options{})
	require.NoError(t, err)
	r := batch["web1"]
	require.True(t, r.Ok())
	assert.Equal(t, 2, r.Value.ExitStatus)
	assert.Equal(t, "no such file\n", string(r.Value.Stderr))
}

func TestCallEmptyHostList(t *testing.T) {
	_, err := Call(context.Background(), &fakeTransport{}, nil, "true", Options{})
	require.Error(t, err)
}

func TestCallAuthFailureClassified(t *testing.T) {
	tr := &fakeTransport{
		exec: func(_ context.Context, spec sshkit.HostSpec, _ string, _ sshkit.ExecIO) (int, error) {
			if spec.Address == "locked" {
				return 0, &sshkit.AuthError{User: "deploy", Addr: "locked:22", Err: fmt.Errorf("no supported methods remain")}
			}
			return 0, nil
		},
	}

	batch, err := Call(context.Background(), tr, []string{"open", "locked"}, "true", Options{})
	require.NoError(t, err)
	assert.True(t, batch["open"].Ok())
	r := batch["locked"]
	require.False(t, r.Ok())
	assert.Equal(t, KindAuthentication, r.Err.Kind)
	assert.Equal(t, "locked", r.Err.Host)
}

func TestCallUnknownHostClassified(t *testing.T) {
	tr := &fakeTransport{
		exec: func(_ context.Context, _ sshkit.HostSpec, _ string, _ sshkit.ExecIO) (int, error) {
			return 0, &sshkit.LookupError{Host: "ghost", Err: fmt.Errorf("no such host")}
		},
	}

	batch, err := Call(context.Background(), tr, []string{"ghost"}, "true", Options{})
	require.NoError(t, err)
	require.False(t, batch["ghost"].Ok())
	assert.Equal(t, KindUnknownHost, batch["ghost"].Err.Kind)
}

func TestCallDuplicateHostLastWins(t *testing.T) {
	var n int
	var mu sync.Mutex
	tr := &fakeTransport{
		exec: func(_ context.Context, _ sshkit.HostSpec, _ string, streams sshkit.ExecIO) (int, error) {
			mu.Lock()
			n++
			seq := n
			mu.Unlock()
			fmt.Fprintf(streams.Stdout, "run %d", seq)
			return 0, nil
		},
	}

	// Serial execution so the later occurrence is the later run.
	batch, err := Call(context.Background(), tr, []string{"web1", "web1"}, "true", Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "run 2", string(batch["web1"].Value.Stdout))
}

func TestCallWritesOutDirFiles(t *testing.T) {
	dir := t.TempDir()
	tr := &fakeTransport{
		exec: func(_ context.Context, spec sshkit.HostSpec, _ string, streams sshkit.ExecIO) (int, error) {
			fmt.Fprintf(streams.Stdout, "from %s\n", spec.Address)
			return 0, nil
		},
	}

	batch, err := Call(context.Background(), tr, []string{"web1", "web2"}, "hostname", Options{OutDir: dir})
	require.NoError(t, err)
	for _, h := range []string{"web1", "web2"} {
		require.True(t, batch[h].Ok())
		data, err := os.ReadFile(filepath.Join(dir, h))
		require.NoError(t, err)
		assert.Equal(t, "from "+h+"\n", string(data))
		assert.Equal(t, "from "+h+"\n", string(batch[h].Value.Stdout))
	}
}

func TestCallNoBufferStreamsToDirs(t *testing.T) {
	outDir := t.TempDir()
	errDir := t.TempDir()
	tr := &fakeTransport{
		exec: func(_ context.Context, spec sshkit.HostSpec, _ string, streams sshkit.ExecIO) (int, error) {
			fmt.Fprintf(streams.Stdout, "out from %s\n", spec.Address)
			fmt.Fprintf(streams.Stderr, "err from %s\n", spec.Address)
			return 0, nil
		},
	}

	batch, err := Call(context.Background(), tr, []string{"web1", "web2"}, "hostname",
		Options{OutDir: outDir, ErrDir: errDir, NoBuffer: true})
	require.NoError(t, err)
	for _, h := range []string{"web1", "web2"} {
		r := batch[h]
		require.True(t, r.Ok(), "%s: %v", h, r.Err)
		// With NoBuffer the output lands only in the per-host files.
		assert.Empty(t, r.Value.Stdout)
		assert.Empty(t, r.Value.Stderr)

		data, err := os.ReadFile(filepath.Join(outDir, h))
		require.NoError(t, err)
		assert.Equal(t, "out from "+h+"\n", string(data))
		data, err = os.ReadFile(filepath.Join(errDir, h))
		require.NoError(t, err)
		assert.Equal(t, "err from "+h+"\n", string(data))
	}
}

func TestCallNoBufferWithoutDirsDiscards(t *testing.T) {
	tr := &fakeTransport{
		exec: func(_ context.Context, _ sshkit.HostSpec, _ string, streams sshkit.ExecIO) (int, error) {
			fmt.Fprint(streams.Stdout, "lots of output")
			return 0, nil
		},
	}

	batch, err := Call(context.Background(), tr, []string{"web1"}, "hostname", Options{NoBuffer: true})
	require.NoError(t, err)
	require.True(t, batch["web1"].Ok())
	assert.Empty(t, batch["web1"].Value.Stdout)
}

func TestCallRejectsEntryWithPathSeparator(t *testing.T) {
	tr := &fakeTransport{}
	_, err := Call(context.Background(), tr, []string{"../escape"}, "true", Options{OutDir: t.TempDir()})
	require.Error(t, err)
	assert.Empty(t, tr.calls, "no host should be contacted")
}

func TestCallBatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	tr := &fakeTransport{
		exec: func(ctx context.Context, _ sshkit.HostSpec, _ string, _ sshkit.ExecIO) (int, error) {
			select {
			case <-release:
				return 0, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		},
	}

	done := make(chan BatchResult[CallOutcome], 1)
	go func() {
		batch, err := Call(ctx, tr, []string{"a", "b", "c", "d"}, "true", Options{Limit: 1, Timeout: -1})
		assert.NoError(t, err)
		done <- batch
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	close(release)

	batch := <-done
	require.Len(t, batch, 4)
	var cancelled int
	for _, r := range batch {
		if !r.Ok() && r.Err.Kind == KindCancelled {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "cancellation should reach undispatched hosts")
}

func TestCopyOneHostFails(t *testing.T) {
	src := filepath.Join(t.TempDir(), "app.conf")
	require.NoError(t, os.WriteFile(src, []byte("key=value\n"), 0o644))

	tr := &fakeTransport{
		put: func(_ context.Context, spec sshkit.HostSpec, _, dst string, _ os.FileMode, _ bool) error {
			if spec.Address == "web2" {
				return &sshkit.TransferError{Op: "upload", Host: "web2", Path: dst, Err: fmt.Errorf("permission denied")}
			}
			return nil
		},
	}

	batch, err := Copy(context.Background(), tr, []string{"web1", "web2"}, src, "/etc/app.conf", Options{})
	require.NoError(t, err)
	require.True(t, batch["web1"].Ok())
	assert.Equal(t, "/etc/app.conf", batch["web1"].Value)

	r := batch["web2"]
	require.False(t, r.Ok())
	assert.Equal(t, KindTransfer, r.Err.Kind)
	assert.Equal(t, []string{"web2"}, batch.Failed())
}

func TestCopyMissingSourceFailsUpfront(t *testing.T) {
	tr := &fakeTransport{}
	_, err := Copy(context.Background(), tr, []string{"web1"}, "/nonexistent/file", "/tmp/f", Options{})
	require.Error(t, err)
	assert.Empty(t, tr.calls, "no host should be contacted")
}

func TestSlurpPerHostDirectories(t *testing.T) {
	base := t.TempDir()
	tr := &fakeTransport{
		get: func(_ context.Context, spec sshkit.HostSpec, _, dst string) error {
			return os.WriteFile(dst, []byte("log of "+spec.Address), 0o644)
		},
	}
	hosts := []string{"web1", "web2:2222"}

	batch, err := Slurp(context.Background(), tr, hosts, "/var/log/app.log", "app.log", Options{LocalDir: base})
	require.NoError(t, err)
	for _, h := range hosts {
		r := batch[h]
		require.True(t, r.Ok(), "%s: %v", h, r.Err)
		assert.Equal(t, filepath.Join(base, h, "app.log"), r.Value)
		data, err := os.ReadFile(r.Value)
		require.NoError(t, err)
		assert.Contains(t, string(data), "log of ")
	}
}

func TestSlurpRejectsAbsoluteDestination(t *testing.T) {
	_, err := Slurp(context.Background(), &fakeTransport{}, []string{"web1"}, "/etc/passwd", "/tmp/passwd", Options{})
	require.Error(t, err)
}

func TestSlurpRejectsEntryWithPathSeparator(t *testing.T) {
	tr := &fakeTransport{}
	_, err := Slurp(context.Background(), tr, []string{"web1/.."}, "/var/log/app.log", "app.log", Options{LocalDir: t.TempDir()})
	require.Error(t, err)
	assert.Empty(t, tr.calls)
}

func TestBatchDeterministicAcrossRuns(t *testing.T) {
	tr := &fakeTransport{
		exec: func(_ context.Context, spec sshkit.HostSpec, _ string, streams sshkit.ExecIO) (int, error) {
			if spec.Address == "bad" {
				return 0, &sshkit.ConnectError{Addr: "bad:22", Err: fmt.Errorf("connection refused")}
			}
			fmt.Fprint(streams.Stdout, spec.Address)
			return 0, nil
		},
	}
	hosts := []string{"a", "bad", "b", "c"}

	for run := 0; run < 3; run++ {
		batch, err := Call(context.Background(), tr, hosts, "hostname", Options{Limit: 2})
		require.NoError(t, err)
		require.Len(t, batch, 4)
		assert.Equal(t, KindConnection, batch["bad"].Err.Kind)
		for _, h := range []string{"a", "b", "c"} {
			require.True(t, batch[h].Ok())
			assert.Equal(t, h, string(batch[h].Value.Stdout))
		}
	}
}
