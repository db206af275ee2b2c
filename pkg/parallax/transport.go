package parallax

import (
	"context"
	"os"

	"github.com/parallax-sh/parallax/pkg/sshkit"
)

// Transport abstracts the SSH operations an engine run needs. The production
// implementation is *sshkit.Client; tests substitute in-memory fakes.
type Transport interface {
	// Exec runs cmdline on the host, streaming stdout/stderr into the
	// supplied writers, and returns the remote exit status. A nonzero
	// status is not an error.
	Exec(ctx context.Context, spec sshkit.HostSpec, cmdline string, streams sshkit.ExecIO) (int, error)

	// Put uploads the local file src to the remote path dst with the given
	// permission bits, creating parent directories when mkdirs is set.
	Put(ctx context.Context, spec sshkit.HostSpec, src, dst string, mode os.FileMode, mkdirs bool) error

	// Get downloads the remote file src into the local path dst.
	Get(ctx context.Context, spec sshkit.HostSpec, src, dst string) error
}

var _ Transport = (*sshkit.Client)(nil)
