package parallax

import (
	"fmt"
	"time"

	"github.com/parallax-sh/parallax/pkg/logger"
)

const (
	// DefaultLimit is the number of hosts worked on concurrently when
	// Options.Limit is zero.
	DefaultLimit = 32

	// DefaultTimeout is the per-host deadline applied when Options.Timeout
	// is zero.
	DefaultTimeout = 60 * time.Second
)

// Options tunes a batch operation. The zero value is usable: up to
// DefaultLimit concurrent sessions, DefaultTimeout per host, output buffered
// in memory.
type Options struct {
	// Limit caps how many hosts are worked on at once. Zero means
	// DefaultLimit; negative is invalid.
	Limit int

	// Timeout bounds each host's operation, connect included. Zero means
	// DefaultTimeout; negative disables the deadline entirely.
	Timeout time.Duration

	// DefaultUser is applied to hosts whose entry carries no user@ prefix.
	DefaultUser string

	// DefaultPort is applied to hosts whose entry carries no :port suffix.
	DefaultPort int

	// OutDir and ErrDir, when set, receive one file per host (named after
	// the host entry) holding that host's stdout respectively stderr.
	OutDir string
	ErrDir string

	// LocalDir is the base directory Slurp stores downloads under. Empty
	// means the current directory.
	LocalDir string

	// MkDirs makes Copy create missing remote parent directories.
	MkDirs bool

	// NoBuffer drops the in-memory stdout/stderr capture for Call. Only
	// meaningful together with OutDir or ErrDir; the returned CallOutcome
	// then carries empty buffers.
	NoBuffer bool

	// Log, when non-nil, receives per-host progress at debug level.
	Log *logger.Logger
}

func (o Options) validate() error {
	if o.Limit < 0 {
		return fmt.Errorf("parallax: negative concurrency limit %d", o.Limit)
	}
	if o.DefaultPort < 0 || o.DefaultPort > 65535 {
		return fmt.Errorf("parallax: default port %d out of range", o.DefaultPort)
	}
	return nil
}

func (o Options) normalized() Options {
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	switch {
	case o.Timeout == 0:
		o.Timeout = DefaultTimeout
	case o.Timeout < 0:
		o.Timeout = 0
	}
	return o
}
