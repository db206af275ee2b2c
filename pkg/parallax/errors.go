package parallax

import (
	"context"
	"errors"
	"fmt"

	"github.com/parallax-sh/parallax/pkg/sshkit"
)

// ErrorKind categorizes what went wrong on a single host.
type ErrorKind int

const (
	// KindConnection covers dial and handshake failures.
	KindConnection ErrorKind = iota
	// KindAuthentication means the server rejected every credential offered.
	KindAuthentication
	// KindTimeout means the per-host deadline expired before the operation
	// finished.
	KindTimeout
	// KindExecution covers remote command failures other than a nonzero
	// exit status, such as a broken session or a refused channel.
	KindExecution
	// KindTransfer covers file push and pull failures.
	KindTransfer
	// KindCancelled means the whole batch was cancelled before this host's
	// operation completed.
	KindCancelled
	// KindUnknownHost means the host name could not be resolved.
	KindUnknownHost
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindAuthentication:
		return "authentication error"
	case KindTimeout:
		return "timed out"
	case KindExecution:
		return "execution error"
	case KindTransfer:
		return "transfer error"
	case KindCancelled:
		return "cancelled"
	case KindUnknownHost:
		return "unknown host"
	default:
		return "error"
	}
}

// Error is the failure entry recorded for a single host in a BatchResult.
type Error struct {
	Host string
	Kind ErrorKind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("%s: %s: %s", e.Host, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// classify maps a raw task error onto the per-host taxonomy. Context errors
// are checked first: a timed-out connect surfaces as a timeout, not a
// connection error.
func classify(host string, err error) *Error {
	kind := KindExecution
	msg := err.Error()

	var (
		lookupErr   *sshkit.LookupError
		connectErr  *sshkit.ConnectError
		authErr     *sshkit.AuthError
		transferErr *sshkit.TransferError
		execErr     *sshkit.ExecError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
		msg = "deadline exceeded before the operation completed"
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
		msg = "batch cancelled before the operation completed"
	case errors.As(err, &lookupErr):
		kind = KindUnknownHost
	case errors.As(err, &authErr):
		kind = KindAuthentication
	case errors.As(err, &connectErr):
		kind = KindConnection
	case errors.As(err, &transferErr):
		kind = KindTransfer
	case errors.As(err, &execErr):
		kind = KindExecution
	}

	return &Error{Host: host, Kind: kind, Msg: msg, err: err}
}
