package sshkit

import "fmt"

// LookupError reports that a host could not be resolved to an address
// before any connection was attempted.
type LookupError struct {
	Host string
	Err  error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("host not found: %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("host not found: %s", e.Host)
}

func (e *LookupError) Unwrap() error { return e.Err }

// ConnectError reports a failure to reach the host or complete the SSH
// handshake for a reason other than rejected credentials.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError reports that the host rejected the supplied credentials.
type AuthError struct {
	User string
	Addr string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %v", e.User, e.Addr, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExecError reports a session-level failure while running a remote command,
// below the exit-status layer. A nonzero remote exit status is not an
// ExecError.
type ExecError struct {
	Host string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution failed on %s: %v", e.Host, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// TransferError reports a failed file push or pull, including local I/O
// failures on either end.
type TransferError struct {
	Op   string // "put" or "get"
	Host string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s on %s: %v", e.Op, e.Path, e.Host, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
