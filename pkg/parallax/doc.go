// Package parallax performs parallel SSH operations across a set of hosts.
//
// Three operations are supplied:
//
//	Call(ctx, tr, hosts, cmdline, opts)  — run a command on every host
//	Copy(ctx, tr, hosts, src, dst, opts) — push a local file to every host
//	Slurp(ctx, tr, hosts, src, dst, opts) — pull a remote file from every host
//
// Each returns a BatchResult: a map from the host string exactly as the
// caller supplied it to either the operation's success value or an *Error
// describing why that one host failed. One host failing, hanging, or being
// unreachable never affects any other host's entry, and no error escapes the
// batch call for a per-host failure; the operations themselves only return
// an error for invalid input detected before dispatch begins.
//
// Hosts are given as "[user@]host[:port]" strings. At most Options.Limit
// sessions run concurrently (default 32), each under its own deadline
// (default 60s).
package parallax
