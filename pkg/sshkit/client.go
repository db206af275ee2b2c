// Package sshkit provides the SSH capability used by the batch operations:
// open a session to a host, run a command or transfer a file, and report the
// result or a classified failure.
//
// Every blocking call takes a context.Context. Cancelling the context tears
// down the underlying TCP connection, which makes the in-progress handshake,
// command or transfer return promptly. This is what allows a per-host timer
// to abort one host's session without touching any other host.
//
// Host Specification
//
// Hosts are specified using HostSpec, which defines connection parameters:
//   - Address: the host address (hostname or IP)
//   - User: SSH username (defaults to the client-level user)
//   - Port: SSH port (defaults to 22)
//   - KeyPath: per-host private key override
//
// The boolean Set fields record whether a value was explicitly configured,
// which matters when merging with ~/.ssh/config entries and defaults.
//
// Example:
//
//	client, err := sshkit.NewClient("~/.ssh/id_ed25519")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	var stdout, stderr bytes.Buffer
//	status, err := client.Exec(ctx, sshkit.HostSpec{Address: "example.com"},
//	    "uptime", sshkit.ExecIO{Stdout: &stdout, Stderr: &stderr})
package sshkit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/sync/errgroup"
)

// Client holds the authentication material and host key policy shared by all
// sessions. Client is safe for concurrent use; each call opens its own
// connection.
type Client struct {
	config   *ssh.ClientConfig
	keyPath  string
	progress ProgressFunc
}

// ProgressFunc receives byte counts for a file transfer in flight. total is
// zero when the remote size is not known ahead of time, as on downloads.
type ProgressFunc func(host, path string, written, total int64)

// HostSpec defines the parameters for connecting to a single remote host.
type HostSpec struct {
	// Address is the hostname or IP address of the remote host.
	Address string
	// User is the SSH username for authentication.
	User string
	// Port is the SSH port number (0 means 22).
	Port int
	// KeyPath is a per-host private key file overriding the client key.
	KeyPath string
	// UserSet indicates if User was explicitly configured.
	UserSet bool
	// PortSet indicates if Port was explicitly configured.
	PortSet bool
	// KeyPathSet indicates if KeyPath was explicitly configured.
	KeyPathSet bool
}

// ExecIO carries the standard streams for one remote command. Stdout and
// Stderr may be nil, in which case that stream is discarded.
type ExecIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ClientOption configures a Client during creation.
type ClientOption func(*clientConfig)

type clientConfig struct {
	user           string
	knownHostsPath string
	strictHostKey  bool
	connectTimeout time.Duration
	progress       ProgressFunc
}

// WithUser sets the default username for connections.
func WithUser(user string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.user = user
	}
}

// WithKnownHosts sets the path to the known_hosts file.
func WithKnownHosts(path string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.knownHostsPath = path
	}
}

// WithStrictHostKey enables strict host key checking.
// When true, connections to unknown hosts are rejected.
// When false (default), unknown host keys are added to known_hosts.
func WithStrictHostKey(strict bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.strictHostKey = strict
	}
}

// WithConnectTimeout bounds the TCP dial and SSH handshake.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectTimeout = d
	}
}

// WithProgress installs a callback invoked as Put and Get move bytes. The
// callback may be invoked from multiple transfers at once.
func WithProgress(fn ProgressFunc) ClientOption {
	return func(cfg *clientConfig) {
		cfg.progress = fn
	}
}

// NewClient creates a client authenticating with the given private key.
// If keyPath is empty, ssh-agent and the default key locations are tried.
func NewClient(keyPath string, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		user:           "root",
		connectTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	expanded := expandPath(keyPath)
	hostKeyCallback, err := buildHostKeyCallback(cfg.knownHostsPath, cfg.strictHostKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create host key callback: %w", err)
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            cfg.user,
			Auth:            buildAuthMethods(expanded),
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.connectTimeout,
		},
		keyPath:  expanded,
		progress: cfg.progress,
	}, nil
}

// NewClientWithPassword creates a client using password authentication.
func NewClientWithPassword(user, password string, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{connectTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	hostKeyCallback, err := buildHostKeyCallback(cfg.knownHostsPath, cfg.strictHostKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create host key callback: %w", err)
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.Password(password)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.connectTimeout,
		},
		progress: cfg.progress,
	}, nil
}

// buildHostKeyCallback creates the host key callback based on configuration.
func buildHostKeyCallback(knownHostsPath string, strictHostKey bool) (ssh.HostKeyCallback, error) {
	verifier, err := NewKnownHostsVerifier(knownHostsPath, !strictHostKey)
	if err != nil {
		// Fall back to accepting any key rather than failing client creation.
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return verifier.HostKeyCallback(), nil
}

// buildAuthMethods builds the authentication method list with fallbacks:
// ssh-agent, the configured key, then the conventional key locations.
func buildAuthMethods(keyPath string) []ssh.AuthMethod {
	methods := []ssh.AuthMethod{}

	if agentSigner, err := getAgentSigner(); err == nil {
		methods = append(methods, ssh.PublicKeys(agentSigner))
	}

	if keyPath != "" {
		if keySigner, err := parsePrivateKey(keyPath); err == nil {
			methods = append(methods, ssh.PublicKeys(keySigner))
		}
	}

	if keyPath == "" {
		defaultKeys := []string{
			"id_rsa",
			"id_ed25519",
			"id_ecdsa",
			"id_ecdsa_sk",
			"id_ed25519_sk",
		}
		home, _ := os.UserHomeDir()
		for _, key := range defaultKeys {
			fullPath := filepath.Join(home, ".ssh", key)
			if keySigner, err := parsePrivateKey(fullPath); err == nil {
				methods = append(methods, ssh.PublicKeys(keySigner))
			}
		}
	}

	return methods
}

func parsePrivateKey(keyPath string) (ssh.Signer, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

// getAgentSigner tries to get a signer from ssh-agent.
func getAgentSigner() (ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.DialTimeout("unix", socket, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ssh-agent: %w", err)
	}

	agentClient := agent.NewClient(conn)
	signers, err := agentClient.Signers()
	if err != nil {
		return nil, fmt.Errorf("failed to get signers from agent: %w", err)
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("no signers available in ssh-agent")
	}

	return signers[0], nil
}

// expandPath expands a leading ~ and environment variables.
func expandPath(p string) string {
	if len(p) > 0 && p[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(p) > 1 && p[1] == '/' {
			p = filepath.Join(home, p[2:])
		} else {
			p = home
		}
	}
	return os.ExpandEnv(p)
}

// hostsFilePath is a variable so tests can point it at a fixture.
var hostsFilePath = "/etc/hosts"

var (
	hostsCache       map[string]string
	hostsCacheLoaded bool
	hostsCacheMu     sync.Mutex
)

// loadHostsFile loads the static hosts file into a lookup map.
func loadHostsFile() map[string]string {
	m := make(map[string]string)

	f, err := os.Open(hostsFilePath)
	if err != nil {
		return m
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		ip := fields[0]
		// IPv4 entries only
		if strings.Contains(ip, ":") || net.ParseIP(ip) == nil {
			continue
		}

		for _, hostname := range fields[1:] {
			if strings.HasPrefix(hostname, "#") {
				break
			}
			if hostname != "" {
				m[hostname] = ip
			}
		}
	}

	return m
}

func lookupHostsFile(hostname string) (string, bool) {
	hostsCacheMu.Lock()
	defer hostsCacheMu.Unlock()
	if !hostsCacheLoaded {
		hostsCache = loadHostsFile()
		hostsCacheLoaded = true
	}
	ip, found := hostsCache[hostname]
	return ip, found
}

// resolveHost resolves a host address, trying DNS first and falling back to
// the hosts file. A failure is reported as *LookupError.
func resolveHost(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	addrs, err := net.LookupHost(host)
	if err == nil && len(addrs) > 0 {
		for _, addr := range addrs {
			if !strings.Contains(addr, ":") {
				return addr, nil
			}
		}
		return addrs[0], nil
	}

	if ip, found := lookupHostsFile(host); found {
		return ip, nil
	}

	return "", &LookupError{Host: host, Err: err}
}

// Connect dials the host and completes the SSH handshake. Cancelling ctx
// closes the TCP connection, aborting the handshake.
func (c *Client) Connect(ctx context.Context, spec HostSpec) (*ssh.Client, error) {
	config := *c.config // Copy config
	if spec.User != "" {
		config.User = spec.User
	}
	if spec.KeyPath != "" && spec.KeyPath != c.keyPath {
		if signer, err := parsePrivateKey(expandPath(spec.KeyPath)); err == nil {
			config.Auth = append([]ssh.AuthMethod{ssh.PublicKeys(signer)}, config.Auth...)
		}
	}

	port := spec.Port
	if port == 0 {
		port = 22
	}

	hostAddr, err := resolveHost(spec.Address)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(hostAddr, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	// The handshake itself does not take a context; closing the conn when
	// the context fires unblocks it.
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, &config)
	close(handshakeDone)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isAuthFailure(err) {
			return nil, &AuthError{User: config.User, Addr: addr, Err: err}
		}
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	return ssh.NewClient(cc, chans, reqs), nil
}

// isAuthFailure reports whether a handshake error was a credential rejection
// rather than a transport failure.
func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "no supported methods remain")
}

// watchConn closes the client when ctx fires, forcing any blocked session
// call to return. The returned stop function disarms the watchdog.
func watchConn(ctx context.Context, client *ssh.Client) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// Exec runs cmd on the remote host, wiring the given streams, and returns
// the remote exit status. A nonzero exit status is not an error. On context
// cancellation the session is interrupted and ctx.Err() is returned; output
// captured so far remains in the writers.
func (c *Client) Exec(ctx context.Context, spec HostSpec, cmd string, streams ExecIO) (int, error) {
	client, err := c.Connect(ctx, spec)
	if err != nil {
		return -1, err
	}
	defer client.Close()

	stop := watchConn(ctx, client)
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return -1, &ExecError{Host: spec.Address, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	if streams.Stdin != nil {
		session.Stdin = streams.Stdin
	}
	session.Stdout = streams.Stdout
	session.Stderr = streams.Stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		return execStatus(spec.Address, err)
	case <-ctx.Done():
		// Interrupt the remote process, then force the session shut.
		_ = session.Signal(ssh.SIGINT)
		session.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
		return -1, ctx.Err()
	}
}

// execStatus maps a session.Run error to an exit status. A remote nonzero
// exit is a normal outcome; anything else is an ExecError.
func execStatus(host string, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus(), nil
	}
	return -1, &ExecError{Host: host, Err: err}
}

// Put copies the local file src to dst on the remote host using the scp
// sink protocol. When mkdirs is true the remote parent directory is created
// first.
func (c *Client) Put(ctx context.Context, spec HostSpec, src, dst string, mode os.FileMode, mkdirs bool) error {
	f, err := os.Open(src)
	if err != nil {
		return &TransferError{Op: "put", Host: spec.Address, Path: src, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return &TransferError{Op: "put", Host: spec.Address, Path: src, Err: err}
	}

	client, err := c.Connect(ctx, spec)
	if err != nil {
		return err
	}
	defer client.Close()

	stop := watchConn(ctx, client)
	defer stop()

	destDir := path.Dir(dst)
	if destDir == "" {
		destDir = "."
	}

	if mkdirs {
		if err := c.runOnce(client, "mkdir -p "+shellQuote(destDir)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransferError{Op: "put", Host: spec.Address, Path: dst, Err: err}
		}
	}

	session, err := client.NewSession()
	if err != nil {
		return &TransferError{Op: "put", Host: spec.Address, Path: dst, Err: err}
	}
	defer session.Close()

	w, err := session.StdinPipe()
	if err != nil {
		return &TransferError{Op: "put", Host: spec.Address, Path: dst, Err: err}
	}

	var src2 io.Reader = f
	if c.progress != nil {
		src2 = &progressReader{r: f, total: fi.Size(), report: func(n, total int64) {
			c.progress(spec.Address, dst, n, total)
		}}
	}

	var g errgroup.Group
	g.Go(func() error {
		defer w.Close()
		if _, err := fmt.Fprintf(w, "C%04o %d %s\n", mode.Perm(), fi.Size(), path.Base(dst)); err != nil {
			return err
		}
		if _, err := io.Copy(w, src2); err != nil {
			return err
		}
		_, err := fmt.Fprint(w, "\x00")
		return err
	})
	g.Go(func() error {
		return session.Run("scp -t " + shellQuote(destDir))
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransferError{Op: "put", Host: spec.Address, Path: dst, Err: fmt.Errorf("scp failed: %w", err)}
	}
	return nil
}

// Get copies the remote file src to the local path dst.
func (c *Client) Get(ctx context.Context, spec HostSpec, src, dst string) error {
	client, err := c.Connect(ctx, spec)
	if err != nil {
		return err
	}
	defer client.Close()

	stop := watchConn(ctx, client)
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return &TransferError{Op: "get", Host: spec.Address, Path: src, Err: err}
	}
	defer session.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &TransferError{Op: "get", Host: spec.Address, Path: dst, Err: err}
	}

	var sink io.Writer = out
	if c.progress != nil {
		pw := &progressWriter{report: func(n int64) { c.progress(spec.Address, src, n, 0) }}
		sink = io.MultiWriter(out, pw)
	}
	session.Stdout = sink

	// cat keeps the remote side free of scp/sftp requirements
	if err := session.Run("cat " + shellQuote(src)); err != nil {
		out.Close()
		os.Remove(dst)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransferError{Op: "get", Host: spec.Address, Path: src, Err: err}
	}

	if err := out.Close(); err != nil {
		return &TransferError{Op: "get", Host: spec.Address, Path: dst, Err: err}
	}
	return nil
}

// TestConnection verifies that the host accepts a connection.
func (c *Client) TestConnection(ctx context.Context, spec HostSpec) error {
	client, err := c.Connect(ctx, spec)
	if err != nil {
		return err
	}
	client.Close()
	return nil
}

// progressReader counts bytes read from the local source of an upload.
type progressReader struct {
	r      io.Reader
	n      int64
	total  int64
	report func(written, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.report(p.n, p.total)
	}
	return n, err
}

// progressWriter counts bytes written to the local target of a download.
type progressWriter struct {
	n      int64
	report func(written int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.n += int64(len(b))
	p.report(p.n)
	return len(b), nil
}

// shellQuote wraps s in single quotes so the remote shell takes it verbatim,
// spaces and metacharacters included.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runOnce runs a short command on its own session, discarding output.
func (c *Client) runOnce(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run(cmd)
}
