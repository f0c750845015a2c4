package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures the SSH transport.
type SSHConfig struct {
	ConnectTimeout time.Duration // Default: 10 seconds
	CommandTimeout time.Duration // Default: 20 minutes, image builds are slow
	Excludes       []string      // Default: DefaultExcludes
}

// DefaultSSHConfig returns the default configuration.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 20 * time.Minute,
		Excludes:       DefaultExcludes,
	}
}

// =============================================================================
// Dialer
// =============================================================================

// SSHDialer opens SSH transports.
type SSHDialer struct {
	Config SSHConfig
	Logger *slog.Logger
}

// Dial connects to the target, honouring ctx and the connect timeout.
func (d SSHDialer) Dial(ctx context.Context, target domain.DeployTarget, signer ssh.Signer) (Transport, error) {
	cfg := d.Config
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 20 * time.Minute
	}
	if cfg.Excludes == nil {
		cfg.Excludes = DefaultExcludes
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ssh", "target", target.String())

	hostKeyCallback, err := hostKeyCallback(target.KnownHostsPath, logger)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	addr := target.Address()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDial, addr, err)
	}

	// The handshake has no context of its own; bound it with a deadline.
	_ = conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrHostKey, addr, err)
		}
		return nil, fmt.Errorf("%w: handshake %s: %v", ErrDial, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debug("connected")
	return &SSHTransport{
		client:   ssh.NewClient(sshConn, chans, reqs),
		timeout:  cfg.CommandTimeout,
		excludes: cfg.Excludes,
		logger:   logger,
	}, nil
}

func hostKeyCallback(knownHostsPath string, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		logger.Warn("no known_hosts file configured, host key is not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load known_hosts %s: %v", ErrHostKey, knownHostsPath, err)
	}
	return cb, nil
}

// =============================================================================
// SSHTransport
// =============================================================================

// SSHTransport implements Transport over a single SSH connection, opening
// one session per operation.
type SSHTransport struct {
	client   *ssh.Client
	timeout  time.Duration
	excludes []string
	logger   *slog.Logger
	mu       sync.Mutex // protects client
}

// Close closes the SSH connection.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

func (t *SSHTransport) newSession() (*ssh.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil, fmt.Errorf("%w: transport closed", ErrDial)
	}
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create SSH session: %w", err)
	}
	return session, nil
}

// exec runs cmd in a fresh session with optional stdin, waiting for it to
// finish, for ctx to end, or for the command timeout.
func (t *SSHTransport) exec(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer, timeout time.Duration) error {
	session, err := t.newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = &stderr

	t.logger.Debug("run", "cmd", cmd)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case <-ctx.Done():
		t.abort(session, done)
		return ctx.Err()
	case <-timer:
		t.abort(session, done)
		return fmt.Errorf("%w after %v: %s", ErrCommandTimeout, timeout, cmd)
	case err := <-done:
		if err == nil {
			return nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &CommandError{Cmd: cmd, ExitStatus: exitErr.ExitStatus(), Stderr: stderr.String()}
		}
		return fmt.Errorf("run %q: %w", cmd, err)
	}
}

// abortGrace bounds how long an aborted session may take to close before the
// whole connection is dropped.
var abortGrace = 5 * time.Second

// abort signals the remote command, closes the session and waits for Run to
// return, so the session's output copiers are done with the caller's writers.
func (t *SSHTransport) abort(session *ssh.Session, done <-chan error) {
	_ = session.Signal(ssh.SIGTERM)
	_ = session.Close()

	grace := time.NewTimer(abortGrace)
	defer grace.Stop()
	select {
	case <-done:
		return
	case <-grace.C:
	}

	t.logger.Warn("session did not close, dropping the connection")
	_ = t.Close()
	<-done
}

// Run executes cmd and returns its stdout.
func (t *SSHTransport) Run(ctx context.Context, cmd string) ([]byte, error) {
	var stdout bytes.Buffer
	if err := t.exec(ctx, cmd, nil, &stdout, t.timeout); err != nil {
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// Stream executes cmd, copying stdout and stderr to w. There is no command
// timeout; the caller ends a follow by cancelling ctx.
func (t *SSHTransport) Stream(ctx context.Context, cmd string, w io.Writer) error {
	session, err := t.newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	session.Stdout = w
	session.Stderr = w

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		t.abort(session, done)
		return ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &CommandError{Cmd: cmd, ExitStatus: exitErr.ExitStatus()}
		}
		return err
	}
}

// Upload copies a file with cat, or a directory as a tar stream.
func (t *SSHTransport) Upload(ctx context.Context, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s",
			Quote(path.Dir(remotePath)), Quote(remotePath), info.Mode().Perm(), Quote(remotePath))
		return t.exec(ctx, cmd, f, io.Discard, t.timeout)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(WriteTar(pw, localPath, t.excludes))
	}()
	defer pr.Close()

	cmd := fmt.Sprintf("mkdir -p %s && tar -xf - -C %s", Quote(remotePath), Quote(remotePath))
	return t.exec(ctx, cmd, pr, io.Discard, t.timeout)
}

// ReadFile returns the content of a remote file.
func (t *SSHTransport) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	cmd := fmt.Sprintf("if [ -f %s ]; then cat %s; else exit 44; fi", Quote(remotePath), Quote(remotePath))
	out, err := t.Run(ctx, cmd)
	if ExitStatus(err) == 44 {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, remotePath)
	}
	return out, err
}

// WriteFile writes data to a temporary file next to remotePath and renames
// it into place, so readers never see a half-written file.
func (t *SSHTransport) WriteFile(ctx context.Context, remotePath string, data []byte, perm os.FileMode) error {
	tmp := remotePath + ".shipyard.tmp"
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s && mv -f %s %s",
		Quote(path.Dir(remotePath)), Quote(tmp), perm.Perm(), Quote(tmp), Quote(tmp), Quote(remotePath))
	return t.exec(ctx, cmd, bytes.NewReader(data), io.Discard, t.timeout)
}
