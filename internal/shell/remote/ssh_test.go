package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// =============================================================================
// Test SSH Server
// =============================================================================

// sshServer accepts one client key and runs every exec request with sh on
// the local machine, so remote paths are local temp directories.
type sshServer struct {
	addr    string
	hostKey ssh.PublicKey
}

func newSSHServer(t *testing.T, clientKey ssh.PublicKey) *sshServer {
	t.Helper()

	hostSigner := newSigner(t)
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, config)
		}
	}()

	return &sshServer{addr: ln.Addr().String(), hostKey: hostSigner.PublicKey()}
}

func serveConn(conn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "sessions only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		cmd := exec.Command("sh", "-c", payload.Command)
		cmd.Stdin = ch
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()

		status := 0
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				status = exitErr.ExitCode()
			} else {
				status = 255
			}
		}
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

// =============================================================================
// Test Helpers
// =============================================================================

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

// sshTarget returns a target for srv whose known_hosts file lists hostKey.
func sshTarget(t *testing.T, srv *sshServer, hostKey ssh.PublicKey) domain.DeployTarget {
	t.Helper()

	host, portStr, err := net.SplitHostPort(srv.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	known := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{srv.addr}, hostKey)
	require.NoError(t, os.WriteFile(known, []byte(line+"\n"), 0o600))

	return domain.DeployTarget{
		Host:           host,
		Port:           port,
		User:           "deploy",
		KeyPath:        "unused",
		KnownHostsPath: known,
		BasePath:       "/opt/app",
		Project:        "app",
	}
}

func dialSSH(t *testing.T, cfg SSHConfig) *SSHTransport {
	t.Helper()

	signer := newSigner(t)
	srv := newSSHServer(t, signer.PublicKey())

	tr, err := SSHDialer{Config: cfg, Logger: discardLogger()}.Dial(context.Background(), sshTarget(t, srv, srv.hostKey), signer)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	st, ok := tr.(*SSHTransport)
	require.True(t, ok)
	return st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Dial Tests
// =============================================================================

func TestSSHDialer_HostKeyMismatch(t *testing.T) {
	signer := newSigner(t)
	srv := newSSHServer(t, signer.PublicKey())
	target := sshTarget(t, srv, newSigner(t).PublicKey())

	_, err := SSHDialer{Logger: discardLogger()}.Dial(context.Background(), target, signer)

	assert.ErrorIs(t, err, ErrHostKey)
}

func TestSSHDialer_UnauthorisedKey(t *testing.T) {
	srv := newSSHServer(t, newSigner(t).PublicKey())
	target := sshTarget(t, srv, srv.hostKey)

	_, err := SSHDialer{Logger: discardLogger()}.Dial(context.Background(), target, newSigner(t))

	assert.ErrorIs(t, err, ErrDial)
	assert.NotErrorIs(t, err, ErrHostKey)
}

func TestSSHDialer_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &sshServer{addr: ln.Addr().String(), hostKey: newSigner(t).PublicKey()}
	require.NoError(t, ln.Close())

	_, err = SSHDialer{Logger: discardLogger()}.Dial(context.Background(), sshTarget(t, srv, srv.hostKey), newSigner(t))

	assert.ErrorIs(t, err, ErrDial)
}

// =============================================================================
// Transport Tests
// =============================================================================

func TestSSHTransport_Run(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())
	ctx := context.Background()

	out, err := tr.Run(ctx, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	out, err = tr.Run(ctx, Join("printf", "%s", "it's $(not) expanded"))
	require.NoError(t, err)
	assert.Equal(t, "it's $(not) expanded", string(out))

	_, err = tr.Run(ctx, "echo oops >&2; exit 3")
	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.ExitStatus)
	assert.Equal(t, "oops\n", cerr.Stderr)
}

func TestSSHTransport_WriteAndReadFile(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "it's an app", ".env")

	require.NoError(t, tr.WriteFile(ctx, path, []byte("A=1\n"), 0o600))

	data, err := tr.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "A=1\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = os.Stat(path + ".shipyard.tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed into place")

	require.NoError(t, tr.WriteFile(ctx, path, []byte("A=2\n"), 0o600))
	data, err = tr.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "A=2\n", string(data))
}

func TestSSHTransport_ReadFileMissing(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())

	_, err := tr.ReadFile(context.Background(), filepath.Join(t.TempDir(), ".env"))

	assert.ErrorIs(t, err, ErrNotExist)
}

func TestSSHTransport_UploadDirectory(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())
	local := t.TempDir()
	mustWrite(t, filepath.Join(local, "main.py"), "print('hi')")
	mustWrite(t, filepath.Join(local, "services", "retrieval.py"), "x = 1")
	mustWrite(t, filepath.Join(local, "__pycache__", "main.cpython-312.pyc"), "junk")
	remote := filepath.Join(t.TempDir(), "base dir", "app")

	require.NoError(t, tr.Upload(context.Background(), local, remote))

	got, err := os.ReadFile(filepath.Join(remote, "services", "retrieval.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1", string(got))
	assert.FileExists(t, filepath.Join(remote, "main.py"))
	assert.NoDirExists(t, filepath.Join(remote, "__pycache__"))
}

func TestSSHTransport_UploadFile(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())
	local := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(local, []byte("fastapi\n"), 0o640))
	remote := filepath.Join(t.TempDir(), "base", "requirements.txt")

	require.NoError(t, tr.Upload(context.Background(), local, remote))

	got, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Equal(t, "fastapi\n", string(got))
	info, err := os.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestSSHTransport_Stream(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())
	var buf bytes.Buffer

	require.NoError(t, tr.Stream(context.Background(), `printf 'a\nb\n'`, &buf))
	assert.Equal(t, "a\nb\n", buf.String())

	err := tr.Stream(context.Background(), "exit 2", &buf)
	assert.Equal(t, 2, ExitStatus(err))
}

func TestSSHTransport_ContextCancelled(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Run(ctx, "echo started; sleep 3")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSSHTransport_CommandTimeout(t *testing.T) {
	cfg := DefaultSSHConfig()
	cfg.CommandTimeout = 200 * time.Millisecond
	tr := dialSSH(t, cfg)

	_, err := tr.Run(context.Background(), "sleep 3")

	assert.ErrorIs(t, err, ErrCommandTimeout)
}

func TestSSHTransport_Closed(t *testing.T) {
	tr := dialSSH(t, DefaultSSHConfig())
	require.NoError(t, tr.Close())

	_, err := tr.Run(context.Background(), "echo ok")

	assert.ErrorIs(t, err, ErrDial)
	assert.NoError(t, tr.Close())
}
