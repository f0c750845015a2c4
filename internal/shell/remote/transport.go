// Package remote runs commands on and copies files to the deploy target.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/artpar/shipyard/internal/core/domain"
	"golang.org/x/crypto/ssh"
)

// =============================================================================
// Transport
// =============================================================================

// Transport is the single capability every component uses to reach the
// target. Implementations run one operation at a time; callers never issue
// concurrent calls on the same transport.
type Transport interface {
	// Run executes a shell command and returns its stdout. A non-zero exit is
	// returned as *CommandError.
	Run(ctx context.Context, cmd string) ([]byte, error)

	// Stream executes a shell command and copies its output to w until the
	// command exits or ctx is cancelled.
	Stream(ctx context.Context, cmd string, w io.Writer) error

	// Upload copies a local file or directory to remotePath. Directories are
	// copied recursively, keeping their relative structure.
	Upload(ctx context.Context, localPath, remotePath string) error

	// ReadFile returns the content of a remote file, or ErrNotExist.
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)

	// WriteFile replaces a remote file with data.
	WriteFile(ctx context.Context, remotePath string, data []byte, perm os.FileMode) error

	Close() error
}

// Dialer opens a Transport to a target.
type Dialer interface {
	Dial(ctx context.Context, target domain.DeployTarget, signer ssh.Signer) (Transport, error)
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotExist       = errors.New("remote file does not exist")
	ErrCommandTimeout = errors.New("remote command timed out")
	ErrDial           = errors.New("SSH connection failed")
	ErrHostKey        = errors.New("SSH host key verification failed")
)

// CommandError reports a remote command that exited non-zero.
type CommandError struct {
	Cmd        string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("remote command %q exited with status %d", e.Cmd, e.ExitStatus)
	}
	return fmt.Sprintf("remote command %q exited with status %d: %s", e.Cmd, e.ExitStatus, msg)
}

// ExitStatus returns the remote exit status of err, or -1 when err is not a
// *CommandError.
func ExitStatus(err error) int {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.ExitStatus
	}
	return -1
}

// =============================================================================
// Shell Helpers
// =============================================================================

// Quote makes s safe to use as one word of a POSIX shell command line.
func Quote(s string) string {
	return shellescape.Quote(s)
}

// Join quotes every argument and joins them into one command line.
func Join(args ...string) string {
	return shellescape.QuoteCommand(args)
}
