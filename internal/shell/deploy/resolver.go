// Package deploy drives a deployment against one remote host: precondition
// checks, artifact upload, env reconciliation, manifest writing, the service
// lifecycle and read-only reporting.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/remote"
	"golang.org/x/crypto/ssh"
)

// DefaultLayoutMarkers are the paths that identify an application checkout.
var DefaultLayoutMarkers = []string{"app", "requirements.txt"}

// Resolver verifies that a deployment can start. It performs no remote
// mutation; the only remote command it runs is an echo.
type Resolver struct {
	Dialer  remote.Dialer
	WorkDir string
	Markers []string // Default: DefaultLayoutMarkers
	Logger  *slog.Logger
}

// Resolve runs the credential, layout and connectivity checks in that order
// and returns an open transport. Every failure is a *PreconditionError.
func (r *Resolver) Resolve(ctx context.Context, target domain.DeployTarget) (remote.Transport, error) {
	logger := loggerOr(r.Logger).With("component", "resolver", "target", target.String())

	if err := target.Validate(); err != nil {
		kind := PreconditionConfiguration
		if errors.Is(err, domain.ErrSSHKeyRequired) {
			kind = PreconditionCredential
		}
		return nil, &PreconditionError{
			Kind: kind,
			Hint: "check the target settings in the config file or SHIPYARD_TARGET_* variables",
			Err:  fmt.Errorf("%w: %w", ErrTargetInvalid, err),
		}
	}

	signer, err := LoadSigner(target.KeyPath)
	if err != nil {
		return nil, &PreconditionError{Kind: PreconditionCredential, Hint: keyHint(err, target.KeyPath), Err: err}
	}
	logger.Debug("credential ok", "key", target.KeyPath, "type", signer.PublicKey().Type())

	if missing := r.missingMarkers(); len(missing) > 0 {
		return nil, &PreconditionError{
			Kind: PreconditionLayout,
			Hint: "run from the application checkout root",
			Err:  fmt.Errorf("%w: missing %s", ErrLayoutMismatch, strings.Join(missing, ", ")),
		}
	}
	logger.Debug("layout ok", "workdir", r.WorkDir)

	transport, err := r.Dialer.Dial(ctx, target, signer)
	if err != nil {
		return nil, &PreconditionError{
			Kind: PreconditionConnectivity,
			Hint: dialHint(err, target),
			Err:  fmt.Errorf("%w: %w", ErrTargetUnreachable, err),
		}
	}

	out, err := transport.Run(ctx, "echo ok")
	if err == nil && strings.TrimSpace(string(out)) != "ok" {
		err = fmt.Errorf("unexpected reply %q", strings.TrimSpace(string(out)))
	}
	if err != nil {
		transport.Close()
		return nil, &PreconditionError{
			Kind: PreconditionConnectivity,
			Hint: "the SSH login works but the remote shell does not; check the user's login shell",
			Err:  fmt.Errorf("%w: %w", ErrTargetUnreachable, err),
		}
	}

	logger.Info("target reachable")
	return transport, nil
}

func (r *Resolver) missingMarkers() []string {
	markers := r.Markers
	if markers == nil {
		markers = DefaultLayoutMarkers
	}

	var missing []string
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(r.WorkDir, m)); err != nil {
			missing = append(missing, m)
		}
	}
	return missing
}

// =============================================================================
// Credential
// =============================================================================

// LoadSigner reads and parses a private key. A leading ~/ is expanded to the
// user's home directory.
func LoadSigner(keyPath string) (ssh.Signer, error) {
	keyPath, err := expandHome(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMissing, err)
	}

	data, err := os.ReadFile(keyPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrKeyMissing, keyPath)
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var passErr *ssh.PassphraseMissingError
		if errors.As(err, &passErr) {
			return nil, fmt.Errorf("%w: %s", ErrKeyPassphrase, keyPath)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyInvalid, keyPath, err)
	}
	return signer, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func keyHint(err error, keyPath string) string {
	switch {
	case errors.Is(err, ErrKeyMissing):
		return fmt.Sprintf("create the key or point target.key_path at it (looked for %s)", keyPath)
	case errors.Is(err, ErrKeyUnreadable):
		return fmt.Sprintf("fix the permissions: chmod 600 %s", keyPath)
	case errors.Is(err, ErrKeyPassphrase):
		return "use a deploy key without a passphrase"
	default:
		return "the file is not an OpenSSH or PEM private key"
	}
}

func dialHint(err error, target domain.DeployTarget) string {
	if errors.Is(err, remote.ErrHostKey) {
		known := target.KnownHostsPath
		if known == "" {
			known = "~/.ssh/known_hosts"
		}
		return fmt.Sprintf("verify the host key, then: ssh-keyscan -p %d %s >> %s", target.Port, target.Host, known)
	}
	return fmt.Sprintf("check that %s accepts SSH for %s and the key is authorised", target.Address(), target.User)
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
