package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/envpatch"
	"github.com/artpar/shipyard/internal/shell/remote"
)

// DefaultEnvFile is the env file name relative to the base path.
const DefaultEnvFile = ".env"

// Reconciler applies env rules to the remote env file.
type Reconciler struct {
	Transport remote.Transport
	Target    domain.DeployTarget
	EnvFile   string // Default: DefaultEnvFile
	Logger    *slog.Logger
}

// Path returns the absolute remote path of the env file.
func (r *Reconciler) Path() string {
	name := r.EnvFile
	if name == "" {
		name = DefaultEnvFile
	}
	return r.Target.RemotePath(name)
}

// Reconcile reads the env file, applies the rules in order and writes the
// result back only when at least one rule changed it. Running it again on
// its own output changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, rules []envpatch.Rule) ([]envpatch.Change, error) {
	logger := loggerOr(r.Logger).With("component", "reconcile")
	p := r.Path()

	data, err := r.Transport.ReadFile(ctx, p)
	if err != nil {
		if errors.Is(err, remote.ErrNotExist) {
			err = fmt.Errorf("%w: file does not exist", ErrEnvUnreadable)
		} else {
			err = fmt.Errorf("%w: %w", ErrEnvUnreadable, err)
		}
		return nil, &ReconcileError{Op: "read", Path: p, Err: err}
	}

	patched, changes, err := envpatch.Apply(string(data), rules)
	if err != nil {
		return nil, &ReconcileError{Op: "apply", Path: p, Err: err}
	}

	if len(changes) == 0 {
		logger.Info("env file already reconciled", "path", p)
		return nil, nil
	}

	if err := r.Transport.WriteFile(ctx, p, []byte(patched), 0o600); err != nil {
		return nil, &ReconcileError{Op: "write", Path: p, Err: fmt.Errorf("%w: %w", ErrEnvUnwritable, err)}
	}

	for _, c := range changes {
		logger.Info("env rule applied", "change", c.String())
	}
	return changes, nil
}
