package deploy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/shipyard/internal/core/lifecycle"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Precondition errors
	ErrKeyMissing        = errors.New("SSH key not found")
	ErrKeyUnreadable     = errors.New("SSH key is not readable")
	ErrKeyInvalid        = errors.New("SSH key cannot be parsed")
	ErrKeyPassphrase     = errors.New("SSH key is passphrase protected")
	ErrLayoutMismatch    = errors.New("working directory is not an application checkout")
	ErrTargetInvalid     = errors.New("deploy target is invalid")
	ErrTargetUnreachable = errors.New("deploy target is unreachable")

	// Operation errors
	ErrTransferFailed  = errors.New("artifact transfer failed")
	ErrEnvUnreadable   = errors.New("remote env file is not readable")
	ErrEnvUnwritable   = errors.New("remote env file is not writable")
	ErrManifestInvalid = errors.New("manifest is invalid")
	ErrManifestWrite   = errors.New("manifest could not be written")
	ErrComposeFailed   = errors.New("docker compose failed")
	ErrUnhealthy       = errors.New("service did not become healthy")
	ErrSeedFailed      = errors.New("seed request failed")
)

// PreconditionKind says which resolver check failed.
type PreconditionKind string

const (
	PreconditionConfiguration PreconditionKind = "configuration"
	PreconditionCredential    PreconditionKind = "credential"
	PreconditionLayout        PreconditionKind = "layout"
	PreconditionConnectivity  PreconditionKind = "connectivity"
)

// PreconditionError is returned by the resolver before any remote mutation.
type PreconditionError struct {
	Kind PreconditionKind
	Hint string // remediation shown to the operator
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s check failed: %v", e.Kind, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// TransferError carries the partial sync report.
type TransferError struct {
	Report *SyncReport
	Err    error
}

func (e *TransferError) Error() string {
	if e.Report == nil || e.Report.Failed == "" {
		return fmt.Sprintf("transfer: %v", e.Err)
	}
	return fmt.Sprintf("transfer %s: %v (uploaded %d, not attempted %d)",
		e.Report.Failed, e.Err, len(e.Report.Uploaded), len(e.Report.NotAttempted))
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ReconcileError reports a failure reading or writing the remote env file.
type ReconcileError struct {
	Op   string // read, write, apply
	Path string
	Err  error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// ManifestError reports a failure rendering or writing the compose manifest.
type ManifestError struct {
	Op   string // render, write
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("manifest %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("manifest %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// StartupError reports a lifecycle failure. When the probe gave up, Logs holds
// the diagnostic tail of the primary service.
type StartupError struct {
	Op       string // down, up, probe
	State    lifecycle.State
	Attempts []lifecycle.Attempt
	Logs     string
	Err      error
}

func (e *StartupError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "startup %s: %v", e.Op, e.Err)
	if n := len(e.Attempts); n > 0 {
		fmt.Fprintf(&sb, " after %d attempt(s)", n)
		if last := e.Attempts[n-1].Err; last != nil {
			fmt.Fprintf(&sb, ", last: %v", last)
		}
	}
	return sb.String()
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
