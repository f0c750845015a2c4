package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/remote"
)

// SyncReport lists what happened to every artifact of a sync.
type SyncReport struct {
	Uploaded     []string
	Skipped      []string // optional artifacts absent locally
	Failed       string
	Cause        error
	NotAttempted []string
}

// Complete reports whether every artifact was handled.
func (r *SyncReport) Complete() bool {
	return r.Failed == ""
}

// Synchronizer uploads an artifact set to the target's base path.
type Synchronizer struct {
	Transport remote.Transport
	Target    domain.DeployTarget
	WorkDir   string
	Logger    *slog.Logger
}

// Sync uploads the artifacts in declaration order. It stops at the first
// failure and returns a *TransferError carrying the partial report; files
// already uploaded stay on the target.
func (s *Synchronizer) Sync(ctx context.Context, set domain.ArtifactSet) (*SyncReport, error) {
	logger := loggerOr(s.Logger).With("component", "sync")
	report := &SyncReport{}

	if err := set.Validate(); err != nil {
		return report, &TransferError{Report: report, Err: fmt.Errorf("%w: %w", ErrTransferFailed, err)}
	}

	for i, a := range set {
		local := filepath.Join(s.WorkDir, a.LocalPath)

		err := s.upload(ctx, a, local)
		if errors.Is(err, fs.ErrNotExist) && !a.Required {
			logger.Debug("optional artifact absent", "artifact", a.Label())
			report.Skipped = append(report.Skipped, a.Label())
			continue
		}
		if err != nil {
			report.Failed = a.Label()
			report.Cause = err
			report.NotAttempted = domain.Labels(set[i+1:])
			logger.Error("upload failed", "artifact", a.Label(), "error", err,
				"uploaded", report.Uploaded, "not_attempted", report.NotAttempted)
			return report, &TransferError{Report: report, Err: fmt.Errorf("%w: %w", ErrTransferFailed, err)}
		}

		logger.Info("uploaded", "artifact", a.Label(), "remote", s.Target.RemotePath(a.RemotePath))
		report.Uploaded = append(report.Uploaded, a.Label())
	}

	return report, nil
}

func (s *Synchronizer) upload(ctx context.Context, a domain.Artifact, local string) error {
	if _, err := os.Stat(local); err != nil {
		return err
	}
	return s.Transport.Upload(ctx, local, s.Target.RemotePath(a.RemotePath))
}
