package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/topology"
	"github.com/artpar/shipyard/internal/shell/remote"
)

// ManifestName is the compose file written to the base path.
const ManifestName = "docker-compose.prod.yml"

// ManifestWriter renders a topology and writes it to the target.
type ManifestWriter struct {
	Transport remote.Transport
	Target    domain.DeployTarget
	Logger    *slog.Logger
}

// Path returns the absolute remote path of the manifest.
func (w *ManifestWriter) Path() string {
	return w.Target.RemotePath(ManifestName)
}

// WriteTopology overwrites the remote manifest with the rendered topology.
// Edits made on the target are discarded.
func (w *ManifestWriter) WriteTopology(ctx context.Context, topo *topology.Topology) error {
	logger := loggerOr(w.Logger).With("component", "manifest")

	content, err := topology.Render(topo)
	if err != nil {
		return &ManifestError{Op: "render", Err: fmt.Errorf("%w: %w", ErrManifestInvalid, err)}
	}

	p := w.Path()
	if err := w.Transport.WriteFile(ctx, p, content, 0o644); err != nil {
		return &ManifestError{Op: "write", Path: p, Err: fmt.Errorf("%w: %w", ErrManifestWrite, err)}
	}

	logger.Info("manifest written", "path", p, "services", topo.ServiceNames(), "bytes", len(content))
	return nil
}
