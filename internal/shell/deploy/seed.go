package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/probe"
	"github.com/artpar/shipyard/internal/shell/remote"
)

// DefaultSeedURL is the application's test-data endpoint as seen from the
// target.
const DefaultSeedURL = "http://localhost:8000/api/v1/auth/test-setup"

// Seeder calls the test-data endpoint once from the target.
type Seeder struct {
	Transport remote.Transport
	URL       string        // Default: DefaultSeedURL
	Timeout   time.Duration // Default: 30 seconds
	Logger    *slog.Logger
}

// Seed POSTs to the endpoint. It does not retry.
func (s *Seeder) Seed(ctx context.Context) (probe.Result, error) {
	p := domain.HealthProbe{URL: s.URL, Timeout: s.Timeout, MaxAttempts: 1}
	if p.URL == "" {
		p.URL = DefaultSeedURL
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}

	res := probe.Remote{Transport: s.Transport, Method: http.MethodPost}.Probe(ctx, p)
	if !res.OK() {
		return res, fmt.Errorf("%w: %w", ErrSeedFailed, res.Err)
	}

	loggerOr(s.Logger).With("component", "seed").Info("test data seeded", "url", p.URL, "status", res.Status)
	return res, nil
}
