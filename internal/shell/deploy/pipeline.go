package deploy

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/envpatch"
	"github.com/artpar/shipyard/internal/core/topology"
	"github.com/artpar/shipyard/internal/shell/probe"
	"github.com/artpar/shipyard/internal/shell/remote"
)

// Config is everything one invocation needs. It is built once and not
// changed afterwards.
type Config struct {
	Target      domain.DeployTarget
	WorkDir     string
	Markers     []string
	Artifacts   domain.ArtifactSet
	EnvFile     string
	EnvRules    []envpatch.Rule
	Topology    *topology.Topology
	Probe       domain.HealthProbe
	EdgeURL     string
	SeedURL     string
	SeedTimeout time.Duration
	LogTail     int
}

// Outcome collects what each stage of a run did. Stages that did not run
// leave their field nil.
type Outcome struct {
	Sync    *SyncReport
	Changes []envpatch.Change
	Start   *StartResult
}

// Pipeline composes the components for each command. Every method resolves
// the target first, so nothing on the target changes when a precondition
// fails.
type Pipeline struct {
	Config Config
	Dialer remote.Dialer
	Logger *slog.Logger

	Prober     probe.Prober // health probe override
	EdgeProber probe.Prober // edge probe override
	Sleep      func(ctx context.Context, d time.Duration) error
	Now        func() time.Time
}

// Deploy uploads the artifacts, reconciles the env file, writes the manifest
// and starts the topology with a rebuild.
func (p *Pipeline) Deploy(ctx context.Context) (*Outcome, error) {
	out := &Outcome{}
	err := p.withTransport(ctx, func(t remote.Transport) error {
		var err error
		if out.Sync, err = p.synchronizer(t).Sync(ctx, p.Config.Artifacts); err != nil {
			return err
		}
		if out.Changes, err = p.reconciler(t).Reconcile(ctx, p.Config.EnvRules); err != nil {
			return err
		}
		if err := p.manifestWriter(t).WriteTopology(ctx, p.Config.Topology); err != nil {
			return err
		}
		out.Start, err = p.controller(t).Start(ctx, true)
		return err
	})
	return out, err
}

// CodeOnly uploads the artifacts and nothing else.
func (p *Pipeline) CodeOnly(ctx context.Context) (*Outcome, error) {
	out := &Outcome{}
	err := p.withTransport(ctx, func(t remote.Transport) error {
		var err error
		out.Sync, err = p.synchronizer(t).Sync(ctx, p.Config.Artifacts)
		return err
	})
	return out, err
}

// Restart reconciles the env file and restarts without rebuilding.
func (p *Pipeline) Restart(ctx context.Context) (*Outcome, error) {
	return p.reconcileAndStart(ctx, false)
}

// Rebuild reconciles the env file and starts with a forced rebuild.
func (p *Pipeline) Rebuild(ctx context.Context) (*Outcome, error) {
	return p.reconcileAndStart(ctx, true)
}

func (p *Pipeline) reconcileAndStart(ctx context.Context, rebuild bool) (*Outcome, error) {
	out := &Outcome{}
	err := p.withTransport(ctx, func(t remote.Transport) error {
		var err error
		if out.Changes, err = p.reconciler(t).Reconcile(ctx, p.Config.EnvRules); err != nil {
			return err
		}
		c := p.controller(t)
		if rebuild {
			out.Start, err = c.Start(ctx, true)
		} else {
			out.Start, err = c.Restart(ctx)
		}
		return err
	})
	return out, err
}

// Status reports on the target without changing it.
func (p *Pipeline) Status(ctx context.Context) (*StatusReport, error) {
	var report *StatusReport
	err := p.withTransport(ctx, func(t remote.Transport) error {
		var err error
		report, err = p.reporter(t).Status(ctx)
		return err
	})
	return report, err
}

// Logs streams a service's logs. An empty service means the primary one.
func (p *Pipeline) Logs(ctx context.Context, service string, follow bool) iter.Seq2[string, error] {
	if service == "" && p.Config.Topology != nil {
		service = p.Config.Topology.Primary
	}

	return func(yield func(string, error) bool) {
		err := p.withTransport(ctx, func(t remote.Transport) error {
			for line, err := range p.reporter(t).Logs(ctx, service, follow) {
				if !yield(line, err) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield("", err)
		}
	}
}

// Seed calls the test-data endpoint once.
func (p *Pipeline) Seed(ctx context.Context) (probe.Result, error) {
	var res probe.Result
	err := p.withTransport(ctx, func(t remote.Transport) error {
		s := &Seeder{Transport: t, URL: p.Config.SeedURL, Timeout: p.Config.SeedTimeout, Logger: p.Logger}
		var err error
		res, err = s.Seed(ctx)
		return err
	})
	return res, err
}

// =============================================================================
// Wiring
// =============================================================================

func (p *Pipeline) withTransport(ctx context.Context, fn func(remote.Transport) error) error {
	r := &Resolver{Dialer: p.Dialer, WorkDir: p.Config.WorkDir, Markers: p.Config.Markers, Logger: p.Logger}
	t, err := r.Resolve(ctx, p.Config.Target)
	if err != nil {
		return err
	}
	defer t.Close()
	return fn(t)
}

func (p *Pipeline) synchronizer(t remote.Transport) *Synchronizer {
	return &Synchronizer{Transport: t, Target: p.Config.Target, WorkDir: p.Config.WorkDir, Logger: p.Logger}
}

func (p *Pipeline) reconciler(t remote.Transport) *Reconciler {
	return &Reconciler{Transport: t, Target: p.Config.Target, EnvFile: p.Config.EnvFile, Logger: p.Logger}
}

func (p *Pipeline) manifestWriter(t remote.Transport) *ManifestWriter {
	return &ManifestWriter{Transport: t, Target: p.Config.Target, Logger: p.Logger}
}

func (p *Pipeline) controller(t remote.Transport) *Controller {
	var primary string
	if p.Config.Topology != nil {
		primary = p.Config.Topology.Primary
	}
	return &Controller{
		Transport: t,
		Target:    p.Config.Target,
		Probe:     p.Config.Probe,
		Prober:    p.Prober,
		Primary:   primary,
		LogTail:   p.Config.LogTail,
		Logger:    p.Logger,
		Sleep:     p.Sleep,
		Now:       p.Now,
	}
}

func (p *Pipeline) reporter(t remote.Transport) *Reporter {
	return &Reporter{
		Transport:  t,
		Target:     p.Config.Target,
		Probe:      p.Config.Probe,
		Prober:     p.Prober,
		EdgeURL:    p.Config.EdgeURL,
		EdgeProber: p.EdgeProber,
		LogTail:    p.Config.LogTail,
		Logger:     p.Logger,
	}
}
