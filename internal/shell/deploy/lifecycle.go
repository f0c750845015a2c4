package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/lifecycle"
	"github.com/artpar/shipyard/internal/shell/probe"
	"github.com/artpar/shipyard/internal/shell/remote"
)

// DefaultLogTail is the number of log lines captured for diagnostics.
const DefaultLogTail = 100

// StartResult describes a start that reached the healthy state.
type StartResult struct {
	State       lifecycle.State
	Attempts    []lifecycle.Attempt
	Transitions []lifecycle.Transition
}

// Controller stops, starts and health-checks the topology on the target.
type Controller struct {
	Transport remote.Transport
	Target    domain.DeployTarget
	Probe     domain.HealthProbe
	Prober    probe.Prober // Default: probe.Remote over Transport
	Primary   string       // service whose logs are captured on failure
	LogTail   int          // Default: DefaultLogTail
	Logger    *slog.Logger

	// Sleep waits between probe attempts. Default: a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Stop tears the project down. A target without a manifest has nothing
// running and counts as stopped.
func (c *Controller) Stop(ctx context.Context) error {
	logger := c.logger()

	exists, err := manifestExists(ctx, c.Transport, c.Target)
	if err != nil {
		return &StartupError{Op: "down", State: lifecycle.StateStopped, Err: fmt.Errorf("%w: %w", ErrComposeFailed, err)}
	}
	if !exists {
		logger.Info("no manifest on target, nothing to stop")
		return nil
	}

	if _, err := c.Transport.Run(ctx, c.compose().down()); err != nil {
		return &StartupError{Op: "down", State: lifecycle.StateStopped, Err: fmt.Errorf("%w: %w", ErrComposeFailed, err)}
	}
	logger.Info("services stopped")
	return nil
}

// Start tears down any running instance, brings the topology up and polls
// the health probe until it succeeds or the attempts run out. When they run
// out the primary service's recent logs are attached to the *StartupError.
func (c *Controller) Start(ctx context.Context, rebuild bool) (*StartResult, error) {
	logger := c.logger()
	m := lifecycle.NewMachine(c.Now)

	if err := c.Stop(ctx); err != nil {
		return nil, err
	}

	if err := m.Fire(lifecycle.StateStarting); err != nil {
		return nil, err
	}
	logger.Info("starting services", "rebuild", rebuild)

	if _, err := c.Transport.Run(ctx, c.compose().up(rebuild)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logs := c.enterUnhealthy(ctx, m)
		return nil, &StartupError{
			Op:    "up",
			State: m.State(),
			Logs:  logs,
			Err:   fmt.Errorf("%w: %w", ErrComposeFailed, err),
		}
	}

	attempts, err := c.poll(ctx)
	if err != nil {
		return nil, err
	}

	last := attempts[len(attempts)-1]
	if lifecycle.Decide(last, c.Probe.MaxAttempts) == lifecycle.StateHealthy {
		if err := m.Fire(lifecycle.StateHealthy); err != nil {
			return nil, err
		}
		logger.Info("services healthy", "attempts", len(attempts), "status", last.Status)
		return &StartResult{State: m.State(), Attempts: attempts, Transitions: m.History()}, nil
	}

	logs := c.enterUnhealthy(ctx, m)
	return nil, &StartupError{
		Op:       "probe",
		State:    m.State(),
		Attempts: attempts,
		Logs:     logs,
		Err:      fmt.Errorf("%w: %s", ErrUnhealthy, c.Probe.URL),
	}
}

// Restart stops and starts the topology without rebuilding images. The stop
// is the teardown Start performs first.
func (c *Controller) Restart(ctx context.Context) (*StartResult, error) {
	return c.Start(ctx, false)
}

// poll runs at most MaxAttempts probes after the initial delay, sleeping
// Delay between consecutive attempts. It returns the attempts made; the last
// one decides the outcome.
func (c *Controller) poll(ctx context.Context) ([]lifecycle.Attempt, error) {
	logger := c.logger()
	prober := c.prober()

	maxAttempts := c.Probe.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if c.Probe.InitialDelay > 0 {
		if err := c.sleep(ctx, c.Probe.InitialDelay); err != nil {
			return nil, err
		}
	}

	var attempts []lifecycle.Attempt
	for n := 1; ; n++ {
		res := prober.Probe(ctx, c.Probe)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		a := lifecycle.Attempt{Number: n, Status: res.Status, Err: res.Err}
		attempts = append(attempts, a)

		next := lifecycle.Decide(a, maxAttempts)
		logger.Info("health probe", "attempt", n, "max_attempts", maxAttempts, "result", res.String(), "next", next)
		if next != lifecycle.StateStarting {
			return attempts, nil
		}

		if err := c.sleep(ctx, c.Probe.Delay); err != nil {
			return nil, err
		}
	}
}

// enterUnhealthy moves the machine to unhealthy and collects the primary
// service's recent logs. Collection failures end up in the returned text.
func (c *Controller) enterUnhealthy(ctx context.Context, m *lifecycle.Machine) string {
	if err := m.Fire(lifecycle.StateUnhealthy); err != nil {
		c.logger().Error("state transition", "error", err)
	}

	tail := c.LogTail
	if tail <= 0 {
		tail = DefaultLogTail
	}

	out, err := c.Transport.Run(ctx, c.compose().logs(c.Primary, tail, false))
	logs := strings.TrimRight(string(out), "\n")
	if err != nil {
		logs = strings.TrimSpace(logs + "\n(log collection failed: " + err.Error() + ")")
	}

	c.logger().Error("services unhealthy", "service", c.Primary, "log_lines", strings.Count(logs, "\n")+1)
	return logs
}

func (c *Controller) compose() compose {
	return compose{target: c.Target}
}

func (c *Controller) prober() probe.Prober {
	if c.Prober != nil {
		return c.Prober
	}
	return probe.Remote{Transport: c.Transport}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (c *Controller) logger() *slog.Logger {
	return loggerOr(c.Logger).With("component", "lifecycle")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
