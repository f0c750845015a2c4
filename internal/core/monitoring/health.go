// Package monitoring derives health verdicts from what the status command
// observes on the target.
// This is part of the Functional Core - all functions are pure with no I/O.
package monitoring

import "github.com/artpar/shipyard/internal/core/domain"

// =============================================================================
// Health Aggregation (Pure Functions)
// =============================================================================

// ServiceHealth maps the state and health columns of docker compose ps to a
// health status.
//
// Parameters:
// - state: container state (running, restarting, paused, exited, dead, created)
// - health: compose health check result, empty when the service has none
func ServiceHealth(state, health string) domain.HealthStatus {
	switch state {
	case "running":
		switch health {
		case "unhealthy":
			return domain.HealthStatusUnhealthy
		case "starting":
			return domain.HealthStatusDegraded
		default:
			return domain.HealthStatusHealthy
		}
	case "restarting", "paused":
		return domain.HealthStatusDegraded
	case "":
		return domain.HealthStatusUnknown
	default:
		return domain.HealthStatusUnhealthy
	}
}

// Aggregate determines the health of the whole target from its services and
// the result of the primary service's health probe. A failing probe makes the
// target unhealthy whatever the containers report.
func Aggregate(services []domain.HealthStatus, probeOK bool) domain.HealthStatus {
	if len(services) == 0 {
		return domain.HealthStatusUnknown
	}
	if !probeOK {
		return domain.HealthStatusUnhealthy
	}

	unhealthy := 0
	degraded := 0
	for _, s := range services {
		switch s {
		case domain.HealthStatusUnhealthy:
			unhealthy++
		case domain.HealthStatusDegraded, domain.HealthStatusUnknown:
			degraded++
		}
	}

	if unhealthy == len(services) {
		return domain.HealthStatusUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return domain.HealthStatusDegraded
	}
	return domain.HealthStatusHealthy
}
