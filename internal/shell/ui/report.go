package ui

import (
	"fmt"
	"strings"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/deploy"
	"github.com/artpar/shipyard/internal/shell/probe"
)

// StatusReport renders the status command output.
func StatusReport(r *deploy.StatusReport) string {
	var sb strings.Builder

	sb.WriteString(Bold("Target") + " " + Accent(r.Target) + "\n\n")

	if len(r.Services) == 0 {
		sb.WriteString(WarnMsg("no containers found for the project") + "\n")
	} else {
		rows := make([][]string, 0, len(r.Services))
		for _, s := range r.Services {
			rows = append(rows, []string{s.Service, serviceState(s), s.Status})
		}
		sb.WriteString(Table([]string{"SERVICE", "STATE", "STATUS"}, rows) + "\n")
	}

	pairs := []Pair{KV("overall", overallLine(r.Overall)), KV("health", probeLine(r.Health))}
	if r.Edge != nil {
		pairs = append(pairs, KV("edge", probeLine(*r.Edge)))
	}
	if r.Disk != nil {
		pairs = append(pairs, KV("disk", r.Disk.String()))
	}
	if r.Memory != nil {
		pairs = append(pairs, KV("memory", r.Memory.String()))
	}
	sb.WriteString("\n" + KeyValues("", pairs...))

	for _, p := range r.Problems {
		sb.WriteString(WarnMsg("%s", p) + "\n")
	}
	return sb.String()
}

// SyncReport renders the per-artifact outcome of an upload.
func SyncReport(r *deploy.SyncReport) string {
	var sb strings.Builder
	for _, a := range r.Uploaded {
		sb.WriteString(SuccessMsg("uploaded %s", a) + "\n")
	}
	for _, a := range r.Skipped {
		sb.WriteString(Muted("- skipped "+a+" (absent)") + "\n")
	}
	if r.Failed != "" {
		sb.WriteString(ErrorMsg("failed %s: %v", r.Failed, r.Cause) + "\n")
	}
	for _, a := range r.NotAttempted {
		sb.WriteString(Muted("- not attempted "+a) + "\n")
	}
	return sb.String()
}

func serviceState(s deploy.ServiceStatus) string {
	state := s.State
	if s.Health != "" {
		state = fmt.Sprintf("%s (%s)", s.State, s.Health)
	}
	switch {
	case s.State == "running" && (s.Health == "" || s.Health == "healthy"):
		return Success(state)
	case s.State == "running":
		return Warn(state)
	default:
		return Error(state)
	}
}

func overallLine(s domain.HealthStatus) string {
	switch s {
	case domain.HealthStatusHealthy:
		return Success(string(s))
	case domain.HealthStatusDegraded, domain.HealthStatusUnknown:
		return Warn(string(s))
	default:
		return Error(string(s))
	}
}

func probeLine(r probe.Result) string {
	if r.OK() {
		return Success(r.String())
	}
	return Error(r.String())
}
