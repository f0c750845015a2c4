package topology

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Validation
// =============================================================================

// Validate checks the structural invariants of a topology:
//   - every service has a unique name and an image or build source
//   - depends_on only references services of the same topology
//   - a service_healthy dependency targets a service with a health check
//   - there are no dependency cycles
//   - ports parse as compose port specs
//   - named volumes used by services are declared
//
// It returns the first violation found.
func Validate(t *Topology) error {
	if strings.TrimSpace(t.Name) == "" {
		return NewValidationError("name", "topology name is required", ErrNameRequired)
	}
	if len(t.Services) == 0 {
		return NewValidationError("services", "at least one service is required", ErrNoServices)
	}

	byName := make(map[string]Service, len(t.Services))
	for _, svc := range t.Services {
		if svc.Name == "" {
			return NewValidationError("services", "service name is required", ErrServiceNoName)
		}
		if _, dup := byName[svc.Name]; dup {
			return NewValidationError("services."+svc.Name, "service is declared twice", ErrDuplicate)
		}
		byName[svc.Name] = svc
	}

	if t.Primary != "" {
		if _, ok := byName[t.Primary]; !ok {
			return NewValidationError("primary", fmt.Sprintf("service %q not found", t.Primary), ErrPrimaryUnknown)
		}
	}

	declared := make(map[string]bool, len(t.Volumes))
	for _, v := range t.Volumes {
		declared[v] = true
	}

	for _, svc := range t.Services {
		if err := validateService(svc, byName, declared); err != nil {
			return err
		}
	}

	if _, err := StartupOrder(t); err != nil {
		return err
	}

	return nil
}

func validateService(svc Service, byName map[string]Service, declared map[string]bool) error {
	field := "services." + svc.Name

	if svc.Image == "" && svc.Build == nil {
		return NewValidationError(field, "service must have image or build", ErrServiceNoImage)
	}

	if !svc.Restart.IsValid() {
		return NewValidationError(field+".restart", fmt.Sprintf("unknown policy %q", svc.Restart), ErrInvalidRestart)
	}

	for i, p := range svc.Ports {
		if _, err := nat.ParsePortSpec(p); err != nil {
			return NewValidationError(fmt.Sprintf("%s.ports[%d]", field, i), err.Error(), ErrServiceInvalidPort)
		}
	}

	for i, v := range svc.Volumes {
		vf := fmt.Sprintf("%s.volumes[%d]", field, i)
		if v.Source == "" || v.Target == "" {
			return NewValidationError(vf, "source and target are required", ErrServiceInvalidVolume)
		}
		if !strings.HasPrefix(v.Target, "/") {
			return NewValidationError(vf, "target must be an absolute container path", ErrServiceInvalidVolume)
		}
		if v.Type == VolumeMountTypeVolume && !declared[v.Source] {
			return NewValidationError(vf, fmt.Sprintf("volume %q is not declared", v.Source), ErrUndeclaredVolume)
		}
	}

	if svc.HealthCheck != nil && len(svc.HealthCheck.Test) == 0 {
		return NewValidationError(field+".healthcheck", "test is required", ErrHealthCheckNoTest)
	}

	for i, dep := range svc.DependsOn {
		df := fmt.Sprintf("%s.depends_on[%d]", field, i)
		target, ok := byName[dep.Service]
		if !ok {
			return NewValidationError(df, fmt.Sprintf("service %q not found", dep.Service), ErrUnknownDependency)
		}
		switch dep.Condition {
		case ConditionHealthy:
			if target.HealthCheck == nil {
				return NewValidationError(df, fmt.Sprintf("service %q has no health check", dep.Service), ErrDependencyNoHealth)
			}
		case ConditionStarted:
		default:
			return NewValidationError(df, fmt.Sprintf("unknown condition %q", dep.Condition), ErrInvalidCondition)
		}
	}

	return nil
}
