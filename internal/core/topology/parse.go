package topology

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/types"
)

// =============================================================================
// Parsing
// =============================================================================

// Parse converts compose YAML into a Topology so operators can version their
// own manifest instead of the built-in one. Services are sorted by startup
// order, then by name, because compose maps carry no order of their own.
func Parse(projectName, primary, yamlContent string) (*Topology, error) {
	project, err := Load(projectName, []byte(yamlContent))
	if err != nil {
		return nil, err
	}

	if len(project.Secrets) > 0 {
		return nil, NewValidationError("secrets", "secrets are not supported", ErrComposeRejected)
	}
	if len(project.Configs) > 0 {
		return nil, NewValidationError("configs", "configs are not supported", ErrComposeRejected)
	}
	if len(project.Services) == 0 {
		return nil, NewValidationError("services", "at least one service is required", ErrNoServices)
	}

	t := &Topology{
		Name:    projectName,
		Primary: primary,
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := project.Services[name]
		svc.Name = name
		t.Services = append(t.Services, convertService(svc))
	}

	for name := range project.Volumes {
		t.Volumes = append(t.Volumes, name)
	}
	sort.Strings(t.Volumes)

	if err := Validate(t); err != nil {
		return nil, err
	}

	order, _ := StartupOrder(t)
	sorted := make([]Service, 0, len(order))
	for _, name := range order {
		s, _ := t.Service(name)
		sorted = append(sorted, s)
	}
	t.Services = sorted

	return t, nil
}

// convertService converts a compose-go service to our Service type.
func convertService(svc types.ServiceConfig) Service {
	service := Service{
		Name:    svc.Name,
		Image:   svc.Image,
		Command: svc.Command,
		Restart: RestartPolicy(svc.Restart),
	}

	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	for _, p := range svc.Ports {
		spec := fmt.Sprint(p.Target)
		if p.Published != "" {
			spec = p.Published + ":" + spec
			if p.HostIP != "" {
				spec = p.HostIP + ":" + spec
			}
		}
		if p.Protocol != "" && p.Protocol != "tcp" {
			spec += "/" + p.Protocol
		}
		service.Ports = append(service.Ports, spec)
	}

	for _, f := range svc.EnvFiles {
		service.EnvFile = append(service.EnvFile, f.Path)
	}

	if len(svc.Environment) > 0 {
		service.Environment = make(map[string]string, len(svc.Environment))
		for k, v := range svc.Environment {
			if v != nil {
				service.Environment[k] = *v
			}
		}
	}

	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		default:
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	deps := make([]string, 0, len(svc.DependsOn))
	for dep := range svc.DependsOn {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	for _, dep := range deps {
		cond := Condition(svc.DependsOn[dep].Condition)
		if cond == "" {
			cond = ConditionStarted
		}
		service.DependsOn = append(service.DependsOn, Dependency{Service: dep, Condition: cond})
	}

	if hc := svc.HealthCheck; hc != nil && !hc.Disable {
		service.HealthCheck = &HealthCheck{Test: hc.Test}
		if hc.Retries != nil {
			service.HealthCheck.Retries = int(*hc.Retries)
		}
		if hc.Interval != nil {
			service.HealthCheck.Interval = time.Duration(*hc.Interval)
		}
		if hc.Timeout != nil {
			service.HealthCheck.Timeout = time.Duration(*hc.Timeout)
		}
		if hc.StartPeriod != nil {
			service.HealthCheck.StartPeriod = time.Duration(*hc.StartPeriod)
		}
	}

	return service
}
