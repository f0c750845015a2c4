package topology

import "time"

// =============================================================================
// Topology - Main Type
// =============================================================================

// Topology is the declarative description of every service that runs on the
// target. It is versioned with the orchestrator and pushed wholesale.
type Topology struct {
	Name     string    `json:"name"`
	Primary  string    `json:"primary"` // service whose logs explain a failed start
	Services []Service `json:"services"`
	Volumes  []string  `json:"volumes,omitempty"`
}

// Service looks up a service by name.
func (t *Topology) Service(name string) (Service, bool) {
	for _, s := range t.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// ServiceNames returns service names in declaration order.
func (t *Topology) ServiceNames() []string {
	names := make([]string, 0, len(t.Services))
	for _, s := range t.Services {
		names = append(names, s.Name)
	}
	return names
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	Build       *BuildConfig      `json:"build,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Restart     RestartPolicy     `json:"restart,omitempty"`
	Ports       []string          `json:"ports,omitempty"` // compose short syntax, e.g. "8000:8000"
	Volumes     []VolumeMount     `json:"volumes,omitempty"`
	EnvFile     []string          `json:"env_file,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty"`
	DependsOn   []Dependency      `json:"depends_on,omitempty"`
}

// BuildConfig represents build configuration.
type BuildConfig struct {
	Context    string `json:"context"`
	Dockerfile string `json:"dockerfile,omitempty"`
}

// VolumeMount represents a volume mount in a service.
type VolumeMount struct {
	Type     VolumeMountType `json:"type"`   // bind or volume
	Source   string          `json:"source"` // host path or volume name
	Target   string          `json:"target"` // container path
	ReadOnly bool            `json:"readonly"`
}

// VolumeMountType represents the type of volume mount.
type VolumeMountType string

const (
	VolumeMountTypeBind   VolumeMountType = "bind"
	VolumeMountTypeVolume VolumeMountType = "volume"
)

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// IsValid reports whether compose accepts the policy. Empty means unset.
func (r RestartPolicy) IsValid() bool {
	switch r {
	case "", RestartNo, RestartAlways, RestartOnFailure, RestartUnlessStopped:
		return true
	default:
		return false
	}
}

// HealthCheck represents a container health check.
type HealthCheck struct {
	Test        []string      `json:"test"`
	Interval    time.Duration `json:"interval,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Retries     int           `json:"retries,omitempty"`
	StartPeriod time.Duration `json:"start_period,omitempty"`
}

// =============================================================================
// Dependencies
// =============================================================================

// Condition is the startup condition of a dependency.
type Condition string

const (
	ConditionStarted Condition = "service_started"
	ConditionHealthy Condition = "service_healthy"
)

// Dependency declares that a service waits for another one.
type Dependency struct {
	Service   string    `json:"service"`
	Condition Condition `json:"condition"`
}
