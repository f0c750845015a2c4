package topology

import (
	"strconv"
	"time"
)

// ReferenceOptions parameterises the built-in topology.
type ReferenceOptions struct {
	Project    string
	Dockerfile string // build descriptor inside the uploaded tree
	APIPort    int
	Database   string
}

// DefaultReferenceOptions returns the options matching the application layout.
func DefaultReferenceOptions() ReferenceOptions {
	return ReferenceOptions{
		Project:    "insurance-rag",
		Dockerfile: "Dockerfile",
		APIPort:    8000,
		Database:   "insurance_rag",
	}
}

// Reference returns the four-service topology the application runs on: a
// Postgres database, a Redis cache, the API built from the uploaded source and
// a watchtower container that keeps the pulled images current. All services
// restart always; the API waits for database and cache to report healthy.
func Reference(opts ReferenceOptions) *Topology {
	if opts.Dockerfile == "" {
		opts.Dockerfile = "Dockerfile"
	}
	if opts.APIPort == 0 {
		opts.APIPort = 8000
	}
	if opts.Database == "" {
		opts.Database = "insurance_rag"
	}

	password := "${POSTGRES_PASSWORD:-postgres}"
	apiPort := strconv.Itoa(opts.APIPort)

	return &Topology{
		Name:    opts.Project,
		Primary: "api",
		Volumes: []string{"pgdata", "redisdata", "uploads"},
		Services: []Service{
			{
				Name:    "db",
				Image:   "postgres:16-alpine",
				Restart: RestartAlways,
				Environment: map[string]string{
					"POSTGRES_USER":     "postgres",
					"POSTGRES_PASSWORD": password,
					"POSTGRES_DB":       opts.Database,
				},
				Volumes: []VolumeMount{
					{Type: VolumeMountTypeVolume, Source: "pgdata", Target: "/var/lib/postgresql/data"},
				},
				HealthCheck: &HealthCheck{
					Test:     []string{"CMD-SHELL", "pg_isready -U postgres -d " + opts.Database},
					Interval: 5 * time.Second,
					Timeout:  5 * time.Second,
					Retries:  10,
				},
			},
			{
				Name:    "redis",
				Image:   "redis:7-alpine",
				Command: []string{"redis-server", "--appendonly", "yes"},
				Restart: RestartAlways,
				Volumes: []VolumeMount{
					{Type: VolumeMountTypeVolume, Source: "redisdata", Target: "/data"},
				},
				HealthCheck: &HealthCheck{
					Test:     []string{"CMD", "redis-cli", "ping"},
					Interval: 5 * time.Second,
					Timeout:  3 * time.Second,
					Retries:  10,
				},
			},
			{
				Name:    "api",
				Build:   &BuildConfig{Context: ".", Dockerfile: opts.Dockerfile},
				Restart: RestartAlways,
				Ports:   []string{apiPort + ":" + apiPort},
				EnvFile: []string{".env"},
				Environment: map[string]string{
					"DATABASE_URL":      "postgresql+asyncpg://postgres:" + password + "@db:5432/" + opts.Database,
					"DATABASE_URL_SYNC": "postgresql+psycopg://postgres:" + password + "@db:5432/" + opts.Database,
					"REDIS_URL":         "redis://redis:6379/0",
				},
				Volumes: []VolumeMount{
					{Type: VolumeMountTypeVolume, Source: "uploads", Target: "/app/uploads"},
				},
				HealthCheck: &HealthCheck{
					Test:        []string{"CMD", "curl", "-f", "http://localhost:" + apiPort + "/health"},
					Interval:    10 * time.Second,
					Timeout:     5 * time.Second,
					Retries:     5,
					StartPeriod: 20 * time.Second,
				},
				DependsOn: []Dependency{
					{Service: "db", Condition: ConditionHealthy},
					{Service: "redis", Condition: ConditionHealthy},
				},
			},
			{
				Name:    "watchtower",
				Image:   "containrrr/watchtower:latest",
				Command: []string{"--interval", "300", "--cleanup"},
				Restart: RestartAlways,
				Volumes: []VolumeMount{
					{Type: VolumeMountTypeBind, Source: "/var/run/docker.sock", Target: "/var/run/docker.sock"},
				},
			},
		},
	}
}
