package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/envpatch"
	"github.com/artpar/shipyard/internal/core/topology"
	"github.com/artpar/shipyard/internal/shell/deploy"
	"github.com/artpar/shipyard/internal/shell/remote"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultDotenvFile is loaded into the process environment before the config
// is read, when it exists.
const DefaultDotenvFile = ".env.deploy"

// =============================================================================
// Config Types
// =============================================================================

// Config holds all CLI configuration.
type Config struct {
	Target   domain.DeployTarget `mapstructure:"target"`
	Checkout CheckoutConfig      `mapstructure:"checkout"`
	Env      EnvConfig           `mapstructure:"env"`
	Topology TopologyConfig      `mapstructure:"topology"`
	Probe    domain.HealthProbe  `mapstructure:"probe"`
	Edge     EdgeConfig          `mapstructure:"edge"`
	Seed     SeedConfig          `mapstructure:"seed"`
	SSH      SSHConfig           `mapstructure:"ssh"`
	Log      LogConfig           `mapstructure:"log"`
}

// CheckoutConfig describes the local application checkout.
type CheckoutConfig struct {
	Dir       string             `mapstructure:"dir"`
	Markers   []string           `mapstructure:"markers"`
	Artifacts domain.ArtifactSet `mapstructure:"artifacts"`
}

// EnvConfig holds the remote env file and the rules applied to it.
type EnvConfig struct {
	File  string              `mapstructure:"file"`
	Rules []envpatch.RuleSpec `mapstructure:"rules"`
}

// TopologyConfig selects the manifest to deploy. When File is set the
// compose file is parsed and deployed as-is; otherwise the built-in topology
// is rendered from the remaining fields.
type TopologyConfig struct {
	File       string `mapstructure:"file"`
	Primary    string `mapstructure:"primary"`
	Dockerfile string `mapstructure:"dockerfile"`
	APIPort    int    `mapstructure:"api_port"`
	Database   string `mapstructure:"database"`
}

// EdgeConfig holds the public URL checked by status.
type EdgeConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SeedConfig holds the test-data endpoint.
type SeedConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SSHConfig holds transport timeouts.
type SSHConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Excludes       []string      `mapstructure:"excludes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Tail   int    `mapstructure:"tail"` // container log lines kept on failure
}

// ConfigError is returned for configuration that cannot be used.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return "config " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadDotenv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &ConfigError{Field: "dotenv", Err: err}
	}
	return nil
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	ref := topology.DefaultReferenceOptions()
	probe := domain.DefaultHealthProbe()
	ssh := remote.DefaultSSHConfig()

	// Target. Host, user and key have no sensible default.
	v.SetDefault("target.host", "")
	v.SetDefault("target.port", 22)
	v.SetDefault("target.user", "")
	v.SetDefault("target.key_path", "")
	v.SetDefault("target.known_hosts_path", "~/.ssh/known_hosts")
	v.SetDefault("target.base_path", "/opt/"+ref.Project)
	v.SetDefault("target.project", ref.Project)

	v.SetDefault("checkout.dir", ".")
	v.SetDefault("checkout.markers", deploy.DefaultLayoutMarkers)

	v.SetDefault("env.file", deploy.DefaultEnvFile)

	v.SetDefault("topology.file", "")
	v.SetDefault("topology.primary", "api")
	v.SetDefault("topology.dockerfile", ref.Dockerfile)
	v.SetDefault("topology.api_port", ref.APIPort)
	v.SetDefault("topology.database", ref.Database)

	v.SetDefault("probe.url", probe.URL)
	v.SetDefault("probe.timeout", probe.Timeout.String())
	v.SetDefault("probe.max_attempts", probe.MaxAttempts)
	v.SetDefault("probe.delay", probe.Delay.String())
	v.SetDefault("probe.initial_delay", probe.InitialDelay.String())
	v.SetDefault("probe.min_status", probe.MinStatus)
	v.SetDefault("probe.max_status", probe.MaxStatus)

	v.SetDefault("edge.url", "")
	v.SetDefault("edge.timeout", "10s")
	v.SetDefault("seed.url", deploy.DefaultSeedURL)
	v.SetDefault("seed.timeout", "30s")

	v.SetDefault("ssh.connect_timeout", ssh.ConnectTimeout.String())
	v.SetDefault("ssh.command_timeout", ssh.CommandTimeout.String())
	v.SetDefault("ssh.excludes", ssh.Excludes)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.tail", deploy.DefaultLogTail)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if _, err := os.Stat(configPath); err != nil {
			return nil, &ConfigError{Field: "config", Err: fmt.Errorf("config file %s: %w", configPath, err)}
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("failed to parse config file: %w", err)}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("SHIPYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}

	// Lists of structs cannot come from defaults, so an unset key means the
	// built-in set. An explicitly empty rule list disables reconciliation.
	if !v.IsSet("checkout.artifacts") {
		cfg.Checkout.Artifacts = domain.DefaultArtifactSet()
	}
	if !v.IsSet("env.rules") {
		cfg.Env.Rules = envpatch.DefaultRuleSpecs()
	}

	known, err := expandHome(cfg.Target.KnownHostsPath)
	if err != nil {
		return nil, &ConfigError{Field: "target.known_hosts_path", Err: err}
	}
	cfg.Target.KnownHostsPath = known

	return &cfg, nil
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[2:]), nil
}

// =============================================================================
// Deploy Wiring
// =============================================================================

// BuildTopology returns the topology to deploy.
func (c *Config) BuildTopology() (*topology.Topology, error) {
	name := domain.ProjectName(c.Target.Project)

	if c.Topology.File != "" {
		content, err := os.ReadFile(c.Topology.File)
		if err != nil {
			return nil, &ConfigError{Field: "topology.file", Err: err}
		}
		topo, err := topology.Parse(name, c.Topology.Primary, string(content))
		if err != nil {
			return nil, &ConfigError{Field: "topology.file", Err: err}
		}
		return topo, nil
	}

	topo := topology.Reference(topology.ReferenceOptions{
		Project:    name,
		Dockerfile: c.Topology.Dockerfile,
		APIPort:    c.Topology.APIPort,
		Database:   c.Topology.Database,
	})
	if err := topology.Validate(topo); err != nil {
		return nil, &ConfigError{Field: "topology", Err: err}
	}
	return topo, nil
}

// DeployConfig validates the configuration and converts it into the form the
// deploy pipeline runs on.
func (c *Config) DeployConfig() (deploy.Config, error) {
	if err := c.Target.Validate(); err != nil {
		return deploy.Config{}, &ConfigError{Field: "target", Err: err}
	}
	if err := c.Checkout.Artifacts.Validate(); err != nil {
		return deploy.Config{}, &ConfigError{Field: "checkout.artifacts", Err: err}
	}
	if err := c.Probe.Validate(); err != nil {
		return deploy.Config{}, &ConfigError{Field: "probe", Err: err}
	}
	rules, err := envpatch.BuildAll(c.Env.Rules)
	if err != nil {
		return deploy.Config{}, &ConfigError{Field: "env.rules", Err: err}
	}
	topo, err := c.BuildTopology()
	if err != nil {
		return deploy.Config{}, err
	}

	return deploy.Config{
		Target:      c.Target,
		WorkDir:     c.Checkout.Dir,
		Markers:     c.Checkout.Markers,
		Artifacts:   c.Checkout.Artifacts,
		EnvFile:     c.Env.File,
		EnvRules:    rules,
		Topology:    topo,
		Probe:       c.Probe,
		EdgeURL:     c.Edge.URL,
		SeedURL:     c.Seed.URL,
		SeedTimeout: c.Seed.Timeout,
		LogTail:     c.Log.Tail,
	}, nil
}

// RemoteSSHConfig returns the transport settings.
func (c *Config) RemoteSSHConfig() remote.SSHConfig {
	return remote.SSHConfig{
		ConnectTimeout: c.SSH.ConnectTimeout,
		CommandTimeout: c.SSH.CommandTimeout,
		Excludes:       c.SSH.Excludes,
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format, tagged
// with a fresh run id.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("run_id", uuid.NewString())
}
