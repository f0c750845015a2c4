package main

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/envpatch"
	"github.com/artpar/shipyard/internal/shell/deploy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.Target.Port)
	assert.Equal(t, "/opt/insurance-rag", cfg.Target.BasePath)
	assert.Equal(t, "insurance-rag", cfg.Target.Project)
	assert.Empty(t, cfg.Target.Host)
	assert.True(t, strings.HasSuffix(cfg.Target.KnownHostsPath, filepath.Join(".ssh", "known_hosts")))
	assert.False(t, strings.HasPrefix(cfg.Target.KnownHostsPath, "~"))

	assert.Equal(t, ".", cfg.Checkout.Dir)
	assert.Equal(t, deploy.DefaultLayoutMarkers, cfg.Checkout.Markers)
	assert.Equal(t, domain.DefaultArtifactSet(), cfg.Checkout.Artifacts)

	assert.Equal(t, ".env", cfg.Env.File)
	assert.Equal(t, envpatch.DefaultRuleSpecs(), cfg.Env.Rules)

	assert.Equal(t, domain.DefaultHealthProbe(), cfg.Probe)
	assert.Equal(t, deploy.DefaultSeedURL, cfg.Seed.URL)
	assert.Equal(t, 30*time.Second, cfg.Seed.Timeout)
	assert.Equal(t, 10*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, 20*time.Minute, cfg.SSH.CommandTimeout)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, deploy.DefaultLogTail, cfg.Log.Tail)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
target:
  host: "203.0.113.10"
  port: 2222
  user: deploy
  key_path: /keys/deploy
  known_hosts_path: /keys/known_hosts
  base_path: /srv/rag

checkout:
  dir: /work/rag
  artifacts:
    - local: app
      remote: app
      required: true
    - local: docs
      remote: static/docs

env:
  rules:
    - kind: set
      key: ENVIRONMENT
      value: production
    - kind: rename
      key: OPENAI_KEY
      to: OPENAI_API_KEY

probe:
  max_attempts: 3
  delay: 2s
  initial_delay: 0s

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "shipyard.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.10", cfg.Target.Host)
	assert.Equal(t, 2222, cfg.Target.Port)
	assert.Equal(t, "deploy", cfg.Target.User)
	assert.Equal(t, "/keys/known_hosts", cfg.Target.KnownHostsPath)
	assert.Equal(t, "/srv/rag", cfg.Target.BasePath)

	assert.Equal(t, "/work/rag", cfg.Checkout.Dir)
	assert.Equal(t, domain.ArtifactSet{
		{LocalPath: "app", RemotePath: "app", Required: true},
		{LocalPath: "docs", RemotePath: "static/docs"},
	}, cfg.Checkout.Artifacts)

	assert.Equal(t, []envpatch.RuleSpec{
		{Kind: envpatch.KindSet, Key: "ENVIRONMENT", Value: "production"},
		{Kind: envpatch.KindRename, Key: "OPENAI_KEY", To: "OPENAI_API_KEY"},
	}, cfg.Env.Rules)

	assert.Equal(t, 3, cfg.Probe.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Probe.Delay)
	assert.Equal(t, time.Duration(0), cfg.Probe.InitialDelay)
	assert.Equal(t, "http://localhost:8000/health", cfg.Probe.URL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("SHIPYARD_TARGET_HOST", "rag.example.com")
	t.Setenv("SHIPYARD_TARGET_PORT", "2200")
	t.Setenv("SHIPYARD_TARGET_USER", "ops")
	t.Setenv("SHIPYARD_PROBE_MAX_ATTEMPTS", "8")
	t.Setenv("SHIPYARD_PROBE_DELAY", "1s")
	t.Setenv("SHIPYARD_EDGE_URL", "https://rag.example.com/health")
	t.Setenv("SHIPYARD_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "rag.example.com", cfg.Target.Host)
	assert.Equal(t, 2200, cfg.Target.Port)
	assert.Equal(t, "ops", cfg.Target.User)
	assert.Equal(t, 8, cfg.Probe.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Probe.Delay)
	assert.Equal(t, "https://rag.example.com/health", cfg.Edge.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_EmptyRulesDisableReconcile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "shipyard.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("env:\n  rules: []\n"), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	assert.Empty(t, cfg.Env.Rules)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHIPYARD_TARGET_HOST", "203.0.113.10")

	cfg, err := LoadConfig("/nonexistent/path/shipyard.yaml")

	assert.Nil(t, cfg)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "config", ce.Field)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, ExitConfigError, exitCode(err))
}

func TestLoadConfig_NoPathUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.Target.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)

	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, ExitConfigError, exitCode(err))
}

// =============================================================================
// Dotenv Tests
// =============================================================================

func TestLoadDotenv(t *testing.T) {
	t.Run("missing file is fine", func(t *testing.T) {
		assert.NoError(t, LoadDotenv(filepath.Join(t.TempDir(), ".env.deploy")))
	})

	t.Run("loads values without overriding", func(t *testing.T) {
		clearEnv(t)
		unsetForTest(t, "SHIPYARD_TARGET_HOST")
		t.Setenv("SHIPYARD_TARGET_USER", "from-shell")

		path := filepath.Join(t.TempDir(), ".env.deploy")
		content := "SHIPYARD_TARGET_HOST=203.0.113.7\nSHIPYARD_TARGET_USER=from-file\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		require.NoError(t, LoadDotenv(path))
		cfg, err := LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, "203.0.113.7", cfg.Target.Host)
		assert.Equal(t, "from-shell", cfg.Target.User)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env.deploy")
		require.NoError(t, os.WriteFile(path, []byte("NOT A PAIR\n"), 0600))

		var ce *ConfigError
		assert.ErrorAs(t, LoadDotenv(path), &ce)
	})
}

// =============================================================================
// Deploy Wiring Tests
// =============================================================================

func TestConfig_DeployConfig(t *testing.T) {
	clearEnv(t)
	cfg := validConfig(t)

	dc, err := cfg.DeployConfig()
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.10", dc.Target.Host)
	assert.Len(t, dc.EnvRules, 3)
	assert.Equal(t, "insurance-rag", dc.Topology.Name)
	assert.Equal(t, "api", dc.Topology.Primary)
	assert.Equal(t, deploy.DefaultLogTail, dc.LogTail)
}

func TestConfig_DeployConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{
			name:   "missing host",
			modify: func(c *Config) { c.Target.Host = "" },
			field:  "target",
		},
		{
			name:   "relative base path",
			modify: func(c *Config) { c.Target.BasePath = "opt/rag" },
			field:  "target",
		},
		{
			name:   "artifact escapes base path",
			modify: func(c *Config) { c.Checkout.Artifacts = domain.ArtifactSet{{LocalPath: "app", RemotePath: "../etc"}} },
			field:  "checkout.artifacts",
		},
		{
			name:   "zero probe attempts",
			modify: func(c *Config) { c.Probe.MaxAttempts = 0 },
			field:  "probe",
		},
		{
			name:   "unknown rule kind",
			modify: func(c *Config) { c.Env.Rules = []envpatch.RuleSpec{{Kind: "drop", Key: "A"}} },
			field:  "env.rules",
		},
		{
			name: "multi-line rule value",
			modify: func(c *Config) {
				c.Env.Rules = []envpatch.RuleSpec{{Kind: envpatch.KindSet, Key: "A", Value: "1\nB=2"}}
			},
			field: "env.rules",
		},
		{
			name:   "missing topology file",
			modify: func(c *Config) { c.Topology.File = "/nonexistent/compose.yml" },
			field:  "topology.file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := validConfig(t)
			tt.modify(cfg)

			_, err := cfg.DeployConfig()

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestConfig_BuildTopology_FromFile(t *testing.T) {
	clearEnv(t)

	manifest := `
services:
  web:
    image: nginx:alpine
    restart: always
    depends_on:
      - cache
  cache:
    image: redis:7-alpine
`
	path := filepath.Join(t.TempDir(), "compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0644))

	cfg := validConfig(t)
	cfg.Topology.File = path
	cfg.Topology.Primary = "web"

	topo, err := cfg.BuildTopology()
	require.NoError(t, err)

	assert.Equal(t, "insurance-rag", topo.Name)
	assert.Equal(t, "web", topo.Primary)
	assert.Equal(t, []string{"cache", "web"}, topo.ServiceNames())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&Config{Log: LogConfig{Level: "info", Format: "json"}}, &buf)

	logger.Info("hello", "stage", "sync")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "sync", entry["stage"])
	assert.NotEmpty(t, entry["run_id"])
}

func TestSetupLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&Config{Log: LogConfig{Level: "info", Format: "text"}}, &buf)

	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "run_id=")
}

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{level: "debug", wantDebug: true, wantInfo: true, wantWarn: true},
		{level: "info", wantInfo: true, wantWarn: true},
		{level: "warn", wantWarn: true},
		{level: "error"},
		{level: "invalid", wantInfo: true, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := SetupLogger(&Config{Log: LogConfig{Level: tt.level, Format: "text"}}, &buf)

			logger.Debug("d-line")
			logger.Info("i-line")
			logger.Warn("w-line")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "d-line"))
			assert.Equal(t, tt.wantInfo, strings.Contains(out, "i-line"))
			assert.Equal(t, tt.wantWarn, strings.Contains(out, "w-line"))
		})
	}
}

func TestSetupLogger_FreshRunIDs(t *testing.T) {
	var a, b bytes.Buffer
	SetupLogger(&Config{}, &a).Info("x")
	SetupLogger(&Config{}, &b).Info("x")

	var ea, eb map[string]any
	require.NoError(t, json.Unmarshal(a.Bytes(), &ea))
	require.NoError(t, json.Unmarshal(b.Bytes(), &eb))
	assert.NotEqual(t, ea["run_id"], eb["run_id"])
}

// =============================================================================
// Test Helpers
// =============================================================================

// clearEnv blanks every variable the tests set. Viper ignores empty values.
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"SHIPYARD_TARGET_HOST",
		"SHIPYARD_TARGET_PORT",
		"SHIPYARD_TARGET_USER",
		"SHIPYARD_TARGET_KEY_PATH",
		"SHIPYARD_TARGET_KNOWN_HOSTS_PATH",
		"SHIPYARD_TARGET_BASE_PATH",
		"SHIPYARD_CHECKOUT_DIR",
		"SHIPYARD_PROBE_MAX_ATTEMPTS",
		"SHIPYARD_PROBE_DELAY",
		"SHIPYARD_PROBE_INITIAL_DELAY",
		"SHIPYARD_EDGE_URL",
		"SHIPYARD_SEED_URL",
		"SHIPYARD_LOG_LEVEL",
		"SHIPYARD_LOG_FORMAT",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

// unsetForTest removes a variable for the duration of the test so that
// loaders which respect existing values treat it as absent.
func unsetForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Target.Host = "203.0.113.10"
	cfg.Target.User = "deploy"
	cfg.Target.KeyPath = "/keys/deploy"
	return cfg
}
