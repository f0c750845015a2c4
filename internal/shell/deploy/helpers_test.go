package deploy

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/envpatch"
	"github.com/artpar/shipyard/internal/core/topology"
	"github.com/artpar/shipyard/internal/shell/remote"
	"github.com/artpar/shipyard/internal/shell/remote/remotetest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const testBase = "/opt/insurance-rag"

// fixture is a checkout on disk plus a fake target that answers the resolver
// and the health probe successfully.
type fixture struct {
	t       *testing.T
	work    string
	keyPath string
	fake    *remotetest.Transport
	dialer  *remotetest.Dialer

	mu     sync.Mutex
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	work := filepath.Join(dir, "checkout")
	writeFile(t, filepath.Join(work, "app", "main.py"), "app = FastAPI()\n")
	writeFile(t, filepath.Join(work, "app", "services", "retrieval.py"), "x = 1\n")
	writeFile(t, filepath.Join(work, "requirements.txt"), "fastapi\n")
	writeFile(t, filepath.Join(work, "Dockerfile"), "FROM python:3.12-slim\n")

	fake := remotetest.New()
	fake.Reply("echo ok", "ok\n")
	fake.Reply("curl", "200")

	return &fixture{
		t:       t,
		work:    work,
		keyPath: writeKey(t, dir, ""),
		fake:    fake,
		dialer:  &remotetest.Dialer{Transport: fake},
	}
}

func (f *fixture) target() domain.DeployTarget {
	return domain.DeployTarget{
		Host:     "203.0.113.10",
		Port:     22,
		User:     "deploy",
		KeyPath:  f.keyPath,
		BasePath: testBase,
		Project:  "insurance-rag",
	}
}

func (f *fixture) probe() domain.HealthProbe {
	p := domain.DefaultHealthProbe()
	p.Timeout = time.Second
	return p
}

func (f *fixture) rules() []envpatch.Rule {
	rules, err := envpatch.BuildAll(envpatch.DefaultRuleSpecs())
	require.NoError(f.t, err)
	return rules
}

func (f *fixture) pipeline() *Pipeline {
	return &Pipeline{
		Config: Config{
			Target:    f.target(),
			WorkDir:   f.work,
			Artifacts: domain.DefaultArtifactSet(),
			EnvRules:  f.rules(),
			Topology:  topology.Reference(topology.DefaultReferenceOptions()),
			Probe:     f.probe(),
		},
		Dialer: f.dialer,
		Logger: testLogger(),
		Sleep:  f.sleep,
	}
}

func (f *fixture) controller() *Controller {
	return &Controller{
		Transport: f.fake,
		Target:    f.target(),
		Probe:     f.probe(),
		Primary:   "api",
		Logger:    testLogger(),
		Sleep:     f.sleep,
	}
}

func (f *fixture) sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fixture) recordedSleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

// manifestMissing makes the target report that no manifest exists.
func (f *fixture) manifestMissing() {
	f.fake.Fail("test -f", &remote.CommandError{Cmd: "test -f", ExitStatus: 1})
}

// probeSequence makes the remote probe return the given curl outputs in
// order, repeating the last one.
func (f *fixture) probeSequence(outputs ...string) {
	var mu sync.Mutex
	n := 0
	f.fake.On("curl", func(remotetest.Call) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		out := outputs[min(n, len(outputs)-1)]
		n++
		if out == "000" {
			return out, &remote.CommandError{Cmd: "curl", ExitStatus: 7}
		}
		return out, nil
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeKey writes a fresh ed25519 key in OpenSSH format, encrypted when a
// passphrase is given.
func writeKey(t *testing.T, dir, passphrase string) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "deploy")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "deploy", []byte(passphrase))
	}
	require.NoError(t, err)

	path := filepath.Join(dir, "id_ed25519")
	if passphrase != "" {
		path += "_protected"
	}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
