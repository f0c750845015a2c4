package deploy

import (
	"context"
	"fmt"
	"strconv"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/remote"
)

// compose builds docker compose command lines for the target's project.
type compose struct {
	target domain.DeployTarget
}

// command returns "cd <base> && docker compose -p <project> -f <manifest> args...".
func (c compose) command(args ...string) string {
	argv := append([]string{"docker", "compose", "-p", domain.ProjectName(c.target.Project), "-f", ManifestName}, args...)
	return fmt.Sprintf("cd %s && %s", remote.Quote(c.target.BasePath), remote.Join(argv...))
}

func (c compose) down() string {
	return c.command("down", "--remove-orphans")
}

func (c compose) up(rebuild bool) string {
	if rebuild {
		return c.command("up", "-d", "--build")
	}
	return c.command("up", "-d")
}

func (c compose) ps() string {
	return c.command("ps", "--all", "--format", "json")
}

func (c compose) logs(service string, tail int, follow bool) string {
	args := []string{"logs", "--no-color", "--tail", strconv.Itoa(tail)}
	if follow {
		args = append(args, "--follow")
	}
	if service != "" {
		args = append(args, service)
	}
	return c.command(args...)
}

// manifestExists reports whether the manifest is present on the target.
func manifestExists(ctx context.Context, t remote.Transport, target domain.DeployTarget) (bool, error) {
	_, err := t.Run(ctx, remote.Join("test", "-f", target.RemotePath(ManifestName)))
	if err == nil {
		return true, nil
	}
	if remote.ExitStatus(err) == 1 {
		return false, nil
	}
	return false, err
}
