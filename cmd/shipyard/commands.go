package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/artpar/shipyard/internal/core/lifecycle"
	"github.com/artpar/shipyard/internal/core/topology"
	"github.com/artpar/shipyard/internal/shell/deploy"
	"github.com/artpar/shipyard/internal/shell/probe"
	"github.com/artpar/shipyard/internal/shell/remote"
	"github.com/artpar/shipyard/internal/shell/ui"
	"github.com/spf13/cobra"
)

// app carries the state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	dotenvPath string
	debug      bool

	cfg    *Config
	logger *slog.Logger

	// newDialer is replaced in tests.
	newDialer func(cfg *Config, logger *slog.Logger) remote.Dialer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		newDialer: func(cfg *Config, logger *slog.Logger) remote.Dialer {
			return remote.SSHDialer{Config: cfg.RemoteSSHConfig(), Logger: logger}
		},
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shipyard",
		Short:         "Deploy the application to a single remote host over SSH",
		Long:          "Uploads the checkout, reconciles the remote env file, writes the compose manifest and\nrestarts the stack until its health endpoint answers. Runs deploy when no command is given.",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Args:          usageArgs(cobra.NoArgs),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		RunE: a.runDeploy,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&a.dotenvPath, "dotenv", DefaultDotenvFile, "Env file loaded before the config")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(
		&cobra.Command{
			Use:   "deploy",
			Short: "Upload, reconcile, write the manifest and rebuild",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  a.runDeploy,
		},
		&cobra.Command{
			Use:   "code-only",
			Short: "Upload the artifacts without restarting anything",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  a.runCodeOnly,
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Reconcile the env file and restart without rebuilding",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  a.runRestart,
		},
		&cobra.Command{
			Use:   "rebuild",
			Short: "Reconcile the env file and restart with a forced image rebuild",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  a.runRebuild,
		},
		a.logsCmd(),
		&cobra.Command{
			Use:   "status",
			Short: "Show containers, health, disk and memory of the target",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  a.runStatus,
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Call the test-data endpoint once",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  a.runSeed,
		},
		&cobra.Command{
			Use:   "render",
			Short: "Print the compose manifest without contacting the target",
			Args:  usageArgs(cobra.NoArgs),
			RunE:  a.runRender,
		},
	)
	return root
}

func (a *app) logsCmd() *cobra.Command {
	var noFollow bool
	cmd := &cobra.Command{
		Use:   "logs [service]",
		Short: "Stream container logs, the primary service by default",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var service string
			if len(args) == 1 {
				service = args[0]
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			for line, err := range p.Logs(cmd.Context(), service, !noFollow) {
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "Print the recent lines and exit")
	return cmd
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// =============================================================================
// Wiring
// =============================================================================

func (a *app) load() error {
	if err := LoadDotenv(a.dotenvPath); err != nil {
		return err
	}
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	a.logger.Debug("configuration loaded", "config", a.configPath, "target", cfg.Target.String())
	return nil
}

func (a *app) pipeline() (*deploy.Pipeline, error) {
	dc, err := a.cfg.DeployConfig()
	if err != nil {
		return nil, err
	}
	return &deploy.Pipeline{
		Config:     dc,
		Dialer:     a.newDialer(a.cfg, a.logger),
		Logger:     a.logger,
		EdgeProber: probe.HTTP{Client: &http.Client{Timeout: a.cfg.Edge.Timeout}},
	}, nil
}

// =============================================================================
// Commands
// =============================================================================

func (a *app) runDeploy(cmd *cobra.Command, _ []string) error {
	return a.runOutcome(cmd, "deploy", (*deploy.Pipeline).Deploy)
}

func (a *app) runCodeOnly(cmd *cobra.Command, _ []string) error {
	return a.runOutcome(cmd, "code-only", (*deploy.Pipeline).CodeOnly)
}

func (a *app) runRestart(cmd *cobra.Command, _ []string) error {
	return a.runOutcome(cmd, "restart", (*deploy.Pipeline).Restart)
}

func (a *app) runRebuild(cmd *cobra.Command, _ []string) error {
	return a.runOutcome(cmd, "rebuild", (*deploy.Pipeline).Rebuild)
}

func (a *app) runOutcome(cmd *cobra.Command, name string, fn func(*deploy.Pipeline, context.Context) (*deploy.Outcome, error)) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, ui.InfoMsg("%s to %s", name, ui.Accent(p.Config.Target.String())))

	out, err := fn(p, cmd.Context())
	if out != nil {
		a.printOutcome(out, p.Config.Topology)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, ui.SuccessMsg("%s complete", name))
	return nil
}

func (a *app) printOutcome(out *deploy.Outcome, topo *topology.Topology) {
	if out.Sync != nil {
		fmt.Fprint(a.stdout, ui.SyncReport(out.Sync))
	}
	for _, c := range out.Changes {
		fmt.Fprintln(a.stdout, ui.InfoMsg("env %s", c.String()))
	}
	if out.Start != nil && out.Start.State == lifecycle.StateHealthy {
		fmt.Fprintln(a.stdout, ui.SuccessMsg("%s healthy after %d attempt(s)", topo.Primary, len(out.Start.Attempts)))
	}
}

func (a *app) runStatus(cmd *cobra.Command, _ []string) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	report, err := p.Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprint(a.stdout, ui.StatusReport(report))
	return nil
}

func (a *app) runSeed(cmd *cobra.Command, _ []string) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	res, err := p.Seed(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, ui.SuccessMsg("test data created (%s)", res.String()))
	return nil
}

func (a *app) runRender(_ *cobra.Command, _ []string) error {
	topo, err := a.cfg.BuildTopology()
	if err != nil {
		return err
	}
	data, err := topology.Render(topo)
	if err != nil {
		return &ConfigError{Field: "topology", Err: err}
	}
	_, err = a.stdout.Write(data)
	return err
}
