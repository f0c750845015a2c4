package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/shipyard/internal/shell/deploy"
	"github.com/artpar/shipyard/internal/shell/ui"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess           = 0
	ExitConfigError       = 1
	ExitPreconditionError = 2
	ExitTransferError     = 3
	ExitReconcileError    = 4
	ExitManifestError     = 5
	ExitStartupError      = 6
	ExitRemoteError       = 7
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newApp(stdout, stderr).rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if cmd, err := root.ExecuteContextC(ctx); err != nil {
		fmt.Fprintln(stderr, ui.ErrorMsg("%v", err))

		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprint(stderr, cmd.UsageString())
		}

		var pe *deploy.PreconditionError
		if errors.As(err, &pe) && pe.Hint != "" {
			fmt.Fprintln(stderr, "  "+ui.Muted(pe.Hint))
		}
		var se *deploy.StartupError
		if errors.As(err, &se) && se.Logs != "" {
			fmt.Fprintln(stderr, ui.Bold("last log lines:"))
			fmt.Fprintln(stderr, se.Logs)
		}
		return exitCode(err)
	}
	return ExitSuccess
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		usage        *usageError
		config       *ConfigError
		precondition *deploy.PreconditionError
		transfer     *deploy.TransferError
		reconcile    *deploy.ReconcileError
		manifest     *deploy.ManifestError
		startup      *deploy.StartupError
	)

	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage), errors.As(err, &config):
		return ExitConfigError
	case errors.As(err, &precondition):
		return ExitPreconditionError
	case errors.As(err, &transfer):
		return ExitTransferError
	case errors.As(err, &reconcile):
		return ExitReconcileError
	case errors.As(err, &manifest):
		return ExitManifestError
	case errors.As(err, &startup):
		return ExitStartupError
	default:
		return ExitRemoteError
	}
}

// usageError marks bad flags or arguments.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
