// Package domain contains the core deployment types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Target Errors
// =============================================================================

var (
	// SSH validation errors
	ErrSSHHostRequired = errors.New("SSH host is required")
	ErrSSHHostInvalid  = errors.New("SSH host must be a valid hostname or IP address")
	ErrSSHPortInvalid  = errors.New("SSH port must be between 1 and 65535")
	ErrSSHUserRequired = errors.New("SSH user is required")
	ErrSSHKeyRequired  = errors.New("SSH key path is required")

	// Remote layout errors
	ErrBasePathRequired = errors.New("remote base path is required")
	ErrBasePathInvalid  = errors.New("remote base path must be absolute")
	ErrProjectRequired  = errors.New("project name is required")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// DeployTarget
// =============================================================================

// DeployTarget identifies the single remote host a run deploys to.
// It is built once per invocation from configuration and never mutated.
type DeployTarget struct {
	Host           string `mapstructure:"host" validate:"required,hostname_rfc1123|ip"`
	Port           int    `mapstructure:"port" validate:"min=1,max=65535"`
	User           string `mapstructure:"user" validate:"required"`
	KeyPath        string `mapstructure:"key_path" validate:"required"`
	KnownHostsPath string `mapstructure:"known_hosts_path"`
	BasePath       string `mapstructure:"base_path" validate:"required,startswith=/"`
	Project        string `mapstructure:"project" validate:"required"`
}

// Address returns the SSH dial address in host:port form.
func (t DeployTarget) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns user@host:port, suitable for log lines.
func (t DeployTarget) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Address())
}

// RemotePath joins rel onto the remote base path using POSIX separators.
func (t DeployTarget) RemotePath(rel string) string {
	return path.Join(t.BasePath, rel)
}

// Validate checks the target fields and returns the first violation as a
// domain error.
func (t DeployTarget) Validate() error {
	err := validate.Struct(t)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Host":
		if fe.Tag() == "required" {
			return ErrSSHHostRequired
		}
		return ErrSSHHostInvalid
	case "Port":
		return ErrSSHPortInvalid
	case "User":
		return ErrSSHUserRequired
	case "KeyPath":
		return ErrSSHKeyRequired
	case "BasePath":
		if fe.Tag() == "required" {
			return ErrBasePathRequired
		}
		return ErrBasePathInvalid
	case "Project":
		return ErrProjectRequired
	default:
		return fmt.Errorf("invalid target field %s: %s", fe.Field(), fe.Tag())
	}
}
