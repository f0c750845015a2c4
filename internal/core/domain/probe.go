package domain

import (
	"errors"
	"time"
)

var (
	ErrProbeURLRequired      = errors.New("health probe URL is required")
	ErrProbeAttemptsInvalid  = errors.New("health probe must allow at least one attempt")
	ErrProbeDelayInvalid     = errors.New("health probe delay cannot be negative")
	ErrProbeTimeoutInvalid   = errors.New("health probe timeout must be positive")
	ErrProbeStatusRangeEmpty = errors.New("health probe expected status range is empty")
)

// HealthProbe describes the bounded readiness check run after startup.
type HealthProbe struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Delay        time.Duration `mapstructure:"delay"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MinStatus    int           `mapstructure:"min_status"`
	MaxStatus    int           `mapstructure:"max_status"`
}

// DefaultHealthProbe returns the probe used against the application's basic
// health endpoint.
func DefaultHealthProbe() HealthProbe {
	return HealthProbe{
		URL:          "http://localhost:8000/health",
		Timeout:      5 * time.Second,
		MaxAttempts:  5,
		Delay:        5 * time.Second,
		InitialDelay: 10 * time.Second,
		MinStatus:    200,
		MaxStatus:    299,
	}
}

// Succeeded reports whether an HTTP status code counts as healthy.
// Only the status is inspected, never the response body.
func (p HealthProbe) Succeeded(status int) bool {
	lo, hi := p.MinStatus, p.MaxStatus
	if lo == 0 && hi == 0 {
		lo, hi = 200, 299
	}
	return status >= lo && status <= hi
}

// Validate checks the probe configuration.
func (p HealthProbe) Validate() error {
	if p.URL == "" {
		return ErrProbeURLRequired
	}
	if p.MaxAttempts < 1 {
		return ErrProbeAttemptsInvalid
	}
	if p.Delay < 0 || p.InitialDelay < 0 {
		return ErrProbeDelayInvalid
	}
	if p.Timeout <= 0 {
		return ErrProbeTimeoutInvalid
	}
	if p.MinStatus > p.MaxStatus {
		return ErrProbeStatusRangeEmpty
	}
	return nil
}
