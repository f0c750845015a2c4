// Package lifecycle models the states a deployed topology moves through while
// it is stopped, started and probed for readiness.
// This is part of the Functional Core - all functions are pure with no I/O.
package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// =============================================================================
// State
// =============================================================================

// State is the observed state of the services on the target.
type State string

const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// IsTerminal reports whether a start attempt has finished.
func (s State) IsTerminal() bool {
	return s == StateHealthy || s == StateUnhealthy
}

// validTransitions defines the allowed state transitions. Any state may go
// back to stopped because stop is idempotent.
var validTransitions = map[State][]State{
	StateStopped:   {StateStopped, StateStarting},
	StateStarting:  {StateHealthy, StateUnhealthy, StateStopped},
	StateHealthy:   {StateStopped},
	StateUnhealthy: {StateStopped},
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// =============================================================================
// Machine
// =============================================================================

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Machine tracks the current state and the transitions taken during one run.
// It is not safe for concurrent use; the controller drives it sequentially.
type Machine struct {
	state   State
	history []Transition
	now     func() time.Time
}

// NewMachine returns a machine in the stopped state. A nil clock uses
// time.Now.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{state: StateStopped, now: now}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// History returns a copy of the transitions taken so far.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Fire moves the machine to the given state if the transition is allowed.
func (m *Machine) Fire(to State) error {
	if err := ValidateTransition(m.state, to); err != nil {
		return err
	}
	m.history = append(m.history, Transition{From: m.state, To: to, At: m.now().UTC()})
	m.state = to
	return nil
}

// =============================================================================
// Polling Plan
// =============================================================================

// Attempt is the outcome of one readiness probe.
type Attempt struct {
	Number int
	Status int
	Err    error
}

// Healthy reports whether the attempt succeeded.
func (a Attempt) Healthy() bool {
	return a.Err == nil
}

// Decide returns the state a probe loop should move to after the given
// attempt, or StateStarting when another attempt is still allowed.
func Decide(a Attempt, maxAttempts int) State {
	if a.Healthy() {
		return StateHealthy
	}
	if a.Number >= maxAttempts {
		return StateUnhealthy
	}
	return StateStarting
}
