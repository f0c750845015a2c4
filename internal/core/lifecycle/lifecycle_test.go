package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateStopped, StateStarting, true},
		{StateStopped, StateStopped, true},
		{StateStarting, StateHealthy, true},
		{StateStarting, StateUnhealthy, true},
		{StateStarting, StateStopped, true},
		{StateHealthy, StateStopped, true},
		{StateUnhealthy, StateStopped, true},
		{StateStopped, StateHealthy, false},
		{StateHealthy, StateStarting, false},
		{StateUnhealthy, StateHealthy, false},
		{State("paused"), StateStopped, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestMachine_FireRecordsHistory(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	m := NewMachine(func() time.Time { return now })
	assert.Equal(t, StateStopped, m.State())

	require.NoError(t, m.Fire(StateStarting))
	require.NoError(t, m.Fire(StateHealthy))
	assert.Equal(t, StateHealthy, m.State())
	assert.True(t, m.State().IsTerminal())

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, Transition{From: StateStopped, To: StateStarting, At: now}, history[0])
	assert.Equal(t, StateHealthy, history[1].To)
}

func TestMachine_RejectsInvalid(t *testing.T) {
	m := NewMachine(nil)

	err := m.Fire(StateHealthy)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateStopped, m.State())
	assert.Empty(t, m.History())
}

func TestDecide(t *testing.T) {
	failed := errors.New("connection refused")

	assert.Equal(t, StateHealthy, Decide(Attempt{Number: 1, Status: 200}, 5))
	assert.Equal(t, StateStarting, Decide(Attempt{Number: 1, Err: failed}, 5))
	assert.Equal(t, StateStarting, Decide(Attempt{Number: 4, Err: failed}, 5))
	assert.Equal(t, StateUnhealthy, Decide(Attempt{Number: 5, Err: failed}, 5))
	assert.Equal(t, StateHealthy, Decide(Attempt{Number: 5, Status: 204}, 5))
}
