package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerr "github.com/Bemazed/grid-gateway/internal/errors"
)

var errDial = errors.New("connection refused")

func fail() error    { return errDial }
func succeed() error { return nil }

func TestCircuitBreaker_NormalOperation(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	require.NoError(t, cb.Execute(succeed))
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Second})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(fail), errDial)
	}

	assert.Equal(t, StateOpen, cb.CurrentState())
	assert.Equal(t, 3, cb.Failures())
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, gwerr.ErrCircuitOpen)
	assert.False(t, called, "fn must not run while open")
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name  string
		probe []func() error
		want  State
	}{
		{"one success stays half-open", []func() error{succeed}, StateHalfOpen},
		{"two successes close", []func() error{succeed, succeed}, StateClosed},
		{"probe failure reopens", []func() error{fail}, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(&CircuitBreakerConfig{
				MaxFailures:  1,
				ResetTimeout: 10 * time.Millisecond,
				HalfOpenMax:  2,
			})
			_ = cb.Execute(fail)
			require.Equal(t, StateOpen, cb.CurrentState())

			time.Sleep(20 * time.Millisecond)
			for _, p := range tt.probe {
				_ = cb.Execute(p)
			}
			assert.Equal(t, tt.want, cb.CurrentState())
		})
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.CurrentState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_StateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s→%s", from, to))
		},
	})

	_ = cb.Execute(fail)
	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(succeed)

	assert.Equal(t, []string{"closed→open", "open→half-open", "half-open→closed"}, transitions)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	assert.Equal(t, 5, cb.cfg.MaxFailures)
	assert.Equal(t, 30*time.Second, cb.cfg.ResetTimeout)

	cb = NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: -1})
	assert.Equal(t, 5, cb.cfg.MaxFailures)
	assert.Equal(t, 2, cb.cfg.HalfOpenMax)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Second})

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)

	assert.Zero(t, cb.Failures())
	assert.Equal(t, StateClosed, cb.CurrentState())
}
