package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSpawn = errors.New("spawn failed")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(settings Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b := New("test", settings)
	b.now = clock.now
	return b, clock
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		threshold     uint32
		attempts      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			threshold:     3,
			attempts:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			threshold:     3,
			attempts:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the failure streak",
			threshold:     3,
			attempts:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker, _ := newTestBreaker(Settings{FailureThreshold: tt.threshold, Cooldown: time.Minute})

			for _, success := range tt.attempts {
				_ = breaker.Execute(func() error {
					if success {
						return nil
					}
					return errSpawn
				})
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker, _ := newTestBreaker(Settings{FailureThreshold: 5})

	require.NoError(t, breaker.Execute(func() error { return nil }))
	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Attempts)
	assert.Equal(t, uint32(0), counts.Failures)

	err := breaker.Execute(func() error { return errSpawn })
	assert.ErrorIs(t, err, errSpawn)

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Attempts)
	assert.Equal(t, uint32(1), counts.Failures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestBreakerOpenRejects(t *testing.T) {
	breaker, _ := newTestBreaker(Settings{FailureThreshold: 2, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(func() error { return errSpawn })
	}
	require.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	breaker, clock := newTestBreaker(Settings{FailureThreshold: 2, Cooldown: 50 * time.Millisecond})

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(func() error { return errSpawn })
	}
	assert.Equal(t, StateOpen, breaker.State())

	clock.advance(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, breaker.Allow())
	assert.ErrorIs(t, breaker.Allow(), ErrTooManyRequests)
	breaker.Record(true)

	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	breaker, clock := newTestBreaker(Settings{FailureThreshold: 1, Cooldown: time.Second})

	_ = breaker.Execute(func() error { return errSpawn })
	clock.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Execute(func() error { return errSpawn })
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string

	breaker, clock := newTestBreaker(Settings{
		FailureThreshold: 2,
		Cooldown:         10 * time.Millisecond,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(func() error { return errSpawn })
	}

	clock.advance(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)
}
