package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errFailed = errors.New("failed")

func fail() error    { return errFailed }
func succeed() error { return nil }

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{"stays closed on successes", []bool{true, true, true}, StateClosed},
		{"opens after consecutive failures", []bool{false, false, false}, StateOpen},
		{"success resets the streak", []bool{false, false, true, false, false}, StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", Settings{ReadyToTrip: tripAfter(3)})
			for _, ok := range tt.requests {
				if ok {
					_ = breaker.Do(succeed)
				} else {
					_ = breaker.Do(fail)
				}
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{})

	require.NoError(t, breaker.Do(succeed))
	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)

	assert.ErrorIs(t, breaker.Do(fail), errFailed)
	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenAndRecover(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []string

	breaker := New("view", Settings{
		MaxRequests: 2,
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(2),
		Now:         clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = breaker.Do(fail)
	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())
	assert.False(t, breaker.Allow())
	err := breaker.Do(succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.NotErrorIs(t, err, ErrTooManyRequests)
	assert.True(t, Rejected(err))
	assert.EqualError(t, err, "view: circuit breaker is open")

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())
	assert.True(t, breaker.Allow())

	require.NoError(t, breaker.Do(succeed))
	require.NoError(t, breaker.Do(succeed))
	assert.Equal(t, StateClosed, breaker.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	breaker := New("view", Settings{
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(1),
		Now:         clock.Now,
	})

	_ = breaker.Do(fail)
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerIsSuccessful(t *testing.T) {
	scriptErr := errors.New("ReferenceError: x is not defined")
	breaker := New("view", Settings{
		ReadyToTrip:  tripAfter(1),
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, scriptErr) },
	})

	assert.ErrorIs(t, breaker.Do(func() error { return scriptErr }), scriptErr)
	assert.Equal(t, StateClosed, breaker.State())

	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("view", Settings{ReadyToTrip: tripAfter(1)})
	assert.Panics(t, func() {
		_ = breaker.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerIntervalResetsCounts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	breaker := New("view", Settings{Interval: time.Second, Now: clock.Now})

	_ = breaker.Do(fail)
	assert.Equal(t, uint32(1), breaker.Counts().TotalFailures)

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(0), breaker.Counts().TotalFailures)
}

func TestBreakerHalfOpenAdmitsMaxRequests(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	breaker := New("view", Settings{
		Timeout:          time.Second,
		FailureThreshold: 1,
		Now:              clock.Now,
	})

	_ = breaker.Do(fail)
	clock.Advance(2 * time.Second)

	var inner error
	err := breaker.Do(func() error {
		inner = breaker.Do(succeed)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrTooManyRequests)
	assert.True(t, Rejected(inner))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerDefaultThreshold(t *testing.T) {
	breaker := New("pipe", Settings{})
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		_ = breaker.Do(fail)
	}
	assert.Equal(t, StateClosed, breaker.State())
	_ = breaker.Do(fail)
	assert.Equal(t, StateOpen, breaker.State())
	assert.False(t, Rejected(errFailed))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
