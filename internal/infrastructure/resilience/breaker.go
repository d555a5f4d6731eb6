package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Rejections wrap one of these, so callers can test with errors.Is.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// DefaultFailureThreshold trips a breaker whose settings name neither
// FailureThreshold nor ReadyToTrip.
const DefaultFailureThreshold = 5

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settings configures a Breaker. Zero fields take defaults.
type Settings struct {
	// MaxRequests admitted while half-open; that many consecutive
	// successes close the breaker again.
	MaxRequests uint32
	// Interval after which the counts of a closed breaker reset.
	Interval time.Duration
	// Timeout an open breaker waits before probing.
	Timeout time.Duration
	// FailureThreshold trips the breaker after that many consecutive
	// failures. Ignored when ReadyToTrip is set.
	FailureThreshold uint32
	// ReadyToTrip decides, after each failure while closed, whether to open.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies a returned error. Errors it accepts count as
	// successes; a script error inside a healthy provider is not a fault.
	IsSuccessful func(err error) bool
	// OnStateChange observes transitions. It runs under the breaker lock
	// and must not call back into the breaker.
	OnStateChange func(name string, from State, to State)
	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.Timeout == 0 {
		s.Timeout = time.Minute
	}
	if s.ReadyToTrip == nil {
		threshold := s.FailureThreshold
		if threshold == 0 {
			threshold = DefaultFailureThreshold
		}
		s.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= threshold }
	}
	if s.IsSuccessful == nil {
		s.IsSuccessful = func(err error) bool { return err == nil }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Counts are the request statistics of the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// RejectedError is returned by Do when the breaker refuses a request.
type RejectedError struct {
	Name  string
	State State
}

func (e *RejectedError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("%s: %s while half-open", e.Name, ErrTooManyRequests)
	}
	return fmt.Sprintf("%s: %s", e.Name, ErrCircuitOpen)
}

func (e *RejectedError) Is(target error) bool {
	switch target {
	case ErrCircuitOpen:
		return e.State == StateOpen
	case ErrTooManyRequests:
		return e.State == StateHalfOpen
	}
	return false
}

// Rejected reports whether err came from a breaker refusing a request
// rather than from the request itself.
func Rejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// Breaker guards one provider.
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	settings = settings.withDefaults()
	return &Breaker{
		name:     name,
		settings: settings,
		expiry:   settings.Now().Add(settings.Interval),
	}
}

func (b *Breaker) Name() string {
	return b.name
}

// State returns the current position, applying any due timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.advance(b.settings.Now())
	return state
}

// Counts returns a copy of the current generation's counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow reports whether a request would currently be admitted, without
// counting it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.advance(b.settings.Now())
	return b.admits(state)
}

// Do runs req if the breaker admits it and records the outcome. A panic
// in req counts as a failure and is re-raised.
func (b *Breaker) Do(req func() error) error {
	generation, err := b.begin()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			b.finish(generation, false)
			panic(e)
		}
	}()

	err = req()
	b.finish(generation, b.settings.IsSuccessful(err))
	return err
}

func (b *Breaker) admits(state State) bool {
	switch state {
	case StateOpen:
		return false
	case StateHalfOpen:
		return b.counts.Requests < b.settings.MaxRequests
	}
	return true
}

func (b *Breaker) begin() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.advance(b.settings.Now())
	if !b.admits(state) {
		return generation, &RejectedError{Name: b.name, State: state}
	}
	b.counts.Requests++
	return generation, nil
}

// finish ignores results that started in an earlier generation.
func (b *Breaker) finish(started uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Now()
	state, generation := b.advance(now)
	if generation != started {
		return
	}

	if success {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
			b.transition(StateClosed, now)
		}
		return
	}

	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.settings.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// advance applies expiries and returns the state and generation.
func (b *Breaker) advance(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.reset(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.reset(now)
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) reset(now time.Time) {
	b.generation++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		b.expiry = now.Add(b.settings.Interval)
	case StateOpen:
		b.expiry = now.Add(b.settings.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}
}
