// Package circuitbreaker stops calling a failing dependency for a cool-down period
// and probes it again before closing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe slots are taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings for circuit breaker behavior
type Settings struct {
	// MaxRequests is the number of concurrent probes allowed while half-open.
	MaxRequests uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// SuccessThreshold consecutive probe successes close it again.
	SuccessThreshold uint32
	// OnStateChange is called synchronously, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultSettings returns the settings used when a field is left zero.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:      1,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu              sync.Mutex
	state           State
	expiry          time.Time
	inFlight        uint32
	consecutiveFail uint32
	consecutiveSucc uint32
}

// New creates a breaker; zero settings fields take their defaults.
func New(name string, settings Settings) *Breaker {
	def := DefaultSettings()
	if settings.MaxRequests == 0 {
		settings.MaxRequests = def.MaxRequests
	}
	if settings.Timeout == 0 {
		settings.Timeout = def.Timeout
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = def.FailureThreshold
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = def.SuccessThreshold
	}
	return &Breaker{name: name, settings: settings, now: time.Now}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the timeout passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, change := b.currentLocked(b.now())
	b.mu.Unlock()
	b.notify(change)
	return st
}

// Execute runs fn unless the breaker is open. A panic in fn counts as a failure
// and is re-raised.
func (b *Breaker) Execute(fn func() error) (err error) {
	if err := b.before(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.after(false)
			panic(r)
		}
	}()
	err = fn()
	b.after(err == nil)
	return err
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.setLocked(StateClosed)
	b.consecutiveFail, b.consecutiveSucc, b.inFlight = 0, 0, 0
	b.mu.Unlock()
	b.notify(change)
}

type transition struct {
	from, to State
	changed  bool
}

func (b *Breaker) before() error {
	b.mu.Lock()
	st, change := b.currentLocked(b.now())
	var err error
	switch st {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.MaxRequests {
			err = ErrTooManyRequests
		} else {
			b.inFlight++
		}
	}
	b.mu.Unlock()
	b.notify(change)
	return err
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	now := b.now()
	st, first := b.currentLocked(now)
	if st == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	var change transition
	if success {
		b.consecutiveFail = 0
		b.consecutiveSucc++
		if st == StateHalfOpen && b.consecutiveSucc >= b.settings.SuccessThreshold {
			change = b.setLocked(StateClosed)
		}
	} else {
		b.consecutiveSucc = 0
		b.consecutiveFail++
		// Any failed probe reopens.
		if st == StateHalfOpen || b.consecutiveFail >= b.settings.FailureThreshold {
			b.expiry = now.Add(b.settings.Timeout)
			change = b.setLocked(StateOpen)
		}
	}
	b.mu.Unlock()
	b.notify(first)
	b.notify(change)
}

func (b *Breaker) currentLocked(now time.Time) (State, transition) {
	if b.state == StateOpen && !now.Before(b.expiry) {
		b.consecutiveSucc = 0
		return StateHalfOpen, b.setLocked(StateHalfOpen)
	}
	return b.state, transition{}
}

func (b *Breaker) setLocked(to State) transition {
	from := b.state
	if from == to {
		return transition{}
	}
	b.state = to
	if to == StateClosed {
		b.consecutiveFail = 0
	}
	if to != StateHalfOpen {
		b.inFlight = 0
	}
	return transition{from: from, to: to, changed: true}
}

func (b *Breaker) notify(t transition) {
	if t.changed && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}
