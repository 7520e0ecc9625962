package circuit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a Breaker's trip and recovery thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenDuration     time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:      30 * time.Second,
	}
}

// Breaker wraps calls to a single external collaborator (LLM, Observability,
// an executor, Notification) and stops issuing them after repeated failures.
type Breaker struct {
	name   string
	config Config

	mu             sync.RWMutex
	state          State
	failures       int
	successes      int
	openedAt       time.Time
	lastErr        error
	onStateChange  func(name string, from, to State)
}

func NewBreaker(name string, cfg Config) *Breaker {
	return &Breaker{name: name, config: cfg, state: Closed}
}

func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a call should be attempted right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.config.OpenDuration {
			b.transitionLocked(HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(Closed)
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
}

func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastErr = err
	switch b.state {
	case HalfOpen:
		b.transitionLocked(Open)
		b.openedAt = time.Now()
		b.successes = 0
	case Closed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(Open)
			b.openedAt = time.Now()
		}
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	cb := b.onStateChange
	log.Info().
		Str("breaker", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state change")
	if cb != nil {
		cb(b.name, from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// circuitOpenError is returned by Execute when the breaker is open;
// IsCircuitOpen detects it.
type circuitOpenError struct{ name string }

func (e *circuitOpenError) Error() string { return "circuit open: " + e.name }

func IsCircuitOpen(err error) bool {
	_, ok := err.(*circuitOpenError)
	return ok
}

// Execute runs fn if the breaker allows it, recording the outcome. fn should
// return a *TransientError or *PermanentError so the breaker and the caller
// both know whether the failure counts toward tripping and whether Retry
// should retry it.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return &circuitOpenError{name: b.name}
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure(err)
		return err
	}
	b.RecordSuccess()
	return nil
}

// RetryConfig is the spec §7 exponential backoff policy: 3 attempts, base 1s,
// factor 2, jitter.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Base: time.Second, Factor: 2}
}

// Retry runs fn, retrying TransientError failures with exponential backoff
// and jitter up to MaxAttempts. PermanentError and any other error returns
// immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := cfg.Base
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
	}
	return lastErr
}
