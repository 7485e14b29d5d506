package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker guards calls to the chat backend so a dead server fails fast
// instead of stacking up slow timeouts behind the send and history
// paths. Consecutive transport failures trip it open; after the
// cooldown a limited number of probes may pass, and enough probe
// successes close it again.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeQuota  int

	mu             sync.Mutex
	state          State
	failures       int
	openedAt       time.Time
	probes         int
	probeSuccesses int

	logger *logrus.Logger
}

// OpenError is returned without calling the backend while the breaker
// is open.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Name, e.RetryIn)
}

// IsOpenError reports whether an error came from an open breaker rather
// than the guarded call itself.
func IsOpenError(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// New creates a closed breaker. maxFailures consecutive failures trip
// it; cooldown is how long it stays open before probing.
func New(name string, maxFailures int, cooldown time.Duration, logger *logrus.Logger) *Breaker {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		probeQuota:  3,
		state:       StateClosed,
		logger:      logger,
	}
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		since := time.Since(b.openedAt)
		if since < b.cooldown {
			return &OpenError{Name: b.name, RetryIn: b.cooldown - since}
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccesses = 0
		b.logger.WithField("breaker", b.name).Info("Circuit breaker half-open, probing backend")
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.probeQuota {
			return &OpenError{Name: b.name, RetryIn: b.cooldown}
		}
		b.probes++
		return nil
	default:
		return &OpenError{Name: b.name, RetryIn: b.cooldown}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeSuccesses++
		if b.probeSuccesses >= b.probeQuota {
			b.state = StateClosed
			b.failures = 0
			b.logger.WithField("breaker", b.name).Info("Circuit breaker closed after recovery")
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.trip()
		}
	case StateHalfOpen:
		// One failed probe sends it straight back to open.
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.logger.WithFields(logrus.Fields{
		"breaker":  b.name,
		"failures": b.failures,
	}).Warn("Circuit breaker opened")
}

// State returns the current position, transitioning open to half-open
// when the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}
