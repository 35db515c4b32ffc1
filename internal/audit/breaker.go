package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/stepwise/model"
)

// ErrSinkOpen is returned while a BreakerSink short-circuits its sink.
var ErrSinkOpen = errors.New("audit sink circuit is open")

// BreakerState is the state of a BreakerSink.
type BreakerState int

const (
	// BreakerClosed passes every record through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects records without calling the sink.
	BreakerOpen
	// BreakerHalfOpen lets probe records through after the cooldown.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerOption configures a BreakerSink.
type BreakerOption func(*BreakerSink)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *BreakerSink) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithRecoveryThreshold sets how many consecutive half-open successes close
// the circuit again.
func WithRecoveryThreshold(n int) BreakerOption {
	return func(b *BreakerSink) {
		if n > 0 {
			b.recoveryThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *BreakerSink) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithStateHook is called on every state change.
func WithStateHook(fn func(from, to BreakerState)) BreakerOption {
	return func(b *BreakerSink) { b.onChange = fn }
}

// BreakerSink guards a sink that can go away, such as a database, so that an
// outage costs one fast ErrSinkOpen per record instead of a timeout each.
// It is safe for concurrent use.
type BreakerSink struct {
	sink model.AuditSink
	now  func() time.Time

	failureThreshold  int
	recoveryThreshold int
	cooldown          time.Duration
	onChange          func(from, to BreakerState)

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreakerSink wraps sink. Defaults: open after 5 consecutive failures,
// probe after 30s, close after 2 probe successes.
func NewBreakerSink(sink model.AuditSink, opts ...BreakerOption) *BreakerSink {
	b := &BreakerSink{
		sink:              sink,
		now:               time.Now,
		failureThreshold:  5,
		recoveryThreshold: 2,
		cooldown:          30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Record implements model.AuditSink.
func (b *BreakerSink) Record(ctx context.Context, event model.AuditEvent) error {
	if !b.allow() {
		return ErrSinkOpen
	}
	err := b.sink.Record(ctx, event)
	b.observe(err)
	return err
}

// State returns the current state, moving an expired open circuit to
// half-open.
func (b *BreakerSink) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state
}

func (b *BreakerSink) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state != BreakerOpen
}

func (b *BreakerSink) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openLocked()
		}
	case BreakerHalfOpen:
		if err != nil {
			b.openLocked()
			return
		}
		b.successes++
		if b.successes >= b.recoveryThreshold {
			b.failures, b.successes = 0, 0
			b.setLocked(BreakerClosed)
		}
	}
}

func (b *BreakerSink) expireLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.successes = 0
		b.setLocked(BreakerHalfOpen)
	}
}

func (b *BreakerSink) openLocked() {
	b.openedAt = b.now()
	b.successes = 0
	b.setLocked(BreakerOpen)
}

func (b *BreakerSink) setLocked(to BreakerState) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}

var _ model.AuditSink = (*BreakerSink)(nil)
