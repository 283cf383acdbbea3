package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSinkOpen is returned while the breaker is holding a failing sink open.
var ErrSinkOpen = errors.New("audit sink circuit is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "CLOSED"
	case breakerOpen:
		return "OPEN"
	case breakerHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// BreakerSink wraps a sink with a circuit breaker so a dead audit backend
// stops eating a publish round-trip per decision. Trail already swallows
// sink errors; the breaker just makes the failure cheap while it lasts.
type BreakerSink struct {
	name string
	next Sink

	failureThreshold uint32
	cooldown         time.Duration
	probeQuota       uint32

	mu         sync.Mutex
	state      breakerState
	generation uint64
	failures   uint32
	probes     uint32
	openedAt   time.Time
}

// NewBreakerSink wraps next. The breaker opens after failureThreshold
// consecutive failures, stays open for cooldown, then lets probeQuota
// requests through half-open; one success closes it again.
func NewBreakerSink(name string, next Sink, failureThreshold uint32, cooldown time.Duration) *BreakerSink {
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &BreakerSink{
		name:             name,
		next:             next,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		probeQuota:       1,
	}
}

// Publish forwards to the wrapped sink unless the circuit is open.
func (b *BreakerSink) Publish(ctx context.Context, rec *Record) error {
	gen, err := b.before()
	if err != nil {
		return err
	}
	err = b.next.Publish(ctx, rec)
	b.after(gen, err == nil)
	return err
}

func (b *BreakerSink) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(time.Now())
	switch b.state {
	case breakerOpen:
		return b.generation, ErrSinkOpen
	case breakerHalfOpen:
		if b.probes >= b.probeQuota {
			return b.generation, ErrSinkOpen
		}
		b.probes++
	}
	return b.generation, nil
}

func (b *BreakerSink) after(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A state change after this request started makes its outcome moot.
	if gen != b.generation {
		return
	}
	if success {
		b.failures = 0
		if b.state == breakerHalfOpen {
			b.transition(breakerClosed)
		}
		return
	}
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.failureThreshold {
		b.transition(breakerOpen)
		b.openedAt = time.Now()
	}
}

// advance moves an expired open circuit to half-open. Caller holds mu.
func (b *BreakerSink) advance(now time.Time) {
	if b.state == breakerOpen && now.Sub(b.openedAt) >= b.cooldown {
		b.transition(breakerHalfOpen)
	}
}

func (b *BreakerSink) transition(to breakerState) {
	if b.state == to {
		return
	}
	slog.Warn("Audit sink breaker state change",
		"sink", b.name, "from", b.state.String(), "to", to.String())
	b.state = to
	b.generation++
	b.failures = 0
	b.probes = 0
}
