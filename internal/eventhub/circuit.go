package eventhub

import (
	"sync"
	"time"
)

// circuitState mirrors the teacher's scheduler.CircuitBreaker three-state
// machine (scheduler/circuit_breaker.go), repurposed here to guard
// websocket broadcast instead of worker admission: when a burst of clients
// disconnect mid-write, Publish stops paying the write-deadline cost on
// every subscriber and instead drops broadcasts until the cooldown elapses.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitHalfOpen
	circuitOpen
)

func (cs circuitState) String() string {
	switch cs {
	case circuitClosed:
		return "closed"
	case circuitHalfOpen:
		return "half_open"
	case circuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// broadcastBreaker trips when a broadcast's failure rate crosses
// failureThreshold, pausing websocket fan-out for cooldownPeriod before
// testing recovery with a small sample of broadcasts.
type broadcastBreaker struct {
	mu sync.Mutex

	state            circuitState
	failureThreshold float64
	cooldownPeriod   time.Duration

	openedAt  time.Time
	testCount int
	testLimit int
}

func newBroadcastBreaker() *broadcastBreaker {
	return &broadcastBreaker{
		state:            circuitClosed,
		failureThreshold: 0.5,
		cooldownPeriod:   10 * time.Second,
		testLimit:        3,
	}
}

// allow reports whether Publish should attempt a websocket broadcast at
// all this round.
func (b *broadcastBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitOpen && time.Since(b.openedAt) > b.cooldownPeriod {
		b.state = circuitHalfOpen
		b.testCount = 0
	}
	if b.state == circuitOpen {
		return false
	}
	if b.state == circuitHalfOpen && b.testCount >= b.testLimit {
		return false
	}
	return true
}

// record tells the breaker how a broadcast round went: total is the number
// of clients written to, failed is how many of those writes errored.
func (b *broadcastBreaker) record(total, failed int) {
	if total == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitHalfOpen {
		b.testCount++
	}

	rate := float64(failed) / float64(total)
	switch b.state {
	case circuitHalfOpen:
		if rate > 0 {
			b.state = circuitOpen
			b.openedAt = time.Now()
			b.testCount = 0
			return
		}
		if b.testCount >= b.testLimit {
			b.state = circuitClosed
		}
	default:
		if rate > b.failureThreshold {
			b.state = circuitOpen
			b.openedAt = time.Now()
		}
	}
}

func (b *broadcastBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
