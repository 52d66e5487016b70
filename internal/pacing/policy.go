// Package pacing decides how long a campaign waits between sends.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Policy draws randomized inter-message delays. Safe for concurrent use.
type Policy struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPolicy seeds the random source. Tests pass a fixed seed for repeatable delays.
func NewPolicy(seed int64) *Policy {
	return &Policy{rnd: rand.New(rand.NewSource(seed))}
}

// NewDefaultPolicy seeds from the clock.
func NewDefaultPolicy() *Policy {
	return NewPolicy(time.Now().UnixNano())
}

// NextDelay returns a uniform integer in [min, max], swapping the bounds when reversed.
func (p *Policy) NextDelay(min, max int) int {
	if min > max {
		min, max = max, min
	}
	if min == max {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + p.rnd.Intn(max-min+1)
}

// ShouldPauseBatch reports whether a batch break is due. A non-positive batch size disables batching.
func ShouldPauseBatch(sentInBatch, batchSize int) bool {
	if batchSize <= 0 {
		return false
	}
	return sentInBatch >= batchSize
}

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

// NewSleeper returns the wall-clock Sleeper.
func NewSleeper() Sleeper {
	return timerSleeper{}
}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Seconds converts a whole number of seconds to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
