package core

import (
	"fmt"
	"sync"
)

// IterationLimiter bounds the number of THINK steps in one tool-use loop.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a limiter allowing max steps. max <= 0 means
// unbounded.
func NewIterationLimiter(max int) *IterationLimiter {
	return &IterationLimiter{max: max}
}

// Next reserves one step and returns an error wrapping ErrIterationLimit
// once the budget is exhausted.
func (l *IterationLimiter) Next() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("%w: %d steps", ErrIterationLimit, l.max)
	}
	l.count++
	return nil
}

// Count returns the number of reserved steps.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns the steps left, or -1 when unbounded.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max <= 0 {
		return -1
	}
	return l.max - l.count
}
