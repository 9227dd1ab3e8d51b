package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Limiter with a sliding failure window and
// temporary lockouts. State does not survive a restart, which is
// acceptable for a single-user process guarding a local vault file.
type Memory struct {
	mu       sync.Mutex
	window   time.Duration
	maxFails int
	blockFor time.Duration
	entries  map[string]*entry
	now      func() time.Time
}

type entry struct {
	fails        int
	lastFailure  time.Time
	blockedUntil time.Time
}

// NewMemory builds a Memory limiter.
// window: period during which failures accumulate.
// maxFails: failures within window before a block is placed.
// blockFor: duration of the temporary block.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

// Allow reports whether an attempt for key is currently permitted.
func (l *Memory) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return true, 0, nil
	}
	now := l.now()
	if e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success clears all recorded failures for key.
func (l *Memory) Success(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// Failure records a failed attempt and reports whether a block was placed.
// A failure outside the window restarts the count at one.
func (l *Memory) Failure(ctx context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	if now.Sub(e.lastFailure) > l.window {
		e.fails = 1
	} else {
		e.fails++
	}
	e.lastFailure = now

	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
