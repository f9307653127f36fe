package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow bounds outbound calls to at most limit admissions inside any
// window-long interval. Acquire blocks until a slot frees up; requests are
// delayed, never dropped. Waiters are admitted in FIFO order: only the
// waiter holding the turn token sleeps on the window, the rest queue on the
// token channel, which the runtime services in arrival order.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time // admission times, oldest first, len <= limit

	turn chan struct{}
	now  func() time.Time
}

// NewSlidingWindow constructs a limiter admitting limit calls per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		turn:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Acquire blocks until a call slot is available and reserves it. The only
// error is ctx.Err(): a cancelled waiter leaves the queue without consuming
// a slot.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// evict drops admission stamps that have aged out of the window. Caller
// holds l.mu.
func (l *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// InFlight returns how many admissions are still inside the current window.
func (l *SlidingWindow) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.stamps)
}
