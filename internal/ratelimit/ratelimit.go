// Package ratelimit implements the per-service request limiter used
// when talking to the enrichment APIs: a sliding one-minute window per
// key, a cap on concurrent requests, and exponential-backoff retries
// around the guarded call.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"leadagent/internal/logging"
)

const defaultWindow = time.Minute

// Limiter enforces a requests-per-window limit per key plus a global
// concurrency cap.
type Limiter struct {
	limit  int
	window time.Duration
	sem    *semaphore.Weighted

	mu       sync.Mutex
	requests map[string][]time.Time

	// Injection points for tests.
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// New creates a limiter allowing requestsPerMinute acquisitions per key
// in any sliding one-minute window, and at most maxConcurrent calls in
// flight through Execute.
func New(requestsPerMinute, maxConcurrent int) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		limit:    requestsPerMinute,
		window:   defaultWindow,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		requests: make(map[string][]time.Time),
		now:      time.Now,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 10 * time.Second
			return bo
		},
	}
}

// Acquire blocks until the key has a free slot in the current window or
// the context is done.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	if key == "" {
		key = "default"
	}
	for {
		l.mu.Lock()
		now := l.now()
		windowStart := now.Add(-l.window)

		kept := l.requests[key][:0]
		for _, ts := range l.requests[key] {
			if ts.After(windowStart) {
				kept = append(kept, ts)
			}
		}
		l.requests[key] = kept

		if len(kept) < l.limit {
			l.requests[key] = append(kept, now)
			l.mu.Unlock()
			return nil
		}

		// Wait until the oldest request slides out of the window.
		wait := kept[0].Sub(windowStart)
		l.mu.Unlock()

		logging.APIDebug("rate limit reached for %q, waiting %s", key, wait.Round(time.Millisecond))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait for %q: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Execute runs fn under the concurrency cap and the key's rate limit,
// retrying transient failures with exponential backoff (three attempts
// in total). Context errors are never retried.
func (l *Limiter) Execute(ctx context.Context, key string, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire concurrency slot: %w", err)
	}
	defer l.sem.Release(1)

	operation := func() error {
		if err := l.Acquire(ctx, key); err != nil {
			return backoff.Permanent(err)
		}
		if err := fn(); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logging.APIDebug("rate-limited call for %q failed, will retry: %v", key, err)
			return err
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(l.newBackOff(), 2), ctx)
	return backoff.Retry(operation, bo)
}

// Pending returns how many acquisitions the key has in the current
// window. Intended for diagnostics.
func (l *Limiter) Pending(key string) int {
	if key == "" {
		key = "default"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	windowStart := l.now().Add(-l.window)
	n := 0
	for _, ts := range l.requests[key] {
		if ts.After(windowStart) {
			n++
		}
	}
	return n
}
