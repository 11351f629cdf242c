// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry provides an iterator-style exponential backoff used by the
// polling loops that wait on cluster state.
package retry

import (
	"context"
	"time"
)

// Timer abstracts time.After so tests can run backoff loops instantly.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Retry manages exponential backoff state for a polling loop.
//
// Example usage:
//
//	r := retry.New(100*time.Millisecond, 5*time.Second)
//	for {
//	    if err := r.StartAttempt(ctx); err != nil {
//	        return err // Context cancelled or timed out
//	    }
//	    if done, err := poll(ctx); err != nil || done {
//	        return err
//	    }
//	}
type Retry struct {
	cfg     retryConfig
	attempt int
}

type retryConfig struct {
	// initialDelay waits before attempt 0 as well.
	initialDelay bool
	backoff      backoff
	timer        Timer
}

// Option is a functional option for configuring a Retry.
type Option func(*retryConfig)

// WithInitialDelay configures the retry to back off before the first
// attempt. Use this when the caller has already tried once.
func WithInitialDelay() Option {
	return func(c *retryConfig) { c.initialDelay = true }
}

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(t Timer) Option {
	return func(c *retryConfig) { c.timer = t }
}

// WithoutJitter makes every delay exactly baseDelay × 2^attempt, capped at
// maxDelay.
func WithoutJitter() Option {
	return func(c *retryConfig) {
		if e, ok := c.backoff.(*exponentialBackoff); ok {
			e.disableJitter = true
		}
	}
}

// New creates a Retry with exponential backoff and full jitter.
// Panics if the parameters are invalid (represents a coding error).
func New(baseDelay, maxDelay time.Duration, opts ...Option) *Retry {
	if baseDelay <= 0 {
		panic("retry: baseDelay must be positive")
	}
	if maxDelay <= 0 {
		panic("retry: maxDelay must be positive")
	}
	if baseDelay > maxDelay {
		panic("retry: baseDelay cannot be greater than maxDelay")
	}

	cfg := retryConfig{
		backoff: newExponentialBackoff(baseDelay, maxDelay),
		timer:   realTimer{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retry{cfg: cfg}
}

// StartAttempt waits for the backoff delay, if any, and then returns nil to
// signal the caller should make the next attempt. Attempt 0 runs immediately
// unless WithInitialDelay was given. Returns ctx.Err() if the context ends
// first.
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.attempt > 0 || r.cfg.initialDelay {
		delay := r.cfg.backoff.nextDelay()
		select {
		case <-r.cfg.timer.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.attempt++
	return nil
}

// Attempt returns the number of attempts started so far.
func (r *Retry) Attempt() int {
	return r.attempt
}

// Reset restarts the backoff from baseDelay. The attempt counter keeps
// counting.
func (r *Retry) Reset() {
	r.cfg.backoff.reset()
}

// Attempts returns an iterator for range-based retry loops. It yields
// (attempt, nil) before each attempt and (attempt, ctx error) once when the
// context ends.
//
//	for attempt, err := range r.Attempts(ctx) {
//	    if err != nil {
//	        return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
//	    }
//	    ...
//	}
func (r *Retry) Attempts(ctx context.Context) func(yield func(int, error) bool) {
	return func(yield func(int, error) bool) {
		for {
			err := r.StartAttempt(ctx)
			if !yield(r.attempt, err) || err != nil {
				return
			}
		}
	}
}
