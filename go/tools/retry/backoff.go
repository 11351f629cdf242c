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

package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// backoff calculates retry delays. reset may be called from a different
// goroutine than nextDelay.
type backoff interface {
	nextDelay() time.Duration
	reset()
}

// exponentialBackoff implements "Full Jitter":
// sleep = random_between(0, min(maxDelay, baseDelay * 2^attempt)).
type exponentialBackoff struct {
	baseDelay     time.Duration
	maxDelay      time.Duration
	rng           *rand.Rand
	disableJitter bool

	mu      sync.Mutex
	attempt int
}

func newExponentialBackoff(baseDelay, maxDelay time.Duration) *exponentialBackoff {
	return &exponentialBackoff{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()))),
	}
}

func (e *exponentialBackoff) nextDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Compute in float64 so large attempt counts saturate instead of overflowing.
	delay := float64(e.baseDelay) * math.Pow(2, float64(e.attempt))
	if delay > float64(e.maxDelay) {
		delay = float64(e.maxDelay)
	}
	e.attempt++

	if e.disableJitter {
		return time.Duration(delay)
	}
	if delay < 1 {
		return 0
	}
	return time.Duration(e.rng.Int64N(int64(delay) + 1))
}

func (e *exponentialBackoff) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempt = 0
}
