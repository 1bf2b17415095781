// Package retry implements the uniform full-jitter retry policy applied
// to every operation marked retriable in the pipeline.
//
// The delay before attempt i (1-indexed) is drawn uniformly from
// [0, min(cap, base*2^(i-1))]. Non-retriable errors short-circuit via
// Permanent.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/agent-pipeline/internal/config"
)

// fullJitter implements backoff.BackOff with the full-jitter schedule.
type fullJitter struct {
	base    time.Duration
	cap     time.Duration
	attempt int

	mu  sync.Mutex
	rnd *rand.Rand
}

func newFullJitter(base, cap time.Duration) *fullJitter {
	return &fullJitter{
		base: base,
		cap:  cap,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter does not need crypto randomness
	}
}

// NextBackOff returns a random delay in [0, min(cap, base*2^attempt)].
func (f *fullJitter) NextBackOff() time.Duration {
	ceil := f.base << f.attempt
	if ceil > f.cap || ceil <= 0 {
		ceil = f.cap
	}
	f.attempt++
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.rnd.Int63n(int64(ceil) + 1))
}

func (f *fullJitter) Reset() { f.attempt = 0 }

// Do runs op under the given policy, sleeping a full-jitter delay between
// attempts. It stops after policy.MaxAttempts attempts, on context
// cancellation, or immediately when op returns a Permanent error.
func Do(ctx context.Context, policy config.RetryPolicy, op func() error) error {
	b := backoff.WithContext(newFullJitter(policy.Base, policy.Cap), ctx)
	maxRetries := uint64(0)
	if policy.MaxAttempts > 1 {
		maxRetries = uint64(policy.MaxAttempts - 1)
	}
	return backoff.Retry(op, backoff.WithMaxRetries(b, maxRetries))
}

// Permanent marks err as non-retriable so Do returns it without further
// attempts (unsupported file type, validation failure, size limit).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
