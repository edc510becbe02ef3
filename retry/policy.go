package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the one retry/backoff policy shared by the command client and
// the backup engine, parameterized per call site.
type Policy struct {
	// MaxAttempts is the total number of tries including the first.
	// Zero or negative means unbounded: retry until ctx is done.
	MaxAttempts int
	// BaseDelay is the initial backoff; doubled per attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter randomizes each delay by ±Jitter fraction.
	Jitter float64
}

// Do runs fn until it succeeds, exhausts MaxAttempts, or ctx is done.
// Errors wrapped with Permanent stop the retry loop immediately.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // bounded by attempts, not wall time

	var policy backoff.BackOff = b
	if p.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.Retry(fn, backoff.WithContext(policy, ctx))
}

// Permanent marks err as non-retryable for Policy.Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
