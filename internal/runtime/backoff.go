package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	configpkg "github.com/drblury/moviebus/internal/runtime/config"
)

// newBackOff returns the delay schedule for a retry policy: a constant
// delay when the bounds are equal, exponential growth up to MaxBackoff
// otherwise.
func newBackOff(policy configpkg.RetryPolicy) backoff.BackOff {
	if policy.MaxBackoff <= policy.InitialBackoff {
		return backoff.NewConstantBackOff(policy.InitialBackoff)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.MaxInterval = policy.MaxBackoff
	b.Reset()
	return b
}

// exhausted reports whether attempt exceeds the policy's ceiling.
func exhausted(policy configpkg.RetryPolicy, attempt int) bool {
	return !policy.Unbounded() && attempt > policy.MaxAttempts
}

// sleepContext waits for d or until ctx is done. It reports whether the
// full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
