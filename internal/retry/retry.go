package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

// Options configures Do. Zero values take the defaults below.
type Options struct {
	// MaxAttempts is the total number of calls, first attempt included.
	MaxAttempts int

	// BaseDelay is the wait before the first retry; each subsequent retry
	// doubles it (BaseDelay * 2^(attempt-1)).
	BaseDelay time.Duration

	// MaxDelay caps a single backoff wait when > 0.
	MaxDelay time.Duration

	// Jitter enables deterministic seeded jitter in [0.5x, 1.5x]. Off by
	// default so observed delays are exact.
	Jitter     bool
	JitterSeed string

	// Sleep is swapped in tests to observe delays. Defaults to a
	// context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// Do runs fn up to MaxAttempts times. A failure classified non-retryable is
// returned immediately with no delay; any other class waits the exponential
// backoff and retries. After exhaustion the last error is returned unchanged
// so callers keep its identity.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	opts.applyDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ClassifyError(lastErr) == ClassNonRetryable {
			return lastErr
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := opts.Sleep(ctx, DelayForAttempt(attempt, opts)); err != nil {
			return err
		}
	}
	return lastErr
}

// DelayForAttempt computes the wait after the n-th failed attempt
// (1-indexed): BaseDelay * 2^(attempt-1), capped, optionally jittered.
func DelayForAttempt(attempt int, opts Options) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(opts.BaseDelay) * math.Pow(2, float64(attempt-1))
	if opts.MaxDelay > 0 {
		base = math.Min(base, float64(opts.MaxDelay))
	}
	if opts.Jitter {
		base *= 0.5 + jitterUnit(opts.JitterSeed, attempt)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

func jitterUnit(seed string, attempt int) float64 {
	buf := make([]byte, 0, len(seed)+8)
	buf = append(buf, seed...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(attempt))
	sum := sha256.Sum256(buf)
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
