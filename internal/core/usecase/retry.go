package usecase

import (
	"context"
	"time"
)

// RetryPolicy bounds automatic retries of transient failures inside the
// import and publish pipelines. Fatal errors are never retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func (p RetryPolicy) normalize() RetryPolicy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = 500 * time.Millisecond
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = 30 * time.Second
	}
	if out.Multiplier < 1.0 {
		out.Multiplier = 2.0
	}
	return out
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		wait = time.Duration(float64(wait) * p.Multiplier)
		if wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
