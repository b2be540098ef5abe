package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func retryOnlyConfig(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig(3))

	attempts := 0
	errTemp := errors.New("folder listing: status 503")
	err := exec.Execute(context.Background(), "folder.list", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig(3))

	attempts := 0
	errPermanent := errors.New("parser: bad request")
	err := exec.Execute(context.Background(), "parser.parse", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteRetriesWhenAttemptDeadlineExpires(t *testing.T) {
	cfg := retryOnlyConfig(2)
	cfg.AttemptTimeout = 10 * time.Millisecond
	exec := NewExecutor(cfg)

	attempts := 0
	err := exec.Execute(context.Background(), "parser.parse", func(attemptCtx context.Context) error {
		attempts++
		if attempts == 1 {
			// A stuck upstream: block until the attempt deadline fires.
			<-attemptCtx.Done()
			return attemptCtx.Err()
		}
		return nil
	}, ClassifyDomainError)
	if err != nil {
		t.Fatalf("expected success after timed-out attempt, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteHonoursCallerCancellation(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := exec.Execute(ctx, "folder.list", func(context.Context) error {
		attempts++
		return nil
	}, ClassifyDomainError)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Fatalf("cancelled caller must not reach the operation, got %d attempts", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("cms: status 502")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "cms.publish", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected upstream error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "cms.publish", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if state := exec.BreakerState("cms.publish"); state != gobreaker.StateOpen {
		t.Fatalf("expected open breaker state, got %v", state)
	}
	if state := exec.BreakerState("folder.list"); state != gobreaker.StateClosed {
		t.Fatalf("untouched operation should report closed, got %v", state)
	}
}
