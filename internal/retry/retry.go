// Package retry runs an operation a bounded number of times with exponential
// backoff and reports how the sequence ended.
package retry

import (
	"context"
	"time"
)

// Outcome describes how a retry sequence ended.
type Outcome int

const (
	// Succeeded means one attempt returned nil.
	Succeeded Outcome = iota
	// Exhausted means every permitted attempt failed with a retryable error.
	Exhausted
	// Aborted means a non-retryable error or context cancellation stopped the sequence early.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Policy bounds a retry sequence.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Retryable decides whether an error warrants another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnFailure observes every failed attempt (1-based) before the next delay.
	OnFailure func(attempt int, err error)
}

// Result reports the outcome of Do.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// OK reports whether the operation eventually succeeded.
func (r Result) OK() bool {
	return r.Outcome == Succeeded
}

// Do runs op until it succeeds, the policy's attempts are used up, op returns a
// non-retryable error, or ctx is done.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Aborted, Attempts: attempt - 1, Err: err}
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return Result{Outcome: Succeeded, Attempts: attempt}
		}
		if p.OnFailure != nil {
			p.OnFailure(attempt, lastErr)
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return Result{Outcome: Aborted, Attempts: attempt, Err: lastErr}
		}
		if attempt == attempts {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Result{Outcome: Aborted, Attempts: attempt, Err: ctx.Err()}
			}
			if next := delay * 2; p.MaxDelay <= 0 || next <= p.MaxDelay {
				delay = next
			} else {
				delay = p.MaxDelay
			}
		}
	}
	return Result{Outcome: Exhausted, Attempts: attempts, Err: lastErr}
}
