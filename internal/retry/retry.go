// Package retry implements the exponential-backoff retry policy used by
// every network-facing component (C1), generalized from the domain
// specific loop in internal/shards/researcher/retry.go into a
// type-parameterized helper.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"spectree/internal/errkind"
)

// Profile configures a retry sequence.
type Profile struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         bool

	// BackoffMultiplier scales the delay after each attempt. Zero means
	// the default doubling (multiplier 2).
	BackoffMultiplier float64
}

// DefaultProfile is used for general planning-service calls.
var DefaultProfile = Profile{
	MaxRetries:        3,
	InitialBackoff:    500 * time.Millisecond,
	MaxBackoff:        10 * time.Second,
	Jitter:            true,
	BackoffMultiplier: 2,
}

// RateLimitProfile is used when the planning service responds 429.
var RateLimitProfile = Profile{
	MaxRetries:        5,
	InitialBackoff:    5 * time.Second,
	MaxBackoff:        60 * time.Second,
	Jitter:            true,
	BackoffMultiplier: 2,
}

// ReadOperationProfile is used for idempotent GET-style calls, which can
// tolerate a few more attempts at a gentler backoff.
var ReadOperationProfile = Profile{
	MaxRetries:        4,
	InitialBackoff:    250 * time.Millisecond,
	MaxBackoff:        5 * time.Second,
	Jitter:            true,
	BackoffMultiplier: 2,
}

// ErrExhausted is wrapped into the final returned error once all retries
// have been spent.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Classifier decides whether an error is worth retrying. Components may
// supply their own; the default defers to errkind.Error's own Retryable
// axis and treats everything else as terminal.
type Classifier func(error) bool

// DefaultClassifier retries only errors explicitly marked retryable.
func DefaultClassifier(err error) bool {
	var ke *errkind.Error
	if errors.As(err, &ke) {
		return ke.Retryable()
	}
	return false
}

// AlwaysRetry retries any non-nil error. Used by callers implementing
// their own policy-driven retry count (e.g. a WorkItem's explicit
// retry_up_to(k) failure policy), where the decision to retry has
// already been made upstream and only the attempt count matters here.
func AlwaysRetry(err error) bool { return err != nil }

// OnRetryFunc is notified before each backoff sleep, with the attempt
// number that just failed (0-indexed), the delay about to be slept, and
// the error that triggered the retry. Callers use it to log or to
// populate a worktype.RetryAttempt record.
type OnRetryFunc func(attempt int, delay time.Duration, err error)

// Option configures a single Do/DoDetailed call.
type Option func(*settings)

type settings struct {
	onRetry OnRetryFunc
}

// WithOnRetry registers a hook invoked once per retry (not on the final,
// non-retried failure).
func WithOnRetry(fn OnRetryFunc) Option {
	return func(s *settings) { s.onRetry = fn }
}

// Result carries the outcome of a DoDetailed call alongside bookkeeping
// a caller needs to record (e.g. into a checkpoint).
type Result[T any] struct {
	Value       T
	Attempts    int
	TotalTimeMs int64
}

// Do runs fn, retrying per profile while classify(err) reports the error
// as retryable. It respects ctx cancellation between attempts and never
// retries past ctx.Done().
func Do[T any](ctx context.Context, profile Profile, classify Classifier, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	res, err := DoDetailed(ctx, profile, classify, fn, opts...)
	return res.Value, err
}

// DoDetailed behaves like Do but also reports how many attempts were made
// and the total wall-clock time spent across the whole sequence,
// including backoff sleeps.
func DoDetailed[T any](ctx context.Context, profile Profile, classify Classifier, fn func(context.Context) (T, error), opts ...Option) (Result[T], error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if classify == nil {
		classify = DefaultClassifier
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= profile.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return Result[T]{Attempts: attempt, TotalTimeMs: time.Since(start).Milliseconds()}, ctx.Err()
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return Result[T]{Value: result, Attempts: attempt + 1, TotalTimeMs: time.Since(start).Milliseconds()}, nil
		}
		lastErr = err

		if attempt == profile.MaxRetries || !classify(err) {
			return Result[T]{Attempts: attempt + 1, TotalTimeMs: time.Since(start).Milliseconds()}, lastErr
		}

		delay := calculateBackoff(profile, attempt)
		if s.onRetry != nil {
			s.onRetry(attempt, delay, err)
		}
		select {
		case <-ctx.Done():
			return Result[T]{Attempts: attempt + 1, TotalTimeMs: time.Since(start).Milliseconds()}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return Result[T]{Attempts: profile.MaxRetries + 1, TotalTimeMs: time.Since(start).Milliseconds()}, errors.Join(ErrExhausted, lastErr)
}

func calculateBackoff(profile Profile, attempt int) time.Duration {
	multiplier := profile.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	backoff := profile.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > profile.MaxBackoff {
			backoff = profile.MaxBackoff
			break
		}
	}
	if !profile.Jitter {
		return backoff
	}
	lo := float64(backoff) * 0.75
	hi := float64(backoff) * 1.25
	return time.Duration(lo + rand.Float64()*(hi-lo))
}
