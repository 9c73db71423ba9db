package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-mailauth/core"
)

// Classifier turns a raw operation failure into a ClassifiedError. The
// default accepts failures that already carry a classification and runs
// transport classification on everything else.
type Classifier func(err error) *core.ClassifiedError

// Executor runs fallible remote calls under a Policy. Attempts are
// strictly sequential; independent Execute calls may run concurrently and
// share no mutable state beyond Random, which must be concurrency safe.
type Executor struct {
	Policy   Policy
	Random   core.RandomSource
	Logger   core.Logger
	Classify Classifier
	Now      func() time.Time

	// wait is swapped in tests to observe delays without sleeping.
	wait func(ctx context.Context, delay time.Duration) error
}

func NewExecutor(policy Policy, options ...ExecutorOption) *Executor {
	executor := &Executor{
		Policy:   policy.normalize(),
		Random:   core.CryptoRandomSource{},
		Logger:   glog.Nop(),
		Classify: defaultClassifier,
		Now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(executor)
	}
	return executor
}

type ExecutorOption func(*Executor)

func WithRandomSource(source core.RandomSource) ExecutorOption {
	return func(e *Executor) {
		if source != nil {
			e.Random = source
		}
	}
}

func WithLogger(logger core.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.Logger = logger
		}
	}
}

func WithClassifier(classify Classifier) ExecutorOption {
	return func(e *Executor) {
		if classify != nil {
			e.Classify = classify
		}
	}
}

func WithNow(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.Now = now
		}
	}
}

func defaultClassifier(err error) *core.ClassifiedError {
	if err == nil {
		return nil
	}
	if classified, ok := core.AsClassified(err); ok {
		return classified
	}
	return core.ClassifyTransportError(err)
}

// Execute runs op until it succeeds, fails unrecoverably, or the attempt
// limit is reached. Cancellation before an attempt or during a backoff wait
// returns a timeout-category failure distinct from the last API error.
func (e *Executor) Execute(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	if e == nil {
		return fmt.Errorf("retry: executor is nil")
	}
	if op == nil {
		return fmt.Errorf("retry: operation func is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	policy := e.Policy.normalize()
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if cancelled := ctx.Err(); cancelled != nil {
			return cancellationError(cancelled)
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.logInfo(ctx, "operation recovered after retry",
					"operation", operation,
					"attempt", attempt,
				)
			}
			return nil
		}

		classified := e.classify(err)
		lastErr = classified

		if !classified.Retryable {
			e.logError(ctx, "operation failed with non-retryable error",
				"operation", operation,
				"attempt", attempt,
				"category", string(classified.Category),
			)
			return classified
		}
		if attempt == policy.MaxAttempts {
			e.logError(ctx, "operation failed after exhausting attempts",
				"operation", operation,
				"attempts", attempt,
				"category", string(classified.Category),
			)
			return classified
		}

		delay := e.resolveDelay(policy, attempt-1, classified)
		e.logInfo(ctx, "operation failed, backing off",
			"operation", operation,
			"attempt", attempt,
			"category", string(classified.Category),
			"delay_ms", delay.Milliseconds(),
		)
		if waitErr := e.doWait(ctx, delay); waitErr != nil {
			return cancellationError(waitErr)
		}
	}

	return lastErr
}

// Execute runs op through executor and returns its value. Methods cannot
// carry type parameters, so the generic form lives at package level.
func Execute[T any](ctx context.Context, executor *Executor, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	if op == nil {
		return result, fmt.Errorf("retry: operation func is required")
	}
	err := executor.Execute(ctx, operation, func(ctx context.Context) error {
		value, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// resolveDelay prefers the server's Retry-After hint over the computed
// backoff. A bare 429 with no hint gets the fixed fallback wait.
func (e *Executor) resolveDelay(policy Policy, attemptIndex int, classified *core.ClassifiedError) time.Duration {
	if classified != nil {
		if classified.RetryAfter != nil && *classified.RetryAfter > 0 {
			return *classified.RetryAfter
		}
		if classified.StatusCode == http.StatusTooManyRequests {
			return DefaultRateLimitFallbackDelay
		}
	}
	return policy.Delay(attemptIndex, e.randomFloat())
}

func (e *Executor) classify(err error) *core.ClassifiedError {
	classify := e.Classify
	if classify == nil {
		classify = defaultClassifier
	}
	classified := classify(err)
	if classified == nil {
		classified = &core.ClassifiedError{
			Category:  core.CategoryUnknown,
			Message:   err.Error(),
			Retryable: false,
			Cause:     err,
		}
	}
	return classified
}

func (e *Executor) randomFloat() float64 {
	if e == nil || e.Random == nil {
		return 0
	}
	return e.Random.Float64()
}

func (e *Executor) doWait(ctx context.Context, delay time.Duration) error {
	if e != nil && e.wait != nil {
		return e.wait(ctx, delay)
	}
	return waitWithContext(ctx, delay)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cancellationError(cause error) error {
	return &core.ClassifiedError{
		Category:  core.CategoryTimeout,
		Message:   "operation cancelled before completion",
		Retryable: false,
		Cause:     cause,
	}
}

func (e *Executor) logInfo(ctx context.Context, message string, args ...any) {
	if e == nil || e.Logger == nil {
		return
	}
	logger := e.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Info(message, args...)
}

func (e *Executor) logError(ctx context.Context, message string, args ...any) {
	if e == nil || e.Logger == nil {
		return
	}
	logger := e.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Error(message, args...)
}
