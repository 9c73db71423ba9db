package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRefreshMaxAttempts    = 3
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
)

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type RefreshRunResult struct {
	Attempts      int
	PendingReauth bool
	Tokens        TokenSet
	Metadata      RefreshMetadata
}

type RefreshRunOptions struct {
	MaxAttempts int
	LockTTL     time.Duration
	// Method tags the run's audit metadata; defaults to automatic.
	Method string
}

// RunRefreshWithRetry refreshes under the account lock with bounded
// retries. Unrecoverable failures transition the account to
// reauth_required instead of burning the remaining attempts.
func (s *Service) RunRefreshWithRetry(ctx context.Context, req RefreshRequest, opts RefreshRunOptions) (RefreshRunResult, error) {
	if s == nil {
		return RefreshRunResult{}, fmt.Errorf("core: service is nil")
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return RefreshRunResult{}, s.mapError(fmt.Errorf("core: account id is required"))
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRefreshMaxAttempts
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultRefreshLockTTL
	}
	method := strings.TrimSpace(opts.Method)
	if method == "" {
		method = RefreshMethodAutomatic
	}

	unlock := func() {}
	if s.accountLocker != nil {
		lockHandle, lockErr := s.accountLocker.Acquire(ctx, accountID, lockTTL)
		if lockErr != nil {
			return RefreshRunResult{}, s.mapError(lockErr)
		}
		unlock = func() {
			_ = lockHandle.Unlock(ctx)
		}
	}
	defer unlock()

	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tokens, err := s.Refresh(ctx, req)
		if err == nil {
			return RefreshRunResult{
				Attempts: attempt,
				Tokens:   tokens,
				Metadata: RefreshMetadata{
					RefreshedAt:   s.clock(),
					Method:        method,
					Duration:      time.Since(started),
					AttemptNumber: attempt,
				},
			}, nil
		}
		lastErr = err

		if isUnrecoverableRefreshError(err) {
			_ = s.transitionAccountToReauthRequired(ctx, accountID, err)
			return RefreshRunResult{Attempts: attempt, PendingReauth: true}, s.mapError(err)
		}
		if attempt == maxAttempts {
			_ = s.transitionAccountToReauthRequired(ctx, accountID, err)
			return RefreshRunResult{Attempts: attempt, PendingReauth: true}, s.mapError(err)
		}

		delay := defaultRefreshInitialBackoff
		if s.refreshBackoffScheduler != nil {
			delay = s.refreshBackoffScheduler.NextDelay(attempt)
		}
		if classified, ok := AsClassified(err); ok && classified.RetryAfter != nil {
			delay = *classified.RetryAfter
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return RefreshRunResult{Attempts: attempt}, s.mapError(waitErr)
		}
	}

	return RefreshRunResult{Attempts: maxAttempts}, s.mapError(lastErr)
}

func (s *Service) transitionAccountToReauthRequired(ctx context.Context, accountID string, source error) error {
	if s == nil || s.accountStore == nil {
		return nil
	}
	reason := strings.TrimSpace(fmt.Sprint(source))
	if reason == "" {
		reason = "refresh failed"
	}
	return s.accountStore.UpdateStatus(ctx, accountID, AccountStatusReauthRequired, reason)
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	if classified, ok := AsClassified(err); ok {
		if classified.RequiresReauthentication {
			return true
		}
		switch classified.Category {
		case CategoryAuthentication, CategoryValidation, CategoryConfiguration:
			return true
		}
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation, goerrors.CategoryNotFound:
			return true
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "reauthorization required") ||
		strings.Contains(msg, "re-auth required")
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
