package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Category is the closed set of failure classes the module emits. The
// invocation layer retries only categories whose Retryable() is true.
type Category string

const (
	CategoryConfiguration  Category = "configuration"
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryNetwork        Category = "network"
	CategoryRateLimit      Category = "rate_limit"
	CategoryQuota          Category = "quota"
	CategoryTimeout        Category = "timeout"
	CategoryUnknown        Category = "unknown"
)

func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryRateLimit, CategoryQuota, CategoryTimeout:
		return true
	default:
		return false
	}
}

const (
	MailauthErrorConfiguration  = "MAILAUTH_CONFIGURATION"
	MailauthErrorBadInput       = "MAILAUTH_BAD_INPUT"
	MailauthErrorStateMismatch  = "MAILAUTH_STATE_MISMATCH"
	MailauthErrorAuthFailed     = "MAILAUTH_AUTH_FAILED"
	MailauthErrorReauthRequired = "MAILAUTH_REAUTH_REQUIRED"
	MailauthErrorNetwork        = "MAILAUTH_NETWORK"
	MailauthErrorRateLimited    = "MAILAUTH_RATE_LIMITED"
	MailauthErrorQuotaExceeded  = "MAILAUTH_QUOTA_EXCEEDED"
	MailauthErrorTimeout        = "MAILAUTH_TIMEOUT"
	MailauthErrorRefreshLocked  = "MAILAUTH_REFRESH_LOCKED"
	MailauthErrorInternal       = "MAILAUTH_INTERNAL_ERROR"
)

// ClassifiedError is the classified form of any failure crossing the module
// boundary: token endpoint rejections, provider API failures, transport
// errors. Retryable and RetryAfter drive the invocation layer;
// RequiresReauthentication tells the caller that retrying will not help.
type ClassifiedError struct {
	Category                 Category
	Message                  string
	Retryable                bool
	RetryAfter               *time.Duration
	RequiresReauthentication bool
	StatusCode               int
	Cause                    error
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" && e.Cause != nil {
		message = e.Cause.Error()
	}
	if message == "" {
		message = "unclassified failure"
	}
	return fmt.Sprintf("core: %s: %s", e.Category, message)
}

func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ToServiceError converts into the go-errors envelope used across the
// goliatone ecosystem, carrying classification facts as metadata.
func (e *ClassifiedError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	metadata := map[string]any{
		"category":  string(e.Category),
		"retryable": e.Retryable,
	}
	if e.RetryAfter != nil {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	if e.RequiresReauthentication {
		metadata["requires_reauthentication"] = true
	}
	if e.StatusCode > 0 {
		metadata["status_code"] = e.StatusCode
	}
	return goerrors.Wrap(e, goerrorsCategory(e.Category), e.Error()).
		WithCode(categoryHTTPStatus(e.Category)).
		WithTextCode(categoryTextCode(e)).
		WithMetadata(metadata)
}

// AsClassified unwraps err down to a ClassifiedError when one is present.
func AsClassified(err error) (*ClassifiedError, bool) {
	if err == nil {
		return nil, false
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	if classified, ok := AsClassified(err); ok {
		return classified.Retryable
	}
	return false
}

func RequiresReauthentication(err error) bool {
	if classified, ok := AsClassified(err); ok {
		return classified.RequiresReauthentication
	}
	return false
}

// RetryAfterHint returns the server-provided wait hint, when any.
func RetryAfterHint(err error) (time.Duration, bool) {
	classified, ok := AsClassified(err)
	if !ok || classified.RetryAfter == nil {
		return 0, false
	}
	return *classified.RetryAfter, true
}

func goerrorsCategory(category Category) goerrors.Category {
	switch category {
	case CategoryConfiguration:
		return goerrors.CategoryBadInput
	case CategoryValidation:
		return goerrors.CategoryValidation
	case CategoryAuthentication:
		return goerrors.CategoryAuth
	case CategoryNetwork:
		return goerrors.CategoryExternal
	case CategoryRateLimit, CategoryQuota:
		return goerrors.CategoryRateLimit
	case CategoryTimeout:
		return goerrors.CategoryOperation
	default:
		return goerrors.CategoryInternal
	}
}

func categoryHTTPStatus(category Category) int {
	switch category {
	case CategoryConfiguration, CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryNetwork:
		return http.StatusBadGateway
	case CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryQuota:
		return http.StatusForbidden
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func categoryTextCode(e *ClassifiedError) string {
	switch e.Category {
	case CategoryConfiguration:
		return MailauthErrorConfiguration
	case CategoryValidation:
		if strings.Contains(strings.ToLower(e.Message), "state") {
			return MailauthErrorStateMismatch
		}
		return MailauthErrorBadInput
	case CategoryAuthentication:
		if e.RequiresReauthentication {
			return MailauthErrorReauthRequired
		}
		return MailauthErrorAuthFailed
	case CategoryNetwork:
		return MailauthErrorNetwork
	case CategoryRateLimit:
		return MailauthErrorRateLimited
	case CategoryQuota:
		return MailauthErrorQuotaExceeded
	case CategoryTimeout:
		return MailauthErrorTimeout
	default:
		return MailauthErrorInternal
	}
}

func mailauthErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	if classified, ok := AsClassified(err); ok {
		return classified.ToServiceError()
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "missing required config"), strings.Contains(msg, "is not configured"):
		return newMailauthError(err.Error(), goerrors.CategoryBadInput, MailauthErrorConfiguration)
	case strings.Contains(msg, "state"):
		return newMailauthError(err.Error(), goerrors.CategoryAuth, MailauthErrorStateMismatch)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newMailauthError(err.Error(), goerrors.CategoryConflict, MailauthErrorRefreshLocked)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newMailauthError(err.Error(), goerrors.CategoryRateLimit, MailauthErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newMailauthError(err.Error(), goerrors.CategoryBadInput, MailauthErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newMailauthError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = envelopeHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = envelopeTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func envelopeTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return MailauthErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return MailauthErrorAuthFailed
	case goerrors.CategoryConflict:
		return MailauthErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return MailauthErrorRateLimited
	case goerrors.CategoryExternal:
		return MailauthErrorNetwork
	case goerrors.CategoryOperation:
		return MailauthErrorTimeout
	default:
		return MailauthErrorInternal
	}
}

func envelopeHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
