package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider error codes that signal throttling or quota exhaustion
// regardless of the response message wording.
var quotaErrorCodes = map[string]struct{}{
	"ratelimitexceeded":     {},
	"userratelimitexceeded": {},
	"quotaexceeded":         {},
	"dailylimitexceeded":    {},
}

var tooManyRequestsCodes = map[string]struct{}{
	"toomanyrequests": {},
	"too_many_requests": {},
}

// ClassifyInput carries everything known about a failed call. StatusCode
// is zero when the failure never produced an HTTP response.
type ClassifyInput struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Headers    map[string]string
	RetryAfter *time.Duration
	Err        error
}

// Classify maps a raw failure into a ClassifiedError. It is a pure
// function of its input: same input, same classification.
func Classify(input ClassifyInput) *ClassifiedError {
	message := strings.TrimSpace(input.Message)
	if message == "" && input.Err != nil {
		message = input.Err.Error()
	}

	if isRateLimited(input) {
		classified := &ClassifiedError{
			Category:   CategoryRateLimit,
			Message:    messageOr(message, "provider rejected the call with too many requests"),
			Retryable:  true,
			StatusCode: input.StatusCode,
			Cause:      input.Err,
		}
		if hint, ok := retryAfterHint(input, time.Now().UTC()); ok {
			classified.RetryAfter = &hint
		}
		return classified
	}

	if isQuotaExhausted(input) {
		classified := &ClassifiedError{
			Category:   CategoryQuota,
			Message:    messageOr(message, "provider quota exhausted"),
			Retryable:  true,
			StatusCode: input.StatusCode,
			Cause:      input.Err,
		}
		if hint, ok := retryAfterHint(input, time.Now().UTC()); ok {
			classified.RetryAfter = &hint
		}
		return classified
	}

	if input.StatusCode == http.StatusUnauthorized {
		return &ClassifiedError{
			Category:                 CategoryAuthentication,
			Message:                  messageOr(message, "provider rejected the credentials"),
			Retryable:                false,
			RequiresReauthentication: true,
			StatusCode:               input.StatusCode,
			Cause:                    input.Err,
		}
	}

	if input.StatusCode == 0 && input.Err != nil {
		if isTimeoutError(input.Err) {
			return &ClassifiedError{
				Category:  CategoryTimeout,
				Message:   messageOr(message, "call timed out"),
				Retryable: true,
				Cause:     input.Err,
			}
		}
		if isNetworkError(input.Err) {
			return &ClassifiedError{
				Category:  CategoryNetwork,
				Message:   messageOr(message, "network failure reaching the provider"),
				Retryable: true,
				Cause:     input.Err,
			}
		}
	}

	return &ClassifiedError{
		Category:   CategoryUnknown,
		Message:    messageOr(message, "unclassified failure"),
		Retryable:  false,
		StatusCode: input.StatusCode,
		Cause:      input.Err,
	}
}

// ClassifyHTTPFailure is the transport-facing entry point: derive the
// classification from a non-2xx response without consuming its body twice.
func ClassifyHTTPFailure(statusCode int, errorCode, message string, headers http.Header) *ClassifiedError {
	flat := map[string]string{}
	for key := range headers {
		flat[key] = headers.Get(key)
	}
	return Classify(ClassifyInput{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Headers:    flat,
	})
}

// ClassifyTransportError wraps a failure produced before any HTTP status
// existed, such as DNS resolution or a refused connection.
func ClassifyTransportError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	if classified, ok := AsClassified(err); ok {
		return classified
	}
	return Classify(ClassifyInput{Err: err})
}

func isRateLimited(input ClassifyInput) bool {
	if input.StatusCode == http.StatusTooManyRequests {
		return true
	}
	code := normalizeErrorCode(input.ErrorCode)
	_, ok := tooManyRequestsCodes[code]
	return ok
}

func isQuotaExhausted(input ClassifyInput) bool {
	code := normalizeErrorCode(input.ErrorCode)
	if _, ok := quotaErrorCodes[code]; ok {
		return true
	}
	if input.StatusCode != http.StatusForbidden {
		return false
	}
	message := strings.ToLower(input.Message)
	return strings.Contains(message, "quota") || strings.Contains(message, "rate")
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "connection refused") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "no such host") ||
		strings.Contains(message, "broken pipe") ||
		strings.Contains(message, "eof")
}

func retryAfterHint(input ClassifyInput, now time.Time) (time.Duration, bool) {
	if input.RetryAfter != nil && *input.RetryAfter > 0 {
		return *input.RetryAfter, true
	}
	raw := headerValue(input.Headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := httpDate(raw); err == nil {
		if retryAt.After(now) {
			return retryAt.Sub(now), true
		}
	}
	return 0, false
}

func httpDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("core: empty date")
	}
	if parsed, err := time.Parse(time.RFC1123, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("core: invalid http date")
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeErrorCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func messageOr(message, fallback string) string {
	if strings.TrimSpace(message) != "" {
		return message
	}
	return fallback
}
