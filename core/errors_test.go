package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestCategoryRetryable(t *testing.T) {
	retryable := []Category{CategoryNetwork, CategoryRateLimit, CategoryQuota, CategoryTimeout}
	for _, category := range retryable {
		if !category.Retryable() {
			t.Fatalf("expected %q to be retryable", category)
		}
	}
	terminal := []Category{CategoryConfiguration, CategoryValidation, CategoryAuthentication, CategoryUnknown}
	for _, category := range terminal {
		if category.Retryable() {
			t.Fatalf("expected %q to be non-retryable", category)
		}
	}
}

func TestClassifiedError_ToServiceError(t *testing.T) {
	hint := 30 * time.Second
	classified := &ClassifiedError{
		Category:   CategoryRateLimit,
		Message:    "too many requests",
		Retryable:  true,
		RetryAfter: &hint,
		StatusCode: 429,
	}

	svcErr := classified.ToServiceError()
	if svcErr.TextCode != MailauthErrorRateLimited {
		t.Fatalf("expected %q, got %q", MailauthErrorRateLimited, svcErr.TextCode)
	}
	if svcErr.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %q", svcErr.Category)
	}
	if svcErr.Metadata["retry_after_ms"] != int64(30000) {
		t.Fatalf("expected retry_after_ms metadata, got %v", svcErr.Metadata["retry_after_ms"])
	}

	// The envelope must still unwrap to the original classification.
	recovered, ok := AsClassified(svcErr)
	if !ok {
		t.Fatalf("expected classified error behind service envelope")
	}
	if recovered.Category != CategoryRateLimit {
		t.Fatalf("expected rate limit classification, got %q", recovered.Category)
	}
}

func TestClassifiedError_ReauthTextCode(t *testing.T) {
	classified := &ClassifiedError{
		Category:                 CategoryAuthentication,
		Message:                  "refresh token revoked",
		RequiresReauthentication: true,
	}
	svcErr := classified.ToServiceError()
	if svcErr.TextCode != MailauthErrorReauthRequired {
		t.Fatalf("expected %q, got %q", MailauthErrorReauthRequired, svcErr.TextCode)
	}
	if svcErr.Metadata["requires_reauthentication"] != true {
		t.Fatalf("expected reauthentication metadata flag")
	}
}

func TestMailauthErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		textCode string
	}{
		{"missing config", errors.New("core: missing required config fields: client_id"), MailauthErrorConfiguration},
		{"state mismatch", errors.New("callback state did not match a pending authorization"), MailauthErrorStateMismatch},
		{"refresh lock", errors.New("core: refresh lock already held for account \"acct-1\""), MailauthErrorRefreshLocked},
		{"throttled", errors.New("provider throttled the request"), MailauthErrorRateLimited},
		{"validation", errors.New("account id is required"), MailauthErrorBadInput},
	}

	for _, tc := range cases {
		mapped := mailauthErrorMapper(tc.err)
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.textCode, mapped.TextCode)
		}
		if mapped.Code == 0 {
			t.Fatalf("%s: expected HTTP status code on envelope", tc.name)
		}
	}
}

func TestMailauthErrorMapper_PreservesClassification(t *testing.T) {
	classified := &ClassifiedError{
		Category:  CategoryNetwork,
		Message:   "connection reset",
		Retryable: true,
	}
	wrapped := fmt.Errorf("refresh tokens: %w", classified)

	mapped := mailauthErrorMapper(wrapped)
	if mapped.TextCode != MailauthErrorNetwork {
		t.Fatalf("expected %q, got %q", MailauthErrorNetwork, mapped.TextCode)
	}
	if !IsRetryable(mapped) {
		t.Fatalf("retryability must survive the envelope")
	}
}

func TestRetryAfterHint(t *testing.T) {
	if _, ok := RetryAfterHint(errors.New("plain")); ok {
		t.Fatalf("plain errors must not carry a retry hint")
	}
	hint := 5 * time.Second
	classified := &ClassifiedError{Category: CategoryRateLimit, Retryable: true, RetryAfter: &hint}
	got, ok := RetryAfterHint(classified)
	if !ok || got != hint {
		t.Fatalf("expected %v hint, got %v ok=%v", hint, got, ok)
	}
}
