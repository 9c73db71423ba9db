package auth

import (
	"strings"
	"time"

	"github.com/goliatone/go-mailauth/core"
)

// ValidateTokens runs the structural and expiry checks on a TokenSet at a
// given instant. It never mutates state and never performs I/O; the same
// set and instant always produce the same outcome. An empty prefix skips
// the format check.
func ValidateTokens(tokens core.TokenSet, now time.Time, accessTokenPrefix string) error {
	if !tokens.HasAccessToken() {
		return &core.ClassifiedError{
			Category:  core.CategoryValidation,
			Message:   "access token is empty",
			Retryable: false,
		}
	}
	prefix := strings.TrimSpace(accessTokenPrefix)
	if prefix != "" && !strings.HasPrefix(strings.TrimSpace(tokens.AccessToken), prefix) {
		return &core.ClassifiedError{
			Category:  core.CategoryValidation,
			Message:   "access token does not match the provider format",
			Retryable: false,
		}
	}
	if !tokens.ExpiresAt.IsZero() && !tokens.ExpiresAt.After(now.UTC()) {
		return &core.ClassifiedError{
			Category:                 core.CategoryAuthentication,
			Message:                  "access token is expired",
			Retryable:                false,
			RequiresReauthentication: !tokens.HasRefreshToken(),
		}
	}
	return nil
}

// WillExpireSoon reports whether the set expires at or before now+window.
func WillExpireSoon(tokens core.TokenSet, now time.Time, window time.Duration) bool {
	return tokens.ExpiresWithin(now, window)
}
