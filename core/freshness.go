package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTokenExpiringSoonWindow = 5 * time.Minute
	DefaultTokenRefreshLeadWindow  = 5 * time.Minute
)

// TokenState captures access/refresh lifecycle flags derived from a stored
// TokenSet at a given instant.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	CanAutoRefresh  bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// EnsureTokensFreshRequest resolves and conditionally refreshes an account's
// tokens before a provider call.
type EnsureTokensFreshRequest struct {
	AccountID          string
	Tokens             *TokenSet
	RefreshLeadWindow  time.Duration
	ExpiringSoonWindow time.Duration
}

type EnsureTokensFreshResult struct {
	Tokens           TokenSet
	State            TokenState
	RefreshAttempted bool
	Refreshed        bool
}

// ResolveTokenState evaluates expiry and refreshability. Same TokenSet and
// same instant always produce the same state.
func ResolveTokenState(now time.Time, tokens TokenSet, expiringSoonWindow time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultTokenExpiringSoonWindow
	}

	state := TokenState{
		HasAccessToken:  tokens.HasAccessToken(),
		HasRefreshToken: tokens.HasRefreshToken(),
		CanAutoRefresh:  tokens.HasRefreshToken(),
	}
	if tokens.ExpiresAt.IsZero() {
		return state
	}
	expiresAt := tokens.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(expiringSoonWindow))
	return state
}

// ShouldRefreshTokens returns true when a refresh should run before the
// account's next provider operation.
func ShouldRefreshTokens(now time.Time, state TokenState, refreshLeadWindow time.Duration) bool {
	if !state.CanAutoRefresh {
		return false
	}
	if !state.HasAccessToken {
		return true
	}
	if state.ExpiresAt == nil {
		return false
	}
	if refreshLeadWindow <= 0 {
		refreshLeadWindow = DefaultTokenRefreshLeadWindow
	}
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	return !state.ExpiresAt.UTC().After(now.Add(refreshLeadWindow))
}

// EnsureTokensFresh resolves the account's tokens and refreshes when the
// access token is missing, expired, or inside the lead window.
func (s *Service) EnsureTokensFresh(ctx context.Context, req EnsureTokensFreshRequest) (EnsureTokensFreshResult, error) {
	if s == nil {
		return EnsureTokensFreshResult{}, fmt.Errorf("core: service is nil")
	}

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return EnsureTokensFreshResult{}, s.mapError(fmt.Errorf("core: account id is required"))
	}

	expiringSoonWindow := req.ExpiringSoonWindow
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultTokenExpiringSoonWindow
	}
	refreshLeadWindow := req.RefreshLeadWindow
	if refreshLeadWindow <= 0 {
		refreshLeadWindow = DefaultTokenRefreshLeadWindow
	}

	tokens := TokenSet{}
	if req.Tokens != nil {
		tokens = req.Tokens.Clone()
	} else {
		stored, err := s.tokenStore.Retrieve(ctx, accountID)
		if err != nil {
			return EnsureTokensFreshResult{}, s.mapError(err)
		}
		tokens = stored
	}

	now := s.clock()
	state := ResolveTokenState(now, tokens, expiringSoonWindow)
	result := EnsureTokensFreshResult{
		Tokens: tokens,
		State:  state,
	}
	if !ShouldRefreshTokens(now, state, refreshLeadWindow) {
		return result, nil
	}

	result.RefreshAttempted = true
	refreshed, err := s.Refresh(ctx, RefreshRequest{
		AccountID: accountID,
		Method:    RefreshMethodAutomatic,
	})
	if err != nil {
		return result, err
	}

	result.Tokens = refreshed
	result.State = ResolveTokenState(now, refreshed, expiringSoonWindow)
	result.Refreshed = true
	return result, nil
}
