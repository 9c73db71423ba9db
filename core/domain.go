package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidAccountStatusTransition = errors.New("core: invalid account status transition")
	ErrTokenSetNotFound               = errors.New("core: token set not found")
)

// TokenSet is the credential issued by a token exchange or refresh. It is
// replaced wholesale on every refresh, never mutated field by field.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	IssuedAt     time.Time `json:"issued_at"`
}

func (t TokenSet) HasAccessToken() bool {
	return strings.TrimSpace(t.AccessToken) != ""
}

func (t TokenSet) HasRefreshToken() bool {
	return strings.TrimSpace(t.RefreshToken) != ""
}

// ExpiresWithin reports whether the set expires at or before now+window.
func (t TokenSet) ExpiresWithin(now time.Time, window time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !t.ExpiresAt.After(now.UTC().Add(window))
}

func (t TokenSet) Clone() TokenSet {
	cloned := t
	cloned.Scopes = append([]string(nil), t.Scopes...)
	return cloned
}

const (
	RefreshMethodAutomatic = "automatic"
	RefreshMethodManual    = "manual"
)

// RefreshMetadata is an ephemeral audit record attached to a refresh
// result; the core never persists it.
type RefreshMetadata struct {
	RefreshedAt   time.Time
	Method        string
	Duration      time.Duration
	AttemptNumber int
}

// PendingAuthorization couples the CSRF state with the PKCE verifier it was
// issued alongside. The pair is single-use: Consume removes it regardless of
// the exchange outcome.
type PendingAuthorization struct {
	State        string
	CodeVerifier string
	AccountID    string
	Scopes       []string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (p PendingAuthorization) clone() PendingAuthorization {
	cloned := p
	cloned.Scopes = append([]string(nil), p.Scopes...)
	return cloned
}

type AccountStatus string

const (
	AccountStatusUnauthenticated      AccountStatus = "unauthenticated"
	AccountStatusAuthorizationPending AccountStatus = "authorization_pending"
	AccountStatusAuthenticated        AccountStatus = "authenticated"
	AccountStatusRefreshing           AccountStatus = "refreshing"
	AccountStatusReauthRequired       AccountStatus = "reauth_required"
)

type Account struct {
	ID        string
	Email     string
	Status    AccountStatus
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Account) TransitionTo(status AccountStatus, reason string, now time.Time) error {
	if a == nil {
		return nil
	}
	if a.Status == status {
		a.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			a.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !accountTransitionAllowed(a.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidAccountStatusTransition, a.Status, status)
	}
	a.Status = status
	a.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		a.LastError = strings.TrimSpace(reason)
	}
	if status == AccountStatusAuthenticated {
		a.LastError = ""
	}
	return nil
}

func accountTransitionAllowed(current, next AccountStatus) bool {
	allowed := map[AccountStatus]map[AccountStatus]struct{}{
		AccountStatusUnauthenticated: {
			AccountStatusAuthorizationPending: {},
		},
		AccountStatusAuthorizationPending: {
			AccountStatusAuthenticated:   {},
			AccountStatusUnauthenticated: {},
		},
		AccountStatusAuthenticated: {
			AccountStatusRefreshing:      {},
			AccountStatusReauthRequired:  {},
			AccountStatusUnauthenticated: {},
		},
		AccountStatusRefreshing: {
			AccountStatusAuthenticated:   {},
			AccountStatusReauthRequired:  {},
			AccountStatusUnauthenticated: {},
		},
		AccountStatusReauthRequired: {
			AccountStatusAuthorizationPending: {},
			AccountStatusUnauthenticated:      {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}
