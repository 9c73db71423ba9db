package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// HTTPDoer is the transport seam. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenStore is the credential store collaborator. Implementations own
// persistence (keychain, encrypted file, remote vault); the core only
// reads and writes through it and never touches storage directly.
type TokenStore interface {
	Store(ctx context.Context, accountID string, tokens TokenSet) error
	Retrieve(ctx context.Context, accountID string) (TokenSet, error)
	Remove(ctx context.Context, accountID string) error
}

// AuthStateStore holds pending authorizations between BeginAuthorization
// and CompleteAuthorization. Consume is single use: a state value resolves
// at most once, and never after its expiry.
type AuthStateStore interface {
	Save(ctx context.Context, pending PendingAuthorization) error
	Consume(ctx context.Context, state string) (PendingAuthorization, error)
}

// LockHandle releases an acquired account lock. Unlock is idempotent.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// AccountLocker serializes refreshes per account. Some providers rotate
// the refresh token on use, so two concurrent refreshes against the same
// account can invalidate each other's stored state.
type AccountLocker interface {
	Acquire(ctx context.Context, accountID string, ttl time.Duration) (LockHandle, error)
}

// AccountStore receives lifecycle transitions for observability and UI
// surfaces. The core calls it after every successful state change.
type AccountStore interface {
	UpdateStatus(ctx context.Context, accountID string, status AccountStatus, reason string) error
}

// AuditEvent is the structured record emitted per attempt and per token
// operation. Secret material is redacted before the event is built.
type AuditEvent struct {
	ID            string
	Operation     string
	AccountID     string
	Category      string
	Retryable     bool
	AttemptNumber int
	DurationMs    int64
	OccurredAt    time.Time
	Fields        map[string]any
}

type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuthorizationGrant is the browser-bound half of a begun flow.
type AuthorizationGrant struct {
	URL          string
	State        string
	CodeVerifier string
}

// ExchangeCodeRequest carries the redirect callback values back into the
// flow. ExpectedState is the value issued at begin time; the exchange is
// rejected before any network call when State differs.
type ExchangeCodeRequest struct {
	Code          string
	CodeVerifier  string
	State         string
	ExpectedState string
}

// TokenFlow is the OAuth protocol engine behind the service. The auth
// package provides the implementation; the seam exists so tests can run
// the lifecycle without a live token endpoint.
type TokenFlow interface {
	BeginAuth(ctx context.Context, scopes []string) (AuthorizationGrant, error)
	ExchangeCode(ctx context.Context, req ExchangeCodeRequest) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

type BeginAuthRequest struct {
	AccountID string
	Scopes    []string
	Metadata  map[string]any
}

type BeginAuthResponse struct {
	URL       string
	State     string
	ExpiresAt time.Time
	Metadata  map[string]any
}

type CompleteAuthRequest struct {
	AccountID string
	Code      string
	State     string
	Metadata  map[string]any
}

type RefreshRequest struct {
	AccountID string
	Method    string
	Metadata  map[string]any
}
