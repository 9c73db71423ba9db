package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientID = "client-id"
	cfg.ClientSecret = "client-secret"
	cfg.RedirectURI = "http://127.0.0.1:8089/callback"
	cfg.Scopes = []string{"https://www.googleapis.com/auth/gmail.readonly"}
	return cfg
}

// fakeTokenFlow scripts BeginAuth/ExchangeCode/Refresh responses and
// records what it was called with.
type fakeTokenFlow struct {
	grant        AuthorizationGrant
	beginErr     error
	exchangeReq  ExchangeCodeRequest
	exchangeErr  error
	refreshCalls int
	refreshToken string
	refreshErrs  []error
	tokens       TokenSet
}

func (f *fakeTokenFlow) BeginAuth(_ context.Context, _ []string) (AuthorizationGrant, error) {
	if f.beginErr != nil {
		return AuthorizationGrant{}, f.beginErr
	}
	return f.grant, nil
}

func (f *fakeTokenFlow) ExchangeCode(_ context.Context, req ExchangeCodeRequest) (TokenSet, error) {
	f.exchangeReq = req
	if f.exchangeErr != nil {
		return TokenSet{}, f.exchangeErr
	}
	return f.tokens.Clone(), nil
}

func (f *fakeTokenFlow) Refresh(_ context.Context, refreshToken string) (TokenSet, error) {
	f.refreshCalls++
	f.refreshToken = refreshToken
	if len(f.refreshErrs) > 0 {
		err := f.refreshErrs[0]
		f.refreshErrs = f.refreshErrs[1:]
		if err != nil {
			return TokenSet{}, err
		}
	}
	return f.tokens.Clone(), nil
}

type fakeAccountStore struct {
	statuses []AccountStatus
	reasons  []string
}

func (f *fakeAccountStore) UpdateStatus(_ context.Context, _ string, status AccountStatus, reason string) error {
	f.statuses = append(f.statuses, status)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeEnqueuer struct {
	messages []*JobExecutionMessage
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func newTestService(t *testing.T, flow TokenFlow, extra ...Option) *Service {
	t.Helper()
	options := append([]Option{WithTokenFlow(flow)}, extra...)
	svc, err := NewService(testConfig(), options...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestService_BeginAuthorization(t *testing.T) {
	ctx := context.Background()
	flow := &fakeTokenFlow{
		grant: AuthorizationGrant{
			URL:          "https://accounts.google.com/o/oauth2/v2/auth?state=state-1",
			State:        "state-1",
			CodeVerifier: "verifier-1",
		},
	}
	accounts := &fakeAccountStore{}
	svc := newTestService(t, flow, WithAccountStore(accounts))

	resp, err := svc.BeginAuthorization(ctx, BeginAuthRequest{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	if resp.State != "state-1" || resp.URL == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(accounts.statuses) != 1 || accounts.statuses[0] != AccountStatusAuthorizationPending {
		t.Fatalf("expected authorization_pending status, got %v", accounts.statuses)
	}

	// The verifier saved for the state must flow into the exchange.
	flow.tokens = TokenSet{AccessToken: "ya29.access", RefreshToken: "1//refresh"}
	if _, err := svc.CompleteAuthorization(ctx, CompleteAuthRequest{
		AccountID: "acct-1",
		Code:      "auth-code",
		State:     "state-1",
	}); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	if flow.exchangeReq.CodeVerifier != "verifier-1" {
		t.Fatalf("expected saved verifier in exchange, got %q", flow.exchangeReq.CodeVerifier)
	}
}

// capturingStateStore records the pending authorization Save receives.
type capturingStateStore struct {
	saved []PendingAuthorization
}

func (s *capturingStateStore) Save(_ context.Context, pending PendingAuthorization) error {
	s.saved = append(s.saved, pending)
	return nil
}

func (s *capturingStateStore) Consume(_ context.Context, state string) (PendingAuthorization, error) {
	for i, pending := range s.saved {
		if pending.State == state {
			s.saved = append(s.saved[:i], s.saved[i+1:]...)
			return pending, nil
		}
	}
	return PendingAuthorization{}, fmt.Errorf("core: auth state not found")
}

func TestService_BeginAuthorization_StateExpiryFollowsConfiguredTTL(t *testing.T) {
	ctx := context.Background()
	flow := &fakeTokenFlow{
		grant: AuthorizationGrant{
			URL:          "https://accounts.google.com/o/oauth2/v2/auth?state=state-ttl",
			State:        "state-ttl",
			CodeVerifier: "verifier-ttl",
		},
	}
	store := &capturingStateStore{}
	cfg := testConfig()
	cfg.StateTTL = 5 * time.Minute
	svc, err := NewService(cfg, WithTokenFlow(flow), WithStateStore(store))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.BeginAuthorization(ctx, BeginAuthRequest{AccountID: "acct-1"}); err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one saved pending authorization, got %d", len(store.saved))
	}
	pending := store.saved[0]
	if got := pending.ExpiresAt.Sub(pending.CreatedAt); got != 5*time.Minute {
		t.Fatalf("expected 5m state expiry, got %v", got)
	}
}

func TestNewService_MergesRuntimeConfigOverPartialDefaults(t *testing.T) {
	// Credentials arrive only through the runtime layer; loading the
	// default layer on its own must not fail construction.
	svc, err := NewService(testConfig(), WithTokenFlow(&fakeTokenFlow{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ClientID != "client-id" || cfg.ClientSecret != "client-secret" {
		t.Fatalf("expected runtime credentials in resolved config, got %+v", cfg)
	}
	if cfg.StateTTL != DefaultStateTTL {
		t.Fatalf("expected default state TTL to survive the merge, got %v", cfg.StateTTL)
	}
}

func TestService_CompleteAuthorization_UnknownStateNeverReachesFlow(t *testing.T) {
	ctx := context.Background()
	flow := &fakeTokenFlow{tokens: TokenSet{AccessToken: "ya29.access"}}
	svc := newTestService(t, flow)

	_, err := svc.CompleteAuthorization(ctx, CompleteAuthRequest{
		AccountID: "acct-1",
		Code:      "auth-code",
		State:     "never-issued",
	})
	if err == nil {
		t.Fatalf("expected unknown state to fail")
	}
	classified, ok := AsClassified(err)
	if !ok || classified.Category != CategoryValidation {
		t.Fatalf("expected validation classification, got %v", err)
	}
	if flow.exchangeReq.Code != "" {
		t.Fatalf("exchange must not run for an unknown state")
	}
}

func TestService_CompleteAuthorization_StateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	flow := &fakeTokenFlow{
		grant:  AuthorizationGrant{URL: "https://example.test", State: "state-1", CodeVerifier: "v"},
		tokens: TokenSet{AccessToken: "ya29.access", RefreshToken: "1//refresh"},
	}
	svc := newTestService(t, flow)

	if _, err := svc.BeginAuthorization(ctx, BeginAuthRequest{AccountID: "acct-1"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	req := CompleteAuthRequest{AccountID: "acct-1", Code: "code", State: "state-1"}
	if _, err := svc.CompleteAuthorization(ctx, req); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if _, err := svc.CompleteAuthorization(ctx, req); err == nil {
		t.Fatalf("expected replayed state to be rejected")
	}
}

func TestService_Refresh_CarriesForwardRefreshToken(t *testing.T) {
	ctx := context.Background()
	flow := &fakeTokenFlow{
		// Provider response without a refresh token.
		tokens: TokenSet{AccessToken: "ya29.new", ExpiresAt: time.Now().UTC().Add(time.Hour)},
	}
	svc := newTestService(t, flow)

	seed := TokenSet{AccessToken: "ya29.old", RefreshToken: "1//keep-me"}
	if err := svc.Dependencies().TokenStore.Store(ctx, "acct-1", seed); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, RefreshRequest{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken != "1//keep-me" {
		t.Fatalf("expected refresh token carried forward, got %q", refreshed.RefreshToken)
	}
	if flow.refreshToken != "1//keep-me" {
		t.Fatalf("expected stored refresh token sent to provider, got %q", flow.refreshToken)
	}

	stored, err := svc.Dependencies().TokenStore.Retrieve(ctx, "acct-1")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if stored.AccessToken != "ya29.new" || stored.RefreshToken != "1//keep-me" {
		t.Fatalf("persisted tokens wrong: %+v", stored)
	}
}

func TestService_Refresh_WithoutRefreshTokenRequiresReauth(t *testing.T) {
	ctx := context.Background()
	flow := &fakeTokenFlow{}
	svc := newTestService(t, flow)

	if err := svc.Dependencies().TokenStore.Store(ctx, "acct-1", TokenSet{AccessToken: "ya29.only"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := svc.Refresh(ctx, RefreshRequest{AccountID: "acct-1"})
	if err == nil {
		t.Fatalf("expected refresh without refresh token to fail")
	}
	if !RequiresReauthentication(err) {
		t.Fatalf("expected reauthentication required, got %v", err)
	}
	if flow.refreshCalls != 0 {
		t.Fatalf("provider must not be called without a refresh token")
	}
}

func TestService_Refresh_ReauthFailureUpdatesAccountStatus(t *testing.T) {
	ctx := context.Background()
	flow := &fakeTokenFlow{
		refreshErrs: []error{&ClassifiedError{
			Category:                 CategoryAuthentication,
			Message:                  "invalid_grant: token revoked",
			RequiresReauthentication: true,
		}},
	}
	accounts := &fakeAccountStore{}
	svc := newTestService(t, flow, WithAccountStore(accounts))

	if err := svc.Dependencies().TokenStore.Store(ctx, "acct-1", TokenSet{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Refresh(ctx, RefreshRequest{AccountID: "acct-1"}); err == nil {
		t.Fatalf("expected refresh failure")
	}
	last := accounts.statuses[len(accounts.statuses)-1]
	if last != AccountStatusReauthRequired {
		t.Fatalf("expected reauth_required status, got %q", last)
	}
}

func TestService_Revoke(t *testing.T) {
	ctx := context.Background()
	accounts := &fakeAccountStore{}
	svc := newTestService(t, &fakeTokenFlow{}, WithAccountStore(accounts))

	if err := svc.Dependencies().TokenStore.Store(ctx, "acct-1", TokenSet{AccessToken: "a"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.Revoke(ctx, "acct-1", "user signed out"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Dependencies().TokenStore.Retrieve(ctx, "acct-1"); err == nil {
		t.Fatalf("expected tokens removed after revoke")
	}
	last := accounts.statuses[len(accounts.statuses)-1]
	if last != AccountStatusUnauthenticated {
		t.Fatalf("expected unauthenticated status, got %q", last)
	}
}

func TestService_ScheduleRefresh(t *testing.T) {
	ctx := context.Background()
	enqueuer := &fakeEnqueuer{}
	svc := newTestService(t, &fakeTokenFlow{}, WithJobEnqueuer(enqueuer))

	if err := svc.ScheduleRefresh(ctx, RefreshRequest{AccountID: "acct-1"}); err != nil {
		t.Fatalf("schedule refresh: %v", err)
	}
	if len(enqueuer.messages) != 1 {
		t.Fatalf("expected one enqueued message, got %d", len(enqueuer.messages))
	}
	msg := enqueuer.messages[0]
	if msg.JobID != JobIDRefresh {
		t.Fatalf("expected job id %q, got %q", JobIDRefresh, msg.JobID)
	}
	if msg.AccountID != "acct-1" {
		t.Fatalf("expected account id on message, got %q", msg.AccountID)
	}
	if msg.IdempotencyKey == "" || msg.DedupPolicy != "drop" {
		t.Fatalf("expected dedup metadata, got %+v", msg)
	}
}

func TestService_ScheduleRefresh_WithoutEnqueuer(t *testing.T) {
	svc := newTestService(t, &fakeTokenFlow{})
	if err := svc.ScheduleRefresh(context.Background(), RefreshRequest{AccountID: "acct-1"}); err == nil {
		t.Fatalf("expected schedule without enqueuer to fail")
	}
}

func TestService_OperationsRequireAccountID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &fakeTokenFlow{})

	if _, err := svc.BeginAuthorization(ctx, BeginAuthRequest{}); err == nil {
		t.Fatalf("begin: expected missing account id error")
	}
	if _, err := svc.Refresh(ctx, RefreshRequest{}); err == nil {
		t.Fatalf("refresh: expected missing account id error")
	}
	if err := svc.Revoke(ctx, " ", ""); err == nil {
		t.Fatalf("revoke: expected missing account id error")
	}
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	_, err := NewService(Config{})
	if err == nil {
		t.Fatalf("expected missing config fields to fail construction")
	}
}
