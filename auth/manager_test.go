package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-mailauth/core"
)

func managerConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.ClientID = "client-id"
	cfg.ClientSecret = "client-secret"
	cfg.RedirectURI = "http://127.0.0.1:8089/callback"
	return cfg
}

// scriptedHTTPClient returns canned responses and counts every call so
// tests can prove a code path never touched the network.
type scriptedHTTPClient struct {
	calls     int
	status    int
	body      string
	headers   http.Header
	lastForm  url.Values
	transport error
}

func (c *scriptedHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.calls++
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		c.lastForm, _ = url.ParseQuery(string(raw))
	}
	if c.transport != nil {
		return nil, c.transport
	}
	headers := c.headers
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/json")
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     headers,
		Body:       io.NopCloser(strings.NewReader(c.body)),
	}, nil
}

func tokenJSON(t *testing.T, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(raw)
}

func newManager(t *testing.T, client *scriptedHTTPClient) *Manager {
	t.Helper()
	manager, err := New(managerConfig(),
		WithHTTPClient(client),
		WithRandomSource(core.NewSeededRandomSource(42)),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestNew_RejectsIncompleteConfig(t *testing.T) {
	_, err := New(core.Config{ClientID: "only-id"})
	if err == nil {
		t.Fatalf("expected incomplete config to fail")
	}
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryConfiguration {
		t.Fatalf("expected configuration classification, got %v", err)
	}
	if !strings.Contains(err.Error(), "client_secret") || !strings.Contains(err.Error(), "redirect_uri") {
		t.Fatalf("expected every missing field named, got %q", err.Error())
	}
}

func TestBeginAuth_BuildsConsentURL(t *testing.T) {
	manager := newManager(t, &scriptedHTTPClient{})

	grant, err := manager.BeginAuth(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin auth: %v", err)
	}

	parsed, err := url.Parse(grant.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Host != "accounts.google.com" {
		t.Fatalf("expected google auth endpoint, got %q", parsed.Host)
	}
	query := parsed.Query()
	checks := map[string]string{
		"response_type":         "code",
		"client_id":             "client-id",
		"redirect_uri":          "http://127.0.0.1:8089/callback",
		"access_type":           "offline",
		"prompt":                "consent",
		"code_challenge_method": "S256",
		"state":                 grant.State,
	}
	for key, want := range checks {
		if got := query.Get(key); got != want {
			t.Fatalf("param %q: expected %q, got %q", key, want, got)
		}
	}
	if query.Get("code_challenge") == "" {
		t.Fatalf("expected code_challenge in url")
	}
	if query.Get("code_challenge") != ComputePKCEChallenge(grant.CodeVerifier) {
		t.Fatalf("challenge in url must derive from the returned verifier")
	}
	if strings.Contains(grant.URL, grant.CodeVerifier) {
		t.Fatalf("verifier must never appear in the consent url")
	}
	if query.Get("scope") == "" {
		t.Fatalf("expected default gmail scopes in url")
	}
}

func TestNew_EmptyScopesFallBackToGmailDefaults(t *testing.T) {
	manager := newManager(t, &scriptedHTTPClient{})

	grant, err := manager.BeginAuth(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin auth: %v", err)
	}
	parsed, err := url.Parse(grant.URL)
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	scope := parsed.Query().Get("scope")
	for _, want := range []string{"gmail.readonly", "gmail.send", "userinfo.email"} {
		if !strings.Contains(scope, want) {
			t.Fatalf("expected %s in default scopes, got %q", want, scope)
		}
	}
}

func TestBeginAuth_FreshStatePerCall(t *testing.T) {
	manager := newManager(t, &scriptedHTTPClient{})
	ctx := context.Background()

	first, err := manager.BeginAuth(ctx, nil)
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	second, err := manager.BeginAuth(ctx, nil)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if first.State == second.State || first.CodeVerifier == second.CodeVerifier {
		t.Fatalf("state and verifier must be fresh per call")
	}
}

func TestExchangeCode_StateMismatchNeverTouchesNetwork(t *testing.T) {
	client := &scriptedHTTPClient{}
	manager := newManager(t, client)

	_, err := manager.ExchangeCode(context.Background(), core.ExchangeCodeRequest{
		Code:          "auth-code",
		CodeVerifier:  "verifier",
		State:         "attacker-state",
		ExpectedState: "issued-state",
	})
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("state mismatch must fail before any network call, got %d calls", client.calls)
	}
}

func TestExchangeCode_SendsCodeAndVerifier(t *testing.T) {
	client := &scriptedHTTPClient{body: tokenJSON(t, map[string]any{
		"access_token":  "ya29.granted",
		"refresh_token": "1//refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "https://www.googleapis.com/auth/gmail.readonly",
	})}
	manager := newManager(t, client)

	tokens, err := manager.ExchangeCode(context.Background(), core.ExchangeCodeRequest{
		Code:          "auth-code",
		CodeVerifier:  "the-verifier",
		State:         "state-1",
		ExpectedState: "state-1",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "ya29.granted" || tokens.RefreshToken != "1//refresh" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if got := client.lastForm.Get("grant_type"); got != "authorization_code" {
		t.Fatalf("expected authorization_code grant, got %q", got)
	}
	if got := client.lastForm.Get("code_verifier"); got != "the-verifier" {
		t.Fatalf("expected verifier in form, got %q", got)
	}
	if got := client.lastForm.Get("client_id"); got != "client-id" {
		t.Fatalf("expected client_id in form, got %q", got)
	}
}

func TestExchangeCode_InvalidGrantDoesNotRequireReauth(t *testing.T) {
	client := &scriptedHTTPClient{
		status: http.StatusBadRequest,
		body:   tokenJSON(t, map[string]any{"error": "invalid_grant", "error_description": "Bad code"}),
	}
	manager := newManager(t, client)

	_, err := manager.ExchangeCode(context.Background(), core.ExchangeCodeRequest{
		Code:          "bad-code",
		CodeVerifier:  "verifier",
		State:         "s",
		ExpectedState: "s",
	})
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryAuthentication {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if classified.RequiresReauthentication {
		t.Fatalf("rejected code must not force a full reauth")
	}
}

func TestExchangeCode_MissingAccessTokenIsAuthentication(t *testing.T) {
	client := &scriptedHTTPClient{body: tokenJSON(t, map[string]any{
		"token_type": "Bearer",
		"expires_in": 3600,
	})}
	manager := newManager(t, client)

	_, err := manager.ExchangeCode(context.Background(), core.ExchangeCodeRequest{
		Code:          "auth-code",
		CodeVerifier:  "verifier",
		State:         "s",
		ExpectedState: "s",
	})
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryAuthentication {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if classified.Retryable {
		t.Fatalf("a tokenless grant must not be retryable")
	}
}

func TestExchangeCode_UnrecognizedErrorCodeIsAuthentication(t *testing.T) {
	client := &scriptedHTTPClient{
		status: http.StatusBadRequest,
		body:   tokenJSON(t, map[string]any{"error": "invalid_request", "error_description": "Unsupported parameter"}),
	}
	manager := newManager(t, client)

	_, err := manager.ExchangeCode(context.Background(), core.ExchangeCodeRequest{
		Code:          "auth-code",
		CodeVerifier:  "verifier",
		State:         "s",
		ExpectedState: "s",
	})
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryAuthentication {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if !strings.Contains(classified.Message, "Unsupported parameter") {
		t.Fatalf("expected raw provider message preserved, got %q", classified.Message)
	}
}

func TestRefresh_EmptyTokenNeverTouchesNetwork(t *testing.T) {
	client := &scriptedHTTPClient{}
	manager := newManager(t, client)

	_, err := manager.Refresh(context.Background(), "  ")
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("empty refresh token must fail before any network call, got %d calls", client.calls)
	}
}

func TestRefresh_CarriesForwardRefreshToken(t *testing.T) {
	client := &scriptedHTTPClient{body: tokenJSON(t, map[string]any{
		"access_token": "ya29.renewed",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})}
	manager := newManager(t, client)

	tokens, err := manager.Refresh(context.Background(), "1//original")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.RefreshToken != "1//original" {
		t.Fatalf("expected refresh token carried forward, got %q", tokens.RefreshToken)
	}
	if got := client.lastForm.Get("grant_type"); got != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", got)
	}
}

func TestRefresh_InvalidGrantRequiresReauth(t *testing.T) {
	client := &scriptedHTTPClient{
		status: http.StatusBadRequest,
		body:   tokenJSON(t, map[string]any{"error": "invalid_grant", "error_description": "Token has been revoked"}),
	}
	manager := newManager(t, client)

	_, err := manager.Refresh(context.Background(), "1//revoked")
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryAuthentication {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if !classified.RequiresReauthentication {
		t.Fatalf("revoked refresh token must require reauth")
	}
}

func TestRefresh_InvalidClientIsConfiguration(t *testing.T) {
	client := &scriptedHTTPClient{
		status: http.StatusUnauthorized,
		body:   tokenJSON(t, map[string]any{"error": "invalid_client"}),
	}
	manager := newManager(t, client)

	_, err := manager.Refresh(context.Background(), "1//token")
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryConfiguration {
		t.Fatalf("expected configuration failure, got %v", err)
	}
	if classified.Retryable {
		t.Fatalf("credential misconfiguration must not be retryable")
	}
}

func TestRefresh_RateLimitedCarriesRetryAfter(t *testing.T) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Retry-After", "42")
	client := &scriptedHTTPClient{
		status:  http.StatusTooManyRequests,
		headers: headers,
		body:    tokenJSON(t, map[string]any{"error": "rate_limit_exceeded"}),
	}
	manager := newManager(t, client)

	_, err := manager.Refresh(context.Background(), "1//token")
	classified, ok := core.AsClassified(err)
	if !ok || classified.Category != core.CategoryRateLimit {
		t.Fatalf("expected rate limit failure, got %v", err)
	}
	if !classified.Retryable {
		t.Fatalf("429 must be retryable")
	}
	if classified.RetryAfter == nil || *classified.RetryAfter != 42*time.Second {
		t.Fatalf("expected 42s retry hint, got %v", classified.RetryAfter)
	}
}

func TestRefresh_TransportFailureIsNetwork(t *testing.T) {
	client := &scriptedHTTPClient{transport: io.ErrUnexpectedEOF}
	manager := newManager(t, client)

	_, err := manager.Refresh(context.Background(), "1//token")
	classified, ok := core.AsClassified(err)
	if !ok {
		t.Fatalf("expected classified failure, got %v", err)
	}
	if !classified.Retryable {
		t.Fatalf("transport failures must be retryable, got %+v", classified)
	}
}

func TestFetchToken_ParsesFormEncodedPayload(t *testing.T) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	client := &scriptedHTTPClient{
		headers: headers,
		body:    "access_token=ya29.form&token_type=bearer&expires_in=1800",
	}
	manager := newManager(t, client)

	tokens, err := manager.Refresh(context.Background(), "1//token")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.AccessToken != "ya29.form" {
		t.Fatalf("expected form payload parsed, got %+v", tokens)
	}
}
