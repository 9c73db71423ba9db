package mailauth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/goliatone/go-mailauth/core"
)

func setupConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientID = "client-id"
	cfg.ClientSecret = "client-secret"
	cfg.RedirectURI = "http://127.0.0.1:8089/callback"
	return cfg
}

func TestSetup_WiresTokenFlow(t *testing.T) {
	service, err := Setup(setupConfig())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if service.Dependencies().TokenFlow == nil {
		t.Fatalf("expected setup to wire a token flow")
	}

	// The wired flow drives a full begin-authorization round trip.
	resp, err := service.BeginAuthorization(context.Background(), BeginAuthRequest{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	parsed, err := url.Parse(resp.URL)
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	if parsed.Query().Get("code_challenge_method") != "S256" {
		t.Fatalf("expected PKCE consent url, got %q", resp.URL)
	}
	if resp.ExpiresAt.IsZero() {
		t.Fatalf("expected state expiry on response")
	}
}

func TestSetup_KeepsProvidedTokenFlow(t *testing.T) {
	flow := &staticFlow{}
	service, err := Setup(setupConfig(), WithTokenFlow(flow))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if service.Dependencies().TokenFlow != core.TokenFlow(flow) {
		t.Fatalf("expected the provided flow to be kept")
	}
}

func TestNewRetryExecutor_UsesServicePolicy(t *testing.T) {
	cfg := setupConfig()
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.BaseDelay = time.Second

	service, err := Setup(cfg)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	executor := NewRetryExecutor(service)
	if executor.Policy.MaxAttempts != 5 || executor.Policy.BaseDelay != time.Second {
		t.Fatalf("expected policy from service config, got %+v", executor.Policy)
	}
}

func TestNewFacade(t *testing.T) {
	service, err := Setup(setupConfig())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	facade, err := NewFacade(service)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.BeginAuthorization == nil || commands.Refresh == nil || commands.Revoke == nil {
		t.Fatalf("expected all commands bound: %+v", commands)
	}

	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected nil service to be rejected")
	}
}

type staticFlow struct{}

func (*staticFlow) BeginAuth(context.Context, []string) (core.AuthorizationGrant, error) {
	return core.AuthorizationGrant{URL: "https://example.test", State: "s", CodeVerifier: "v"}, nil
}

func (*staticFlow) ExchangeCode(context.Context, core.ExchangeCodeRequest) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "ya29.static"}, nil
}

func (*staticFlow) Refresh(context.Context, string) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "ya29.static"}, nil
}
