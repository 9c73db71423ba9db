package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-mailauth/core"
)

const (
	stateByteLength           = 24
	maxTokenResponseBodyBytes = 1 << 20 // 1 MiB
)

// Manager drives the authorization-code-with-PKCE flow against a single
// provider. It implements core.TokenFlow.
type Manager struct {
	cfg          core.Config
	httpClient   core.HTTPDoer
	random       core.RandomSource
	now          func() time.Time
	logger       core.Logger
	secretInBody bool
}

type Option func(*Manager)

func WithHTTPClient(client core.HTTPDoer) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

func WithRandomSource(source core.RandomSource) Option {
	return func(m *Manager) {
		m.random = source
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger core.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClientSecretInBody sends the client secret as a form field instead
// of HTTP basic auth. Google's token endpoint expects this shape.
func WithClientSecretInBody(inBody bool) Option {
	return func(m *Manager) {
		m.secretInBody = inBody
	}
}

// New validates cfg eagerly and fails fast with every missing field named.
// Endpoint URLs and scopes default to Gmail when left empty.
func New(cfg core.Config, options ...Option) (*Manager, error) {
	if strings.TrimSpace(cfg.AuthURL) == "" {
		cfg.AuthURL = GoogleAuthURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = GoogleTokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultGmailScopes()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = core.DefaultTokenTTL
	}
	if cfg.TokenRequestTimeout <= 0 {
		cfg.TokenRequestTimeout = core.DefaultTokenRequestTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, &core.ClassifiedError{
			Category:  core.CategoryConfiguration,
			Message:   err.Error(),
			Retryable: false,
			Cause:     err,
		}
	}

	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.Scopes = normalizeScopes(cfg.Scopes)

	manager := &Manager{
		cfg:          cfg,
		random:       core.CryptoRandomSource{},
		now:          func() time.Time { return time.Now().UTC() },
		logger:       glog.Nop(),
		secretInBody: true,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(manager)
	}
	if manager.httpClient == nil {
		manager.httpClient = &http.Client{Timeout: cfg.TokenRequestTimeout}
	}
	if manager.random == nil {
		manager.random = core.CryptoRandomSource{}
	}
	if manager.logger == nil {
		manager.logger = glog.Nop()
	}
	return manager, nil
}

// BeginAuth builds the consent URL for the requested scopes. Each call
// issues a fresh CSRF state and PKCE verifier; only the challenge travels
// in the URL.
func (m *Manager) BeginAuth(_ context.Context, scopes []string) (core.AuthorizationGrant, error) {
	if m == nil {
		return core.AuthorizationGrant{}, fmt.Errorf("auth: manager is nil")
	}

	requested := normalizeScopes(scopes)
	if len(requested) == 0 {
		requested = append([]string(nil), m.cfg.Scopes...)
	}

	state, err := m.generateState()
	if err != nil {
		return core.AuthorizationGrant{}, err
	}
	challenge, err := GeneratePKCEChallenge(m.random)
	if err != nil {
		return core.AuthorizationGrant{}, err
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", m.cfg.ClientID)
	values.Set("redirect_uri", m.cfg.RedirectURI)
	values.Set("scope", strings.Join(requested, " "))
	values.Set("state", state)
	values.Set("access_type", "offline")
	values.Set("prompt", "consent")
	values.Set("code_challenge", challenge.Challenge)
	values.Set("code_challenge_method", challenge.Method)

	authURL := m.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}

	return core.AuthorizationGrant{
		URL:          authURL,
		State:        state,
		CodeVerifier: challenge.Verifier,
	}, nil
}

// ExchangeCode swaps the authorization code for a TokenSet. The state
// comparison runs before anything else; a mismatch fails closed with zero
// network calls.
func (m *Manager) ExchangeCode(ctx context.Context, req core.ExchangeCodeRequest) (core.TokenSet, error) {
	if m == nil {
		return core.TokenSet{}, fmt.Errorf("auth: manager is nil")
	}

	expectedState := strings.TrimSpace(req.ExpectedState)
	callbackState := strings.TrimSpace(req.State)
	if expectedState == "" || subtle.ConstantTimeCompare([]byte(callbackState), []byte(expectedState)) != 1 {
		return core.TokenSet{}, &core.ClassifiedError{
			Category:  core.CategoryValidation,
			Message:   "callback state does not match the expected state",
			Retryable: false,
		}
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.TokenSet{}, &core.ClassifiedError{
			Category:  core.CategoryValidation,
			Message:   "authorization code is required",
			Retryable: false,
		}
	}
	verifier := strings.TrimSpace(req.CodeVerifier)
	if verifier == "" {
		return core.TokenSet{}, &core.ClassifiedError{
			Category:  core.CategoryValidation,
			Message:   "code verifier is required",
			Retryable: false,
		}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.cfg.RedirectURI)
	form.Set("code_verifier", verifier)

	payload, err := m.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, m.mapTokenError(err, false)
	}
	return m.tokenSetFromPayload(payload, ""), nil
}

// Refresh exchanges refreshToken for a fresh TokenSet. When the response
// omits a new refresh token the old one is carried forward, so callers
// always end up with a refreshable set.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	if m == nil {
		return core.TokenSet{}, fmt.Errorf("auth: manager is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, &core.ClassifiedError{
			Category:  core.CategoryValidation,
			Message:   "refresh token is required",
			Retryable: false,
		}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, err := m.fetchToken(ctx, form)
	if err != nil {
		return core.TokenSet{}, m.mapTokenError(err, true)
	}
	return m.tokenSetFromPayload(payload, refreshToken), nil
}

func (m *Manager) Config() core.Config {
	if m == nil {
		return core.Config{}
	}
	return m.cfg
}

func (m *Manager) generateState() (string, error) {
	raw, err := m.random.Bytes(stateByteLength)
	if err != nil {
		return "", fmt.Errorf("auth: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (m *Manager) tokenSetFromPayload(payload tokenEndpointPayload, previousRefreshToken string) core.TokenSet {
	now := m.now().UTC()
	ttl := m.cfg.TokenTTL
	if payload.ExpiresIn > 0 {
		ttl = time.Duration(payload.ExpiresIn) * time.Second
	}
	refreshToken := strings.TrimSpace(payload.RefreshToken)
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}
	return core.TokenSet{
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: refreshToken,
		TokenType:    normalizeTokenType(payload.TokenType),
		Scopes:       parseScopeList(payload.Scope),
		ExpiresAt:    now.Add(ttl),
		IssuedAt:     now,
	}
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

type tokenEndpointError struct {
	StatusCode  int
	ErrorCode   string
	Description string
	Headers     map[string]string
}

func (e *tokenEndpointError) Error() string {
	if e == nil {
		return ""
	}
	description := strings.TrimSpace(e.Description)
	if description == "" {
		description = strings.TrimSpace(e.ErrorCode)
	}
	if description == "" {
		description = "unknown error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("auth: token endpoint error (%d): %s", e.StatusCode, description)
	}
	return fmt.Sprintf("auth: token endpoint error: %s", description)
}

func (m *Manager) fetchToken(ctx context.Context, form url.Values) (tokenEndpointPayload, error) {
	if m.httpClient == nil {
		return tokenEndpointPayload{}, fmt.Errorf("auth: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", m.cfg.ClientID)
	if m.secretInBody && m.cfg.ClientSecret != "" {
		values.Set("client_secret", m.cfg.ClientSecret)
	}

	requestCtx := ctx
	cancel := func() {}
	if m.cfg.TokenRequestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, m.cfg.TokenRequestTimeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		m.cfg.TokenURL,
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !m.secretInBody && m.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)
	}

	response, err := m.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("auth: token request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("auth: read token response: %w", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("auth: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil && isSuccessStatus(response.StatusCode) {
		return tokenEndpointPayload{}, fmt.Errorf("auth: decode token response: %w", parseErr)
	}
	if !isSuccessStatus(response.StatusCode) || payload.ErrorCode != "" {
		return tokenEndpointPayload{}, &tokenEndpointError{
			StatusCode:  response.StatusCode,
			ErrorCode:   payload.ErrorCode,
			Description: payload.ErrorDescription,
			Headers:     flattenHeaders(response.Header),
		}
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		// A 2xx without an access token is still a failed grant.
		return tokenEndpointPayload{}, &core.ClassifiedError{
			Category:   core.CategoryAuthentication,
			Message:    "auth: token endpoint response missing access token",
			Retryable:  false,
			StatusCode: response.StatusCode,
		}
	}
	return payload, nil
}

// mapTokenError classifies a fetchToken failure. invalid_grant on the
// refresh path means the refresh token is dead and the user must sign in
// again; on the exchange path it is just a rejected code.
func (m *Manager) mapTokenError(err error, isRefresh bool) error {
	if err == nil {
		return nil
	}
	if classified, ok := core.AsClassified(err); ok {
		return classified
	}

	if endpointErr, ok := asTokenEndpointError(err); ok {
		code := strings.ToLower(strings.TrimSpace(endpointErr.ErrorCode))
		switch code {
		case "invalid_grant":
			return &core.ClassifiedError{
				Category:                 core.CategoryAuthentication,
				Message:                  endpointErr.Error(),
				Retryable:                false,
				RequiresReauthentication: isRefresh,
				StatusCode:               endpointErr.StatusCode,
				Cause:                    endpointErr,
			}
		case "invalid_client", "unauthorized_client":
			return &core.ClassifiedError{
				Category:   core.CategoryConfiguration,
				Message:    endpointErr.Error(),
				Retryable:  false,
				StatusCode: endpointErr.StatusCode,
				Cause:      endpointErr,
			}
		}
		classified := core.Classify(core.ClassifyInput{
			StatusCode: endpointErr.StatusCode,
			ErrorCode:  endpointErr.ErrorCode,
			Message:    endpointErr.Error(),
			Headers:    endpointErr.Headers,
			Err:        endpointErr,
		})
		if classified.Category != core.CategoryUnknown {
			return classified
		}
		// The provider rejected the grant with a code we do not
		// recognize. Keep the raw message but never call it unknown.
		return &core.ClassifiedError{
			Category:   core.CategoryAuthentication,
			Message:    endpointErr.Error(),
			Retryable:  false,
			StatusCode: endpointErr.StatusCode,
			Cause:      endpointErr,
		}
	}

	return core.ClassifyTransportError(err)
}

func asTokenEndpointError(err error) (*tokenEndpointError, bool) {
	var endpointErr *tokenEndpointError
	if errors.As(err, &endpointErr) {
		return endpointErr, true
	}
	return nil, false
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key := range headers {
		flat[key] = headers.Get(key)
	}
	return flat
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

var _ core.TokenFlow = (*Manager)(nil)
