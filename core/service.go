package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// JobIDRefresh names the queue job that runs a scheduled token refresh.
const JobIDRefresh = "mailauth.refresh"

type Service struct {
	config                  Config
	logger                  Logger
	loggerProvider          LoggerProvider
	metricsRecorder         MetricsRecorder
	errorFactory            ErrorFactory
	errorMapper             ErrorMapper
	configProvider          ConfigProvider
	optionsResolver         OptionsResolver
	stateStore              AuthStateStore
	tokenStore              TokenStore
	accountLocker           AccountLocker
	accountStore            AccountStore
	refreshBackoffScheduler RefreshBackoffScheduler
	randomSource            RandomSource
	httpClient              HTTPDoer
	auditSink               AuditSink
	jobEnqueuer             JobEnqueuer
	tokenFlow               TokenFlow
	now                     func() time.Time
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	StateStore       AuthStateStore
	TokenStore       TokenStore
	AccountLocker    AccountLocker
	AccountStore     AccountStore
	RefreshScheduler RefreshBackoffScheduler
	RandomSource     RandomSource
	HTTPClient       HTTPDoer
	AuditSink        AuditSink
	JobEnqueuer      JobEnqueuer
	TokenFlow        TokenFlow
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("mailauth", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("mailauth"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.randomSource == nil {
		builder.randomSource = CryptoRandomSource{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if err := finalConfig.Validate(); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.stateStore == nil {
		builder.stateStore = NewMemoryAuthStateStore(finalConfig.StateTTL)
	}
	if builder.tokenStore == nil {
		builder.tokenStore = NewMemoryTokenStore()
	}
	if builder.accountLocker == nil {
		builder.accountLocker = NewMemoryAccountLocker()
	}
	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		config:                  finalConfig,
		logger:                  logger,
		loggerProvider:          provider,
		metricsRecorder:         builder.metricsRecorder,
		errorFactory:            builder.errorFactory,
		errorMapper:             builder.errorMapper,
		configProvider:          builder.configProvider,
		optionsResolver:         builder.optionsResolver,
		stateStore:              builder.stateStore,
		tokenStore:              builder.tokenStore,
		accountLocker:           builder.accountLocker,
		accountStore:            builder.accountStore,
		refreshBackoffScheduler: builder.refreshScheduler,
		randomSource:            builder.randomSource,
		httpClient:              builder.httpClient,
		auditSink:               builder.auditSink,
		jobEnqueuer:             builder.jobEnqueuer,
		tokenFlow:               builder.tokenFlow,
		now:                     builder.now,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		StateStore:       s.stateStore,
		TokenStore:       s.tokenStore,
		AccountLocker:    s.accountLocker,
		AccountStore:     s.accountStore,
		RefreshScheduler: s.refreshBackoffScheduler,
		RandomSource:     s.randomSource,
		HTTPClient:       s.httpClient,
		AuditSink:        s.auditSink,
		JobEnqueuer:      s.jobEnqueuer,
		TokenFlow:        s.tokenFlow,
	}
}

// BeginAuthorization starts the browser-mediated consent flow for an
// account. The returned URL carries the PKCE challenge and CSRF state;
// the matching verifier stays server side in the pending-state store.
func (s *Service) BeginAuthorization(ctx context.Context, req BeginAuthRequest) (response BeginAuthResponse, err error) {
	if s == nil {
		return BeginAuthResponse{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.clock()
	fields := map[string]any{
		"account_id": req.AccountID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "begin_authorization", err, fields)
	}()

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		err = s.mapError(fmt.Errorf("core: account id is required"))
		return BeginAuthResponse{}, err
	}
	flow, err := s.resolveTokenFlow()
	if err != nil {
		return BeginAuthResponse{}, err
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = s.config.Scopes
	}

	grant, err := flow.BeginAuth(ctx, scopes)
	if err != nil {
		err = s.mapError(err)
		return BeginAuthResponse{}, err
	}

	now := s.clock()
	expiresAt := now.Add(s.stateTTL())
	if saveErr := s.stateStore.Save(ctx, PendingAuthorization{
		State:        grant.State,
		CodeVerifier: grant.CodeVerifier,
		AccountID:    accountID,
		Scopes:       append([]string(nil), scopes...),
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}); saveErr != nil {
		err = s.mapError(saveErr)
		return BeginAuthResponse{}, err
	}

	s.updateAccountStatus(ctx, accountID, AccountStatusAuthorizationPending, "authorization started")

	return BeginAuthResponse{
		URL:       grant.URL,
		State:     grant.State,
		ExpiresAt: expiresAt,
		Metadata:  copyAnyMap(req.Metadata),
	}, nil
}

// CompleteAuthorization finishes the flow with the redirect callback
// values. The state is consumed before anything touches the network, so a
// mismatched or replayed state never reaches the token endpoint.
func (s *Service) CompleteAuthorization(ctx context.Context, req CompleteAuthRequest) (tokens TokenSet, err error) {
	if s == nil {
		return TokenSet{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.clock()
	fields := map[string]any{
		"account_id": req.AccountID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		err = s.mapError(fmt.Errorf("core: account id is required"))
		return TokenSet{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return TokenSet{}, err
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		err = s.mapError(fmt.Errorf("core: callback state is required"))
		return TokenSet{}, err
	}
	flow, err := s.resolveTokenFlow()
	if err != nil {
		return TokenSet{}, err
	}

	pending, consumeErr := s.stateStore.Consume(ctx, state)
	if consumeErr != nil {
		err = s.mapError(&ClassifiedError{
			Category:  CategoryValidation,
			Message:   "callback state did not match a pending authorization",
			Retryable: false,
			Cause:     consumeErr,
		})
		return TokenSet{}, err
	}
	if pending.AccountID != "" && pending.AccountID != accountID {
		err = s.mapError(&ClassifiedError{
			Category:  CategoryValidation,
			Message:   "callback state belongs to a different account",
			Retryable: false,
		})
		return TokenSet{}, err
	}

	tokens, err = flow.ExchangeCode(ctx, ExchangeCodeRequest{
		Code:          code,
		CodeVerifier:  pending.CodeVerifier,
		State:         state,
		ExpectedState: pending.State,
	})
	if err != nil {
		err = s.mapError(err)
		return TokenSet{}, err
	}

	if storeErr := s.tokenStore.Store(ctx, accountID, tokens); storeErr != nil {
		err = s.mapError(storeErr)
		return TokenSet{}, err
	}

	s.updateAccountStatus(ctx, accountID, AccountStatusAuthenticated, "")

	return tokens, nil
}

// Refresh exchanges the stored refresh token for a new TokenSet. The old
// refresh token is carried forward when the provider omits a new one.
// Concurrent refreshes for one account must be serialized by the caller;
// RunRefreshWithRetry does this through the account locker.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (tokens TokenSet, err error) {
	if s == nil {
		return TokenSet{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.clock()
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = RefreshMethodManual
	}
	fields := map[string]any{
		"account_id": req.AccountID,
		"method":     method,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		err = s.mapError(fmt.Errorf("core: account id is required"))
		return TokenSet{}, err
	}
	flow, err := s.resolveTokenFlow()
	if err != nil {
		return TokenSet{}, err
	}

	stored, retrieveErr := s.tokenStore.Retrieve(ctx, accountID)
	if retrieveErr != nil {
		err = s.mapError(retrieveErr)
		return TokenSet{}, err
	}
	if !stored.HasRefreshToken() {
		err = s.mapError(&ClassifiedError{
			Category:                 CategoryAuthentication,
			Message:                  "no refresh token stored for account",
			Retryable:                false,
			RequiresReauthentication: true,
		})
		return TokenSet{}, err
	}

	s.updateAccountStatus(ctx, accountID, AccountStatusRefreshing, "")

	refreshed, refreshErr := flow.Refresh(ctx, stored.RefreshToken)
	if refreshErr != nil {
		if RequiresReauthentication(refreshErr) {
			s.updateAccountStatus(ctx, accountID, AccountStatusReauthRequired, refreshErr.Error())
		}
		err = s.mapError(refreshErr)
		return TokenSet{}, err
	}

	if !refreshed.HasRefreshToken() {
		refreshed.RefreshToken = stored.RefreshToken
	}

	if storeErr := s.tokenStore.Store(ctx, accountID, refreshed); storeErr != nil {
		err = s.mapError(storeErr)
		return TokenSet{}, err
	}

	s.updateAccountStatus(ctx, accountID, AccountStatusAuthenticated, "")

	return refreshed, nil
}

// Revoke drops the stored credentials and resets the account lifecycle.
func (s *Service) Revoke(ctx context.Context, accountID string, reason string) (err error) {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	startedAt := s.clock()
	fields := map[string]any{
		"account_id": accountID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke", err, fields)
	}()

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		err = s.mapError(fmt.Errorf("core: account id is required"))
		return err
	}

	if removeErr := s.tokenStore.Remove(ctx, accountID); removeErr != nil {
		err = s.mapError(removeErr)
		return err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "revoked"
	}
	s.updateAccountStatus(ctx, accountID, AccountStatusUnauthenticated, reason)

	return nil
}

// ScheduleRefresh enqueues a background refresh through the configured
// job queue instead of running it inline.
func (s *Service) ScheduleRefresh(ctx context.Context, req RefreshRequest) (err error) {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	startedAt := s.clock()
	fields := map[string]any{
		"account_id": req.AccountID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "schedule_refresh", err, fields)
	}()

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		err = s.mapError(fmt.Errorf("core: account id is required"))
		return err
	}
	if s.jobEnqueuer == nil {
		err = s.mapError(fmt.Errorf("core: job enqueuer is not configured"))
		return err
	}

	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = RefreshMethodAutomatic
	}

	err = s.jobEnqueuer.Enqueue(ctx, &JobExecutionMessage{
		JobID:     JobIDRefresh,
		AccountID: accountID,
		Parameters: map[string]any{
			"method": method,
		},
		IdempotencyKey: uuid.NewString(),
		DedupPolicy:    "drop",
	})
	if err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) resolveTokenFlow() (TokenFlow, error) {
	if s == nil || s.tokenFlow == nil {
		return nil, s.mapError(&ClassifiedError{
			Category:  CategoryConfiguration,
			Message:   "token flow is not configured",
			Retryable: false,
		})
	}
	return s.tokenFlow, nil
}

func (s *Service) updateAccountStatus(ctx context.Context, accountID string, status AccountStatus, reason string) {
	if s == nil || s.accountStore == nil {
		return
	}
	if err := s.accountStore.UpdateStatus(ctx, accountID, status, reason); err != nil {
		s.logError(ctx, "account status update failed", map[string]any{
			"account_id": accountID,
			"status":     string(status),
			"error":      err.Error(),
		})
	}
}

func (s *Service) stateTTL() time.Duration {
	if s != nil && s.config.StateTTL > 0 {
		return s.config.StateTTL
	}
	return DefaultStateTTL
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
