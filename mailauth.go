// Package mailauth manages OAuth2 authorization-code-with-PKCE credentials
// for a mail provider API, plus a classification-aware retry layer for
// calling that API once authenticated.
package mailauth

import (
	"github.com/goliatone/go-mailauth/auth"
	"github.com/goliatone/go-mailauth/core"
	"github.com/goliatone/go-mailauth/retry"
)

type Config = core.Config

type RetryConfig = core.RetryConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type TokenSet = core.TokenSet

type TokenStore = core.TokenStore
type AuthStateStore = core.AuthStateStore
type AccountLocker = core.AccountLocker
type AccountStore = core.AccountStore
type AuditSink = core.AuditSink
type AuditEvent = core.AuditEvent
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type RefreshRunOptions = core.RefreshRunOptions
type RefreshRunResult = core.RefreshRunResult

type BeginAuthRequest = core.BeginAuthRequest
type BeginAuthResponse = core.BeginAuthResponse
type CompleteAuthRequest = core.CompleteAuthRequest
type RefreshRequest = core.RefreshRequest

type ClassifiedError = core.ClassifiedError
type Category = core.Category

type RetryPolicy = retry.Policy
type RetryExecutor = retry.Executor

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithStateStore              = core.WithStateStore
	WithTokenStore              = core.WithTokenStore
	WithAccountLocker           = core.WithAccountLocker
	WithAccountStore            = core.WithAccountStore
	WithRandomSource            = core.WithRandomSource
	WithHTTPClient              = core.WithHTTPClient
	WithAuditSink               = core.WithAuditSink
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithJobEnqueuer             = core.WithJobEnqueuer
	WithTokenFlow               = core.WithTokenFlow
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// Setup builds the service and, when no flow was supplied through
// WithTokenFlow, wires an auth.Manager from the resolved configuration.
func Setup(cfg Config, opts ...Option) (*Service, error) {
	service, err := core.NewService(cfg, opts...)
	if err != nil {
		return nil, err
	}
	deps := service.Dependencies()
	if deps.TokenFlow != nil {
		return service, nil
	}

	managerOpts := []auth.Option{
		auth.WithRandomSource(deps.RandomSource),
		auth.WithLogger(deps.Logger),
	}
	if deps.HTTPClient != nil {
		managerOpts = append(managerOpts, auth.WithHTTPClient(deps.HTTPClient))
	}
	manager, err := auth.New(service.Config(), managerOpts...)
	if err != nil {
		return nil, err
	}

	flowOpts := append([]Option{}, opts...)
	flowOpts = append(flowOpts, core.WithTokenFlow(manager))
	return core.NewService(cfg, flowOpts...)
}

// NewRetryExecutor builds an executor from the resolved retry settings,
// sharing the service's logger and random source.
func NewRetryExecutor(service *Service, opts ...retry.ExecutorOption) *RetryExecutor {
	policy := retry.DefaultPolicy()
	var executorOpts []retry.ExecutorOption
	if service != nil {
		policy = retry.PolicyFromConfig(service.Config().Retry)
		deps := service.Dependencies()
		if deps.RandomSource != nil {
			executorOpts = append(executorOpts, retry.WithRandomSource(deps.RandomSource))
		}
		if deps.Logger != nil {
			executorOpts = append(executorOpts, retry.WithLogger(deps.Logger))
		}
	}
	executorOpts = append(executorOpts, opts...)
	return retry.NewExecutor(policy, executorOpts...)
}
