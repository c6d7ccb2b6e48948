package marketplace

import "github.com/goliatone/go-marketplace/core"

type Config = core.Config

type OAuthConfig = core.OAuthConfig

type RefreshConfig = core.RefreshConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type MarketplaceClient = core.MarketplaceClient
type SiteDirectory = core.SiteDirectory
type OAuthFlowStore = core.OAuthFlowStore
type ConnectionLocker = core.ConnectionLocker
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type RateLimitPolicy = core.RateLimitPolicy
type ConnectionStore = core.ConnectionStore
type CredentialStore = core.CredentialStore
type CredentialCodec = core.CredentialCodec
type LifecycleHooks = core.LifecycleHooks

type InitiateConnectionRequest = core.InitiateConnectionRequest
type InitiateConnectionResponse = core.InitiateConnectionResponse

type CompleteConnectionRequest = core.CompleteConnectionRequest
type ConnectionResult = core.ConnectionResult

type StatusRequest = core.StatusRequest
type StatusReport = core.StatusReport

type RefreshOutcome = core.RefreshOutcome

type DisconnectRequest = core.DisconnectRequest

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithMarketplaceClient       = core.WithMarketplaceClient
	WithSiteDirectory           = core.WithSiteDirectory
	WithOAuthFlowStore          = core.WithOAuthFlowStore
	WithConnectionLocker        = core.WithConnectionLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithRateLimitPolicy         = core.WithRateLimitPolicy
	WithConnectionStore         = core.WithConnectionStore
	WithCredentialStore         = core.WithCredentialStore
	WithCredentialCodec         = core.WithCredentialCodec
	WithLifecycleHooks          = core.WithLifecycleHooks
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
