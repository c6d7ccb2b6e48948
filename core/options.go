package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	client            MarketplaceClient
	sites             SiteDirectory
	flowStore         OAuthFlowStore
	connectionLocker  ConnectionLocker
	backoffScheduler  RefreshBackoffScheduler
	rateLimitPolicy   RateLimitPolicy
	connectionStore   ConnectionStore
	credentialStore   CredentialStore
	credentialCodec   CredentialCodec
	hooks             LifecycleHooks
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithMarketplaceClient(client MarketplaceClient) Option {
	return func(b *serviceBuilder) {
		b.client = client
	}
}

func WithSiteDirectory(sites SiteDirectory) Option {
	return func(b *serviceBuilder) {
		b.sites = sites
	}
}

func WithOAuthFlowStore(store OAuthFlowStore) Option {
	return func(b *serviceBuilder) {
		b.flowStore = store
	}
}

func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *serviceBuilder) {
		b.connectionLocker = locker
	}
}

func WithRefreshBackoffScheduler(scheduler RefreshBackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.backoffScheduler = scheduler
	}
}

func WithRateLimitPolicy(policy RateLimitPolicy) Option {
	return func(b *serviceBuilder) {
		b.rateLimitPolicy = policy
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithCredentialCodec(codec CredentialCodec) Option {
	return func(b *serviceBuilder) {
		b.credentialCodec = codec
	}
}

func WithLifecycleHooks(hooks LifecycleHooks) Option {
	return func(b *serviceBuilder) {
		b.hooks = hooks
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("marketplace", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		credentialCodec: JSONCredentialCodec{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	oauth := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.OAuth.DefaultSiteID) != "" {
		oauth["default_site_id"] = cfg.OAuth.DefaultSiteID
	}
	if includeZero || cfg.OAuth.StateTTLSeconds > 0 {
		oauth["state_ttl_seconds"] = cfg.OAuth.StateTTLSeconds
	}
	if includeZero || cfg.OAuth.RequireCallbackRedirect {
		oauth["require_callback_redirect"] = cfg.OAuth.RequireCallbackRedirect
	}
	if includeZero || len(cfg.OAuth.Scopes) > 0 {
		oauth["scopes"] = append([]string(nil), cfg.OAuth.Scopes...)
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	refresh := map[string]any{}
	if includeZero || cfg.Refresh.LeadSeconds > 0 {
		refresh["lead_seconds"] = cfg.Refresh.LeadSeconds
	}
	if includeZero || cfg.Refresh.LeadFraction > 0 {
		refresh["lead_fraction"] = cfg.Refresh.LeadFraction
	}
	if includeZero || cfg.Refresh.ExpiringSoonSeconds > 0 {
		refresh["expiring_soon_seconds"] = cfg.Refresh.ExpiringSoonSeconds
	}
	if includeZero || cfg.Refresh.MaxAttempts > 0 {
		refresh["max_attempts"] = cfg.Refresh.MaxAttempts
	}
	if includeZero || cfg.Refresh.InitialBackoffMillis > 0 {
		refresh["initial_backoff_ms"] = cfg.Refresh.InitialBackoffMillis
	}
	if includeZero || cfg.Refresh.MaxBackoffMillis > 0 {
		refresh["max_backoff_ms"] = cfg.Refresh.MaxBackoffMillis
	}
	if includeZero || cfg.Refresh.LockTTLSeconds > 0 {
		refresh["lock_ttl_seconds"] = cfg.Refresh.LockTTLSeconds
	}
	if includeZero || cfg.Refresh.IntervalSeconds > 0 {
		refresh["interval_seconds"] = cfg.Refresh.IntervalSeconds
	}
	if includeZero || cfg.Refresh.OnStatusRead {
		refresh["on_status_read"] = cfg.Refresh.OnStatusRead
	}
	if len(refresh) > 0 {
		layer["refresh"] = refresh
	}

	return layer
}
