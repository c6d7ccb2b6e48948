package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// Service orchestrates the connection lifecycle: authorization handshakes,
// token persistence, health reads, refreshes, and disconnects. Construct it
// with NewService; the zero value is not usable.
type Service struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	client           MarketplaceClient
	sites            SiteDirectory
	flowStore        OAuthFlowStore
	connectionLocker ConnectionLocker
	backoffScheduler RefreshBackoffScheduler
	rateLimitPolicy  RateLimitPolicy
	connectionStore  ConnectionStore
	credentialStore  CredentialStore
	codec            CredentialCodec
	hooks            LifecycleHooks
	refreshGroup     singleflight.Group
	now              func() time.Time
}

// ServiceDependencies exposes the resolved collaborators for callers that
// compose further layers on top of the service.
type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	Client           MarketplaceClient
	Sites            SiteDirectory
	FlowStore        OAuthFlowStore
	ConnectionLocker ConnectionLocker
	RateLimitPolicy  RateLimitPolicy
	ConnectionStore  ConnectionStore
	CredentialStore  CredentialStore
	CredentialCodec  CredentialCodec
}

func NewService(runtime Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(runtime)
	for _, option := range options {
		if option != nil {
			option(&builder)
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(fmt.Errorf("core: config load failed: %w", err))
	}
	resolved, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(fmt.Errorf("core: config resolution failed: %w", err))
	}

	if builder.client == nil {
		return nil, mapBuildError(errors.New("core: marketplace client is required"))
	}
	if builder.sites == nil {
		return nil, mapBuildError(errors.New("core: site directory is required"))
	}

	connectionStore := builder.connectionStore
	credentialStore := builder.credentialStore
	if (connectionStore == nil || credentialStore == nil) && builder.repositoryFactory != nil {
		factory, ok := builder.repositoryFactory.(RepositoryStoreFactory)
		if !ok {
			return nil, mapBuildError(errors.New("core: repository factory does not implement RepositoryStoreFactory"))
		}
		builtConn, builtCred, buildErr := factory.BuildStores(builder.persistenceClient)
		if buildErr != nil {
			return nil, mapBuildError(fmt.Errorf("core: store build failed: %w", buildErr))
		}
		if connectionStore == nil {
			connectionStore = builtConn
		}
		if credentialStore == nil {
			credentialStore = builtCred
		}
	}
	if connectionStore == nil {
		return nil, mapBuildError(errors.New("core: connection store is required"))
	}
	if credentialStore == nil {
		return nil, mapBuildError(errors.New("core: credential store is required"))
	}

	flowStore := builder.flowStore
	if flowStore == nil {
		flowStore = NewMemoryOAuthFlowStore(resolved.OAuth.StateTTL())
	}
	locker := builder.connectionLocker
	if locker == nil {
		locker = NewMemoryConnectionLocker()
	}
	backoff := builder.backoffScheduler
	if backoff == nil {
		backoff = ExponentialBackoffScheduler{
			InitialDelay: resolved.Refresh.InitialBackoff(),
			MaxDelay:     resolved.Refresh.MaxBackoff(),
		}
	}
	codec := builder.credentialCodec
	if codec == nil {
		codec = JSONCredentialCodec{}
	}

	return &Service{
		config:           resolved,
		logger:           builder.logger,
		loggerProvider:   builder.loggerProvider,
		metricsRecorder:  builder.metricsRecorder,
		errorFactory:     builder.errorFactory,
		errorMapper:      builder.errorMapper,
		client:           builder.client,
		sites:            builder.sites,
		flowStore:        flowStore,
		connectionLocker: locker,
		backoffScheduler: backoff,
		rateLimitPolicy:  builder.rateLimitPolicy,
		connectionStore:  connectionStore,
		credentialStore:  credentialStore,
		codec:            codec,
		hooks:            builder.hooks,
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

// Setup is the convenience constructor for hosts that only tweak runtime
// config and options.
func Setup(runtime Config, options ...Option) (*Service, error) {
	return NewService(runtime, options...)
}

func mapBuildError(err error) error {
	if err == nil {
		return nil
	}
	return ensureServiceErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryInternal, "marketplace service setup failed").
		WithTextCode(ServiceErrorInternal))
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		Client:           s.client,
		Sites:            s.sites,
		FlowStore:        s.flowStore,
		ConnectionLocker: s.connectionLocker,
		RateLimitPolicy:  s.rateLimitPolicy,
		ConnectionStore:  s.connectionStore,
		CredentialStore:  s.credentialStore,
		CredentialCodec:  s.codec,
	}
}

// InitiateConnection starts an authorization handshake and returns the URL
// the seller visits. The PKCE verifier never leaves the flow store.
func (s *Service) InitiateConnection(ctx context.Context, req InitiateConnectionRequest) (res InitiateConnectionResponse, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{"account_id": req.AccountID, "site_id": req.SiteID}
	defer func() { s.observeOperation(ctx, startedAt, "initiate_connection", err, fields) }()

	if s == nil {
		return InitiateConnectionResponse{}, errors.New("core: service is nil")
	}

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return InitiateConnectionResponse{}, s.mapError(errors.New("core: account id is required"))
	}
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if redirectURI == "" && s.config.OAuth.RequireCallbackRedirect {
		return InitiateConnectionResponse{}, s.mapError(errors.New("core: redirect uri is required"))
	}

	site, err := s.resolveSite(req.SiteID)
	if err != nil {
		return InitiateConnectionResponse{}, s.mapError(err)
	}
	fields["site_id"] = site.ID

	state, err := generateFlowState()
	if err != nil {
		return InitiateConnectionResponse{}, s.mapError(err)
	}
	pkce, err := GeneratePKCE()
	if err != nil {
		return InitiateConnectionResponse{}, s.mapError(err)
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = s.config.OAuth.Scopes
	}

	authorizationURL, err := s.client.AuthorizationURL(AuthorizationURLRequest{
		SiteID:              site.ID,
		RedirectURI:         redirectURI,
		State:               state,
		CodeChallenge:       pkce.Challenge,
		CodeChallengeMethod: pkce.ChallengeMethod,
		Scopes:              scopes,
	})
	if err != nil {
		return InitiateConnectionResponse{}, s.mapError(err)
	}

	now := s.nowUTC()
	record := OAuthFlowRecord{
		State:        state,
		AccountID:    accountID,
		SiteID:       site.ID,
		RedirectURI:  redirectURI,
		CodeVerifier: pkce.Verifier,
		Scopes:       append([]string(nil), scopes...),
		Metadata:     copyAnyMap(req.Metadata),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.config.OAuth.StateTTL()),
	}
	if err := s.flowStore.Save(ctx, record); err != nil {
		return InitiateConnectionResponse{}, s.mapError(err)
	}

	return InitiateConnectionResponse{
		AuthorizationURL: authorizationURL,
		State:            state,
		ExpiresAt:        record.ExpiresAt,
	}, nil
}

// CompleteConnection finishes the handshake: validates the single-use state,
// exchanges the code, verifies the identity, and atomically replaces any
// prior connection for the account. No record is written on failure.
func (s *Service) CompleteConnection(ctx context.Context, req CompleteConnectionRequest) (result ConnectionResult, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{"account_id": req.AccountID}
	defer func() { s.observeOperation(ctx, startedAt, "complete_connection", err, fields) }()

	if s == nil {
		return ConnectionResult{}, errors.New("core: service is nil")
	}
	if strings.TrimSpace(req.Code) == "" {
		return ConnectionResult{}, s.mapError(errors.New("core: authorization code is required"))
	}
	if strings.TrimSpace(req.State) == "" {
		return ConnectionResult{}, s.mapError(errors.New("core: oauth state is required"))
	}

	record, err := s.validateCallbackState(ctx, req)
	if err != nil {
		return ConnectionResult{}, s.mapError(err)
	}
	fields["site_id"] = record.SiteID

	verifier := record.CodeVerifier
	if verifier == "" {
		verifier = strings.TrimSpace(req.CodeVerifier)
	}
	if verifier == "" {
		return ConnectionResult{}, s.mapError(errors.New("core: oauth flow has no code verifier"))
	}

	key := RateLimitKey{SiteID: record.SiteID, AccountID: record.AccountID, BucketKey: rateLimitBucketToken}
	if err := s.beforeProviderCall(ctx, key); err != nil {
		return ConnectionResult{}, s.mapError(err)
	}
	grant, err := s.client.ExchangeCode(ctx, ExchangeCodeRequest{
		SiteID:       record.SiteID,
		Code:         strings.TrimSpace(req.Code),
		RedirectURI:  record.RedirectURI,
		CodeVerifier: verifier,
	})
	s.afterProviderCall(ctx, key, err)
	if err != nil {
		return ConnectionResult{}, s.mapError(err)
	}

	identity, err := s.client.FetchIdentity(ctx, grant.AccessToken)
	if err != nil {
		return ConnectionResult{}, s.mapError(err)
	}
	if !strings.EqualFold(identity.AccountType, AccountTypeManager) && identity.AccountType != "" {
		return ConnectionResult{}, NewManagerAccountError(record.SiteID, identity.AccountType)
	}

	siteID := record.SiteID
	if strings.TrimSpace(identity.SiteID) != "" {
		siteID = strings.TrimSpace(identity.SiteID)
	}

	conn, err := s.upsertConnection(ctx, record.AccountID, siteID, identity)
	if err != nil {
		return ConnectionResult{}, s.mapError(err)
	}
	fields["connection_id"] = conn.ID

	token := ActiveToken{
		ConnectionID: conn.ID,
		TokenType:    grant.TokenType,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Scopes:       grant.Scopes,
		ExpiresAt:    cloneTimePointer(grant.ExpiresAt),
		Refreshable:  grant.RefreshToken != "",
	}
	credential, err := s.saveActiveToken(ctx, token)
	if err != nil {
		return ConnectionResult{}, s.mapError(err)
	}

	if s.hooks != nil {
		s.hooks.OnConnected(ctx, conn)
	}

	state := ResolveTokenState(s.nowUTC(), token, s.config.Refresh.ExpiringSoonWindow())
	return ConnectionResult{
		Connection: conn,
		Credential: credential,
		Health:     EvaluateHealth(conn, state),
	}, nil
}

func (s *Service) validateCallbackState(ctx context.Context, req CompleteConnectionRequest) (OAuthFlowRecord, error) {
	record, err := s.flowStore.Consume(ctx, strings.TrimSpace(req.State))
	if err != nil {
		return OAuthFlowRecord{}, err
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID != "" && !strings.EqualFold(record.AccountID, accountID) {
		return OAuthFlowRecord{}, errors.New("core: oauth state account mismatch")
	}
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if redirectURI != "" && record.RedirectURI != "" && redirectURI != record.RedirectURI {
		return OAuthFlowRecord{}, errors.New("core: oauth state redirect mismatch")
	}
	return record, nil
}

func (s *Service) upsertConnection(ctx context.Context, accountID, siteID string, identity Identity) (Connection, error) {
	now := s.nowUTC()
	existing, err := s.connectionStore.GetByAccount(ctx, accountID)
	switch {
	case err == nil:
		update := UpdateIdentityInput{
			SiteID:          siteID,
			ExternalUserID:  identity.UserID,
			Nickname:        identity.Nickname,
			Email:           identity.Email,
			LastValidatedAt: now,
		}
		if err := s.connectionStore.UpdateIdentity(ctx, existing.ID, update); err != nil {
			return Connection{}, err
		}
		if existing.Status != ConnectionStatusActive {
			if err := s.connectionStore.UpdateStatus(ctx, existing.ID, ConnectionStatusActive, ""); err != nil {
				return Connection{}, err
			}
		}
		return s.connectionStore.Get(ctx, existing.ID)
	case errors.Is(err, ErrConnectionNotFound):
		return s.connectionStore.Create(ctx, CreateConnectionInput{
			AccountID:      accountID,
			SiteID:         siteID,
			ExternalUserID: identity.UserID,
			Nickname:       identity.Nickname,
			Email:          identity.Email,
			Status:         ConnectionStatusActive,
		})
	default:
		return Connection{}, err
	}
}

// Status reports the connection condition for an account. A missing
// connection is a disconnected report, not an error. With RefreshIfDue set
// and refresh-on-read enabled, a due token is refreshed before reporting.
func (s *Service) Status(ctx context.Context, req StatusRequest) (report StatusReport, err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{"account_id": req.AccountID}
	defer func() { s.observeOperation(ctx, startedAt, "status", err, fields) }()

	if s == nil {
		return StatusReport{}, errors.New("core: service is nil")
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return StatusReport{}, s.mapError(errors.New("core: account id is required"))
	}

	report = StatusReport{AccountID: accountID, Health: HealthDisconnected, Status: ConnectionStatusDisconnected}

	conn, err := s.connectionStore.GetByAccount(ctx, accountID)
	if errors.Is(err, ErrConnectionNotFound) {
		err = nil
		return report, nil
	}
	if err != nil {
		err = s.mapError(err)
		return StatusReport{}, err
	}
	fields["connection_id"] = conn.ID
	fields["site_id"] = conn.SiteID

	report = s.buildStatusReport(ctx, conn)
	if req.RefreshIfDue && s.config.Refresh.OnStatusRead && report.ShouldRefresh {
		if _, refreshErr := s.RefreshNow(ctx, accountID); refreshErr != nil {
			s.logWarn(ctx, "refresh on status read failed", map[string]any{
				"account_id":    accountID,
				"connection_id": conn.ID,
				"error":         refreshErr.Error(),
			})
		}
		if refreshed, reloadErr := s.connectionStore.GetByAccount(ctx, accountID); reloadErr == nil {
			report = s.buildStatusReport(ctx, refreshed)
		}
	}
	return report, nil
}

func (s *Service) buildStatusReport(ctx context.Context, conn Connection) StatusReport {
	report := StatusReport{
		AccountID:       conn.AccountID,
		Connected:       conn.Status != ConnectionStatusDisconnected,
		Status:          conn.Status,
		SiteID:          conn.SiteID,
		ExternalUserID:  conn.ExternalUserID,
		Nickname:        conn.Nickname,
		Email:           conn.Email,
		LastError:       conn.LastError,
		LastValidatedAt: cloneTimePointer(conn.LastValidatedAt),
	}

	credential, err := s.credentialStore.GetActiveByConnection(ctx, conn.ID)
	if err != nil {
		report.Health = EvaluateHealth(conn, TokenState{})
		return report
	}
	token, err := s.decodeCredential(credential)
	if err != nil {
		report.Health = EvaluateHealth(conn, TokenState{})
		return report
	}

	now := s.nowUTC()
	state := ResolveTokenState(now, token, s.config.Refresh.ExpiringSoonWindow())
	lead := RefreshLeadWindow(s.config.Refresh.LeadTime(), s.config.Refresh.LeadFraction, credential.Lifetime())

	report.Health = EvaluateHealth(conn, state)
	report.ExpiresAt = cloneTimePointer(state.ExpiresAt)
	report.ShouldRefresh = ShouldRefreshToken(now, state, lead)
	report.TimeUntilRefresh = TimeUntilRefresh(now, state, lead)
	return report
}

// Disconnect tears down the account's connection. It is idempotent: a
// missing or already disconnected connection succeeds. Remote revocation is
// best effort; local state is the source of truth.
func (s *Service) Disconnect(ctx context.Context, req DisconnectRequest) (err error) {
	startedAt := s.nowUTC()
	fields := map[string]any{"account_id": req.AccountID}
	defer func() { s.observeOperation(ctx, startedAt, "disconnect", err, fields) }()

	if s == nil {
		return errors.New("core: service is nil")
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return s.mapError(errors.New("core: account id is required"))
	}
	if !req.Confirm {
		return s.mapError(errors.New("core: disconnect confirmation is required"))
	}

	conn, err := s.connectionStore.GetByAccount(ctx, accountID)
	if errors.Is(err, ErrConnectionNotFound) {
		return nil
	}
	if err != nil {
		return s.mapError(err)
	}
	fields["connection_id"] = conn.ID
	if conn.Status == ConnectionStatusDisconnected {
		return nil
	}

	s.revokeRemoteGrant(ctx, conn)

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "disconnected"
	}
	if err := s.credentialStore.RevokeActive(ctx, conn.ID, reason); err != nil &&
		!errors.Is(err, ErrActiveCredentialNotFound) {
		return s.mapError(err)
	}
	if err := s.connectionStore.UpdateStatus(ctx, conn.ID, ConnectionStatusDisconnected, reason); err != nil {
		return s.mapError(err)
	}

	if s.hooks != nil {
		conn.Status = ConnectionStatusDisconnected
		s.hooks.OnDisconnected(ctx, conn)
	}
	return nil
}

func (s *Service) revokeRemoteGrant(ctx context.Context, conn Connection) {
	credential, err := s.credentialStore.GetActiveByConnection(ctx, conn.ID)
	if err != nil {
		return
	}
	token, err := s.decodeCredential(credential)
	if err != nil {
		return
	}
	revokeErr := s.client.RevokeToken(ctx, RevokeTokenRequest{
		SiteID:      conn.SiteID,
		UserID:      conn.ExternalUserID,
		AccessToken: token.AccessToken,
	})
	if revokeErr != nil {
		s.logWarn(ctx, "remote grant revocation failed", map[string]any{
			"connection_id": conn.ID,
			"site_id":       conn.SiteID,
			"error":         revokeErr.Error(),
		})
	}
}

func (s *Service) resolveSite(siteID string) (Site, error) {
	siteID = strings.ToUpper(strings.TrimSpace(siteID))
	if siteID == "" {
		siteID = strings.ToUpper(strings.TrimSpace(s.config.OAuth.DefaultSiteID))
	}
	if siteID == "" {
		return Site{}, errors.New("core: site id is required")
	}
	site, ok := s.sites.Get(siteID)
	if !ok {
		return Site{}, fmt.Errorf("core: unknown site %q", siteID)
	}
	return site, nil
}

func (s *Service) saveActiveToken(ctx context.Context, token ActiveToken) (Credential, error) {
	payload, format, version, err := s.codec.Encode(token)
	if err != nil {
		return Credential{}, err
	}
	return s.credentialStore.SaveNewVersion(ctx, SaveCredentialInput{
		ConnectionID:     token.ConnectionID,
		EncryptedPayload: payload,
		PayloadFormat:    format,
		PayloadVersion:   version,
		TokenType:        token.TokenType,
		Scopes:           append([]string(nil), token.Scopes...),
		ExpiresAt:        cloneTimePointer(token.ExpiresAt),
		Refreshable:      token.Refreshable,
	})
}

func (s *Service) decodeCredential(credential Credential) (ActiveToken, error) {
	token, err := s.codec.Decode(credential.EncryptedPayload, credential.PayloadFormat, credential.PayloadVersion)
	if err != nil {
		return ActiveToken{}, err
	}
	if token.ConnectionID == "" {
		token.ConnectionID = credential.ConnectionID
	}
	if token.ExpiresAt == nil && !credential.ExpiresAt.IsZero() {
		expiresAt := credential.ExpiresAt
		token.ExpiresAt = &expiresAt
	}
	if !token.Refreshable {
		token.Refreshable = credential.Refreshable && token.RefreshToken != ""
	}
	return token, nil
}

func (s *Service) transitionConnection(ctx context.Context, conn *Connection, status ConnectionStatus, reason string) {
	if conn == nil {
		return
	}
	if err := conn.TransitionTo(status, reason, s.nowUTC()); err != nil {
		s.logWarn(ctx, "connection status transition rejected", map[string]any{
			"connection_id": conn.ID,
			"status":        string(status),
			"error":         err.Error(),
		})
		return
	}
	if err := s.connectionStore.UpdateStatus(ctx, conn.ID, status, reason); err != nil {
		s.logWarn(ctx, "connection status update failed", map[string]any{
			"connection_id": conn.ID,
			"status":        string(status),
			"error":         err.Error(),
		})
	}
}

func (s *Service) beforeProviderCall(ctx context.Context, key RateLimitKey) error {
	if s.rateLimitPolicy == nil {
		return nil
	}
	return s.rateLimitPolicy.BeforeCall(ctx, key)
}

func (s *Service) afterProviderCall(ctx context.Context, key RateLimitKey, callErr error) {
	if s.rateLimitPolicy == nil {
		return
	}
	meta := ProviderResponseMeta{StatusCode: 200}
	if callErr != nil {
		meta = ResponseMetaFromError(callErr)
	}
	if err := s.rateLimitPolicy.AfterCall(ctx, key, meta); err != nil {
		s.logWarn(ctx, "rate limit accounting failed", map[string]any{
			"site_id":   key.SiteID,
			"bucket":    key.BucketKey,
			"error":     err.Error(),
			"operation": "after_call",
		})
	}
}

func (s *Service) mapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return serviceErrorMapper(err)
	}
	return s.errorMapper(err)
}

func (s *Service) nowUTC() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}
