package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSiteDirectory struct {
	sites map[string]Site
}

func newFakeSiteDirectory() fakeSiteDirectory {
	return fakeSiteDirectory{sites: map[string]Site{
		"MLA": {
			ID:         "MLA",
			Name:       "Mercado Libre Argentina",
			Country:    "AR",
			Currency:   "ARS",
			AuthDomain: "https://auth.mercadolibre.com.ar",
			APIDomain:  "https://api.mercadolibre.com",
		},
		"MLB": {
			ID:         "MLB",
			Name:       "Mercado Livre Brasil",
			Country:    "BR",
			Currency:   "BRL",
			AuthDomain: "https://auth.mercadolivre.com.br",
			APIDomain:  "https://api.mercadolibre.com",
		},
	}}
}

func (d fakeSiteDirectory) Get(siteID string) (Site, bool) {
	site, ok := d.sites[strings.ToUpper(strings.TrimSpace(siteID))]
	return site, ok
}

func (d fakeSiteDirectory) List() []Site {
	out := make([]Site, 0, len(d.sites))
	for _, site := range d.sites {
		out = append(out, site)
	}
	return out
}

type fakeMarketplaceClient struct {
	mu sync.Mutex

	authorizationURLFn func(req AuthorizationURLRequest) (string, error)
	exchangeCodeFn     func(ctx context.Context, req ExchangeCodeRequest) (TokenGrant, error)
	refreshTokenFn     func(ctx context.Context, siteID, refreshToken string) (TokenGrant, error)
	fetchIdentityFn    func(ctx context.Context, accessToken string) (Identity, error)
	revokeTokenFn      func(ctx context.Context, req RevokeTokenRequest) error

	exchangeCalls []ExchangeCodeRequest
	refreshCalls  int
	revokeCalls   []RevokeTokenRequest
}

func (c *fakeMarketplaceClient) AuthorizationURL(req AuthorizationURLRequest) (string, error) {
	if c.authorizationURLFn != nil {
		return c.authorizationURLFn(req)
	}
	return "https://auth.mercadolibre.com.ar/authorization?state=" + req.State, nil
}

func (c *fakeMarketplaceClient) ExchangeCode(ctx context.Context, req ExchangeCodeRequest) (TokenGrant, error) {
	c.mu.Lock()
	c.exchangeCalls = append(c.exchangeCalls, req)
	c.mu.Unlock()
	if c.exchangeCodeFn != nil {
		return c.exchangeCodeFn(ctx, req)
	}
	expiresAt := time.Now().UTC().Add(6 * time.Hour)
	return TokenGrant{
		TokenType:    "Bearer",
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		Scopes:       []string{"offline_access", "read"},
		UserID:       "1001",
		ExpiresAt:    &expiresAt,
	}, nil
}

func (c *fakeMarketplaceClient) RefreshToken(ctx context.Context, siteID, refreshToken string) (TokenGrant, error) {
	c.mu.Lock()
	c.refreshCalls++
	c.mu.Unlock()
	if c.refreshTokenFn != nil {
		return c.refreshTokenFn(ctx, siteID, refreshToken)
	}
	expiresAt := time.Now().UTC().Add(6 * time.Hour)
	return TokenGrant{
		TokenType:    "Bearer",
		AccessToken:  "access-token-2",
		RefreshToken: "refresh-token-2",
		ExpiresAt:    &expiresAt,
	}, nil
}

func (c *fakeMarketplaceClient) FetchIdentity(ctx context.Context, accessToken string) (Identity, error) {
	if c.fetchIdentityFn != nil {
		return c.fetchIdentityFn(ctx, accessToken)
	}
	return Identity{
		UserID:      "1001",
		Nickname:    "TESTSELLER",
		Email:       "seller@example.com",
		SiteID:      "MLA",
		AccountType: AccountTypeManager,
	}, nil
}

func (c *fakeMarketplaceClient) RevokeToken(ctx context.Context, req RevokeTokenRequest) error {
	c.mu.Lock()
	c.revokeCalls = append(c.revokeCalls, req)
	c.mu.Unlock()
	if c.revokeTokenFn != nil {
		return c.revokeTokenFn(ctx, req)
	}
	return nil
}

func (c *fakeMarketplaceClient) refreshCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshCalls
}

type memoryConnectionStore struct {
	mu    sync.Mutex
	seq   int
	conns map[string]Connection
}

func newMemoryConnectionStore() *memoryConnectionStore {
	return &memoryConnectionStore{conns: map[string]Connection{}}
}

func (s *memoryConnectionStore) Create(ctx context.Context, input CreateConnectionInput) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	status := input.Status
	if status == "" {
		status = ConnectionStatusActive
	}
	conn := Connection{
		ID:             fmt.Sprintf("conn-%d", s.seq),
		AccountID:      input.AccountID,
		SiteID:         input.SiteID,
		ExternalUserID: input.ExternalUserID,
		Nickname:       input.Nickname,
		Email:          input.Email,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.conns[conn.ID] = conn
	return conn, nil
}

func (s *memoryConnectionStore) Get(ctx context.Context, id string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	return conn, nil
}

func (s *memoryConnectionStore) GetByAccount(ctx context.Context, accountID string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		if strings.EqualFold(conn.AccountID, accountID) {
			return conn, nil
		}
	}
	return Connection{}, fmt.Errorf("%w for account %q", ErrConnectionNotFound, accountID)
}

func (s *memoryConnectionStore) ListByStatus(ctx context.Context, status ConnectionStatus) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Connection{}
	for _, conn := range s.conns {
		if conn.Status == status {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (s *memoryConnectionStore) UpdateStatus(ctx context.Context, id string, status ConnectionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	conn.Status = status
	conn.LastError = reason
	if status == ConnectionStatusActive {
		conn.LastError = ""
	}
	conn.UpdatedAt = time.Now().UTC()
	s.conns[id] = conn
	return nil
}

func (s *memoryConnectionStore) UpdateIdentity(ctx context.Context, id string, input UpdateIdentityInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	if input.SiteID != "" {
		conn.SiteID = input.SiteID
	}
	conn.ExternalUserID = input.ExternalUserID
	conn.Nickname = input.Nickname
	conn.Email = input.Email
	if !input.LastValidatedAt.IsZero() {
		validated := input.LastValidatedAt
		conn.LastValidatedAt = &validated
	}
	conn.UpdatedAt = time.Now().UTC()
	s.conns[id] = conn
	return nil
}

type memoryCredentialStore struct {
	mu    sync.Mutex
	seq   int
	creds map[string][]Credential
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{creds: map[string][]Credential{}}
}

func (s *memoryCredentialStore) SaveNewVersion(ctx context.Context, input SaveCredentialInput) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	existing := s.creds[input.ConnectionID]
	for i := range existing {
		if existing[i].Status == CredentialStatusActive {
			existing[i].Status = CredentialStatusRevoked
			existing[i].UpdatedAt = now
		}
	}
	s.seq++
	credential := Credential{
		ID:               fmt.Sprintf("cred-%d", s.seq),
		ConnectionID:     input.ConnectionID,
		Version:          len(existing) + 1,
		EncryptedPayload: append([]byte(nil), input.EncryptedPayload...),
		PayloadFormat:    input.PayloadFormat,
		PayloadVersion:   input.PayloadVersion,
		TokenType:        input.TokenType,
		Scopes:           append([]string(nil), input.Scopes...),
		Refreshable:      input.Refreshable,
		Status:           CredentialStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if input.ExpiresAt != nil {
		credential.ExpiresAt = input.ExpiresAt.UTC()
	}
	s.creds[input.ConnectionID] = append(existing, credential)
	return credential, nil
}

func (s *memoryCredentialStore) GetActiveByConnection(ctx context.Context, connectionID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.creds[connectionID]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status == CredentialStatusActive {
			return versions[i], nil
		}
	}
	return Credential{}, fmt.Errorf("%w for connection %q", ErrActiveCredentialNotFound, connectionID)
}

func (s *memoryCredentialStore) RevokeActive(ctx context.Context, connectionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.creds[connectionID]
	for i := range versions {
		if versions[i].Status == CredentialStatusActive {
			versions[i].Status = CredentialStatusRevoked
			versions[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (s *memoryCredentialStore) versionCount(connectionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creds[connectionID])
}

type testEnv struct {
	service     *Service
	client      *fakeMarketplaceClient
	connections *memoryConnectionStore
	credentials *memoryCredentialStore
}

func newTestService(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	client := &fakeMarketplaceClient{}
	connections := newMemoryConnectionStore()
	credentials := newMemoryCredentialStore()

	baseOpts := []Option{
		WithMarketplaceClient(client),
		WithSiteDirectory(newFakeSiteDirectory()),
		WithConnectionStore(connections),
		WithCredentialStore(credentials),
	}
	service, err := NewService(Config{}, append(baseOpts, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return testEnv{
		service:     service,
		client:      client,
		connections: connections,
		credentials: credentials,
	}
}

// connectAccount drives a full handshake so tests start from an active
// connection.
func connectAccount(t *testing.T, env testEnv, accountID string) ConnectionResult {
	t.Helper()
	ctx := context.Background()
	initiated, err := env.service.InitiateConnection(ctx, InitiateConnectionRequest{
		AccountID:   accountID,
		SiteID:      "MLA",
		RedirectURI: "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("InitiateConnection: %v", err)
	}
	result, err := env.service.CompleteConnection(ctx, CompleteConnectionRequest{
		AccountID: accountID,
		Code:      "auth-code",
		State:     initiated.State,
	})
	if err != nil {
		t.Fatalf("CompleteConnection: %v", err)
	}
	return result
}

func timePtr(value time.Time) *time.Time {
	return &value
}
