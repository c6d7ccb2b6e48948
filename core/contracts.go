package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Logger aliases keep the public surface stable if the logging backend moves.
type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// InitiateConnectionRequest starts an authorization handshake for one account.
type InitiateConnectionRequest struct {
	AccountID   string
	SiteID      string
	RedirectURI string
	Scopes      []string
	Metadata    map[string]any
}

type InitiateConnectionResponse struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

// CompleteConnectionRequest finishes the handshake with the callback payload.
// CodeVerifier is a compatibility fallback for callers that held the verifier
// themselves; the flow record's server-held verifier wins when present.
type CompleteConnectionRequest struct {
	AccountID    string
	Code         string
	State        string
	RedirectURI  string
	CodeVerifier string
}

type ConnectionResult struct {
	Connection Connection
	Credential Credential
	Health     Health
}

type StatusRequest struct {
	AccountID    string
	RefreshIfDue bool
}

// StatusReport is the read-side view of a connection. It never carries token
// material.
type StatusReport struct {
	AccountID        string
	Connected        bool
	Status           ConnectionStatus
	Health           Health
	SiteID           string
	ExternalUserID   string
	Nickname         string
	Email            string
	ExpiresAt        *time.Time
	ShouldRefresh    bool
	TimeUntilRefresh time.Duration
	LastError        string
	LastValidatedAt  *time.Time
}

type RefreshOutcome struct {
	ConnectionID string
	Token        ActiveToken
	Health       Health
	Attempts     int
	Rotated      bool
}

type DisconnectRequest struct {
	AccountID string
	Confirm   bool
	Reason    string
}

// ActiveToken is the decoded, plaintext view of the active credential. It
// stays in memory only; persistence goes through the credential codec.
type ActiveToken struct {
	ConnectionID string
	TokenType    string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	ExpiresAt    *time.Time
	Refreshable  bool
	Metadata     map[string]any
}

// Site describes one marketplace country site.
type Site struct {
	ID         string
	Name       string
	Country    string
	Currency   string
	AuthDomain string
	APIDomain  string
}

type SiteDirectory interface {
	Get(siteID string) (Site, bool)
	List() []Site
}

type AuthorizationURLRequest struct {
	SiteID              string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
}

type ExchangeCodeRequest struct {
	SiteID       string
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// TokenGrant is the provider's token response, normalized.
type TokenGrant struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	UserID       string
	ExpiresAt    *time.Time
}

const (
	AccountTypeManager      = "manager"
	AccountTypeCollaborator = "collaborator"
)

type Identity struct {
	UserID      string
	Nickname    string
	Email       string
	SiteID      string
	AccountType string
}

type RevokeTokenRequest struct {
	SiteID      string
	UserID      string
	AccessToken string
}

// MarketplaceClient is the outbound surface to the marketplace's OAuth and
// identity endpoints.
type MarketplaceClient interface {
	AuthorizationURL(req AuthorizationURLRequest) (string, error)
	ExchangeCode(ctx context.Context, req ExchangeCodeRequest) (TokenGrant, error)
	RefreshToken(ctx context.Context, siteID, refreshToken string) (TokenGrant, error)
	FetchIdentity(ctx context.Context, accessToken string) (Identity, error)
	RevokeToken(ctx context.Context, req RevokeTokenRequest) error
}

type CreateConnectionInput struct {
	AccountID      string
	SiteID         string
	ExternalUserID string
	Nickname       string
	Email          string
	Status         ConnectionStatus
}

type UpdateIdentityInput struct {
	SiteID          string
	ExternalUserID  string
	Nickname        string
	Email           string
	LastValidatedAt time.Time
}

type ConnectionStore interface {
	Create(ctx context.Context, input CreateConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	GetByAccount(ctx context.Context, accountID string) (Connection, error)
	ListByStatus(ctx context.Context, status ConnectionStatus) ([]Connection, error)
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, reason string) error
	UpdateIdentity(ctx context.Context, id string, input UpdateIdentityInput) error
}

type SaveCredentialInput struct {
	ConnectionID     string
	EncryptedPayload []byte
	PayloadFormat    string
	PayloadVersion   int
	TokenType        string
	Scopes           []string
	ExpiresAt        *time.Time
	Refreshable      bool
}

type CredentialStore interface {
	SaveNewVersion(ctx context.Context, input SaveCredentialInput) (Credential, error)
	GetActiveByConnection(ctx context.Context, connectionID string) (Credential, error)
	RevokeActive(ctx context.Context, connectionID, reason string) error
}

// StoreProvider supplies the durable stores the service needs; implementations
// may back them with bun repositories or in-memory fakes.
type StoreProvider interface {
	ConnectionStore() ConnectionStore
	CredentialStore() CredentialStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistence any) (ConnectionStore, CredentialStore, error)
}

// RateLimitKey identifies one throttle bucket on the provider.
type RateLimitKey struct {
	SiteID    string
	AccountID string
	BucketKey string
}

// ProviderResponseMeta carries the transport facts a rate limit policy needs.
type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

// JobExecutionMessage mirrors the fields the job queue adapter carries for a
// background refresh execution.
type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

// LifecycleHooks receives notifications after state-changing operations.
// All methods are optional; a nil hook set is valid.
type LifecycleHooks interface {
	OnConnected(ctx context.Context, conn Connection)
	OnRefreshed(ctx context.Context, conn Connection, outcome RefreshOutcome)
	OnDisconnected(ctx context.Context, conn Connection)
}
