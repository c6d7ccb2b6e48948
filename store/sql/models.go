package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:marketplace_connections,alias:mc"`

	ID              string     `bun:"id,pk"`
	AccountID       string     `bun:"account_id,notnull"`
	SiteID          string     `bun:"site_id,notnull"`
	ExternalUserID  string     `bun:"external_user_id"`
	Nickname        string     `bun:"nickname"`
	Email           string     `bun:"email"`
	Status          string     `bun:"status,notnull"`
	LastError       string     `bun:"last_error"`
	LastValidatedAt *time.Time `bun:"last_validated_at,nullzero"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt       *time.Time `bun:"deleted_at,soft_delete"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:marketplace_credentials,alias:mcr"`

	ID               string     `bun:"id,pk"`
	ConnectionID     string     `bun:"connection_id,notnull"`
	Version          int        `bun:"version,notnull"`
	EncryptedPayload []byte     `bun:"encrypted_payload,notnull"`
	PayloadFormat    string     `bun:"payload_format,notnull"`
	PayloadVersion   int        `bun:"payload_version,notnull"`
	TokenType        string     `bun:"token_type,notnull"`
	Scopes           []string   `bun:"scopes,type:jsonb,notnull"`
	ExpiresAt        *time.Time `bun:"expires_at,nullzero"`
	Refreshable      bool       `bun:"refreshable,notnull"`
	Status           string     `bun:"status,notnull"`
	RevocationReason string     `bun:"revocation_reason,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type oauthFlowRecord struct {
	bun.BaseModel `bun:"table:marketplace_oauth_flows,alias:mof"`

	ID           string         `bun:"id,pk"`
	State        string         `bun:"state,notnull,unique"`
	AccountID    string         `bun:"account_id,notnull"`
	SiteID       string         `bun:"site_id,notnull"`
	RedirectURI  string         `bun:"redirect_uri"`
	CodeVerifier string         `bun:"code_verifier,notnull"`
	Scopes       []string       `bun:"scopes,type:jsonb,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt    time.Time      `bun:"expires_at,notnull"`
	ConsumedAt   *time.Time     `bun:"consumed_at,nullzero"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:marketplace_rate_limit_states,alias:mrl"`

	ID         string         `bun:"id,pk"`
	SiteID     string         `bun:"site_id,notnull"`
	AccountID  string         `bun:"account_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit_value,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds,nullzero"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
