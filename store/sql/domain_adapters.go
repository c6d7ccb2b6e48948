package sqlstore

import (
	"time"

	"github.com/goliatone/go-marketplace/core"
)

func newConnectionRecord(in core.CreateConnectionInput, now time.Time) *connectionRecord {
	return &connectionRecord{
		AccountID:      in.AccountID,
		SiteID:         in.SiteID,
		ExternalUserID: in.ExternalUserID,
		Nickname:       in.Nickname,
		Email:          in.Email,
		Status:         string(in.Status),
		LastError:      "",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	connection := core.Connection{
		ID:             r.ID,
		AccountID:      r.AccountID,
		SiteID:         r.SiteID,
		ExternalUserID: r.ExternalUserID,
		Nickname:       r.Nickname,
		Email:          r.Email,
		Status:         core.ConnectionStatus(r.Status),
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastValidatedAt != nil {
		value := *r.LastValidatedAt
		connection.LastValidatedAt = &value
	}
	return connection
}

func newCredentialRecord(in core.SaveCredentialInput, version int, now time.Time) *credentialRecord {
	payloadFormat := in.PayloadFormat
	if payloadFormat == "" {
		payloadFormat = core.CredentialPayloadFormatJSON
	}
	payloadVersion := in.PayloadVersion
	if payloadVersion <= 0 {
		payloadVersion = core.CredentialPayloadVersion
	}
	record := &credentialRecord{
		ConnectionID:     in.ConnectionID,
		Version:          version,
		EncryptedPayload: append([]byte(nil), in.EncryptedPayload...),
		PayloadFormat:    payloadFormat,
		PayloadVersion:   payloadVersion,
		TokenType:        in.TokenType,
		Scopes:           append([]string(nil), in.Scopes...),
		Refreshable:      in.Refreshable,
		Status:           string(core.CredentialStatusActive),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.ExpiresAt != nil {
		expiresAt := *in.ExpiresAt
		record.ExpiresAt = &expiresAt
	}
	return record
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	credential := core.Credential{
		ID:               r.ID,
		ConnectionID:     r.ConnectionID,
		Version:          r.Version,
		EncryptedPayload: append([]byte(nil), r.EncryptedPayload...),
		PayloadFormat:    r.PayloadFormat,
		PayloadVersion:   r.PayloadVersion,
		TokenType:        r.TokenType,
		Scopes:           append([]string(nil), r.Scopes...),
		Refreshable:      r.Refreshable,
		Status:           core.CredentialStatus(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ExpiresAt != nil {
		credential.ExpiresAt = *r.ExpiresAt
	}
	return credential
}

func newOAuthFlowRecord(in core.OAuthFlowRecord, now time.Time) *oauthFlowRecord {
	record := &oauthFlowRecord{
		State:        in.State,
		AccountID:    in.AccountID,
		SiteID:       in.SiteID,
		RedirectURI:  in.RedirectURI,
		CodeVerifier: in.CodeVerifier,
		Scopes:       append([]string(nil), in.Scopes...),
		Metadata:     copyAnyMap(in.Metadata),
		CreatedAt:    in.CreatedAt,
		ExpiresAt:    in.ExpiresAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(core.DefaultOAuthFlowTTL)
	}
	return record
}

func (r *oauthFlowRecord) toDomain() core.OAuthFlowRecord {
	if r == nil {
		return core.OAuthFlowRecord{}
	}
	return core.OAuthFlowRecord{
		State:        r.State,
		AccountID:    r.AccountID,
		SiteID:       r.SiteID,
		RedirectURI:  r.RedirectURI,
		CodeVerifier: r.CodeVerifier,
		Scopes:       append([]string(nil), r.Scopes...),
		Metadata:     copyAnyMap(r.Metadata),
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
	}
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
