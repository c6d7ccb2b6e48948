package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSON   = "active_token_json"
	CredentialPayloadFormatLegacy = "legacy_token"

	CredentialPayloadVersion = 1
)

// CredentialCodec translates between the in-memory token view and the
// persisted credential payload. Encryption at rest is the store's concern;
// the codec only fixes the wire shape.
type CredentialCodec interface {
	Encode(token ActiveToken) ([]byte, string, int, error)
	Decode(payload []byte, format string, version int) (ActiveToken, error)
}

type jsonTokenPayload struct {
	ConnectionID string         `json:"connection_id,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Refreshable  bool           `json:"refreshable,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// JSONCredentialCodec is the default payload codec.
type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Encode(token ActiveToken) ([]byte, string, int, error) {
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, "", 0, errors.New("core: credential access token is required")
	}
	payload := jsonTokenPayload{
		ConnectionID: token.ConnectionID,
		TokenType:    token.TokenType,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scopes:       append([]string(nil), token.Scopes...),
		ExpiresAt:    cloneTimePointer(token.ExpiresAt),
		Refreshable:  token.Refreshable,
		Metadata:     copyAnyMap(token.Metadata),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, "", 0, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, CredentialPayloadFormatJSON, CredentialPayloadVersion, nil
}

func (JSONCredentialCodec) Decode(payload []byte, format string, version int) (ActiveToken, error) {
	switch strings.TrimSpace(format) {
	case CredentialPayloadFormatJSON, "":
		var decoded jsonTokenPayload
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return ActiveToken{}, fmt.Errorf("core: decode credential payload: %w", err)
		}
		if strings.TrimSpace(decoded.AccessToken) == "" {
			return ActiveToken{}, errors.New("core: credential payload has no access token")
		}
		return ActiveToken{
			ConnectionID: decoded.ConnectionID,
			TokenType:    decoded.TokenType,
			AccessToken:  decoded.AccessToken,
			RefreshToken: decoded.RefreshToken,
			Scopes:       append([]string(nil), decoded.Scopes...),
			ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
			Refreshable:  decoded.Refreshable,
			Metadata:     copyAnyMap(decoded.Metadata),
		}, nil
	case CredentialPayloadFormatLegacy:
		return LegacyTokenCredentialCodec{}.Decode(payload, format, version)
	default:
		return ActiveToken{}, fmt.Errorf("core: unsupported credential payload format %q", format)
	}
}

// LegacyTokenCredentialCodec reads payloads that stored only the bare access
// token string. Encode is intentionally unsupported; new writes use JSON.
type LegacyTokenCredentialCodec struct{}

func (LegacyTokenCredentialCodec) Encode(ActiveToken) ([]byte, string, int, error) {
	return nil, "", 0, errors.New("core: legacy credential codec cannot encode")
}

func (LegacyTokenCredentialCodec) Decode(payload []byte, _ string, _ int) (ActiveToken, error) {
	token := strings.TrimSpace(string(payload))
	if token == "" {
		return ActiveToken{}, errors.New("core: legacy credential payload is empty")
	}
	return ActiveToken{
		TokenType:   "Bearer",
		AccessToken: token,
	}, nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func copyAnyMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	copied := make(map[string]any, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return copied
}
