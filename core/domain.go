package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConnectionStatusTransition = errors.New("core: invalid connection status transition")
	ErrInvalidCredentialStatusTransition = errors.New("core: invalid credential status transition")
	ErrConnectionNotFound                = errors.New("core: connection not found")
	ErrActiveCredentialNotFound          = errors.New("core: active credential not found")
)

type ConnectionStatus string

const (
	ConnectionStatusActive        ConnectionStatus = "active"
	ConnectionStatusDisconnected  ConnectionStatus = "disconnected"
	ConnectionStatusErrored       ConnectionStatus = "errored"
	ConnectionStatusPendingReauth ConnectionStatus = "pending_reauth"
)

// Connection binds one local account to one marketplace seller identity.
// At most one connection exists per account; replacing it goes through the
// OAuth callback, never through direct writes.
type Connection struct {
	ID              string
	AccountID       string
	SiteID          string
	ExternalUserID  string
	Nickname        string
	Email           string
	Status          ConnectionStatus
	LastError       string
	LastValidatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c *Connection) TransitionTo(status ConnectionStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastError = strings.TrimSpace(reason)
	}
	if status == ConnectionStatusActive {
		c.LastError = ""
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusActive: {
			ConnectionStatusDisconnected:  {},
			ConnectionStatusErrored:       {},
			ConnectionStatusPendingReauth: {},
		},
		ConnectionStatusDisconnected: {
			ConnectionStatusActive: {},
		},
		ConnectionStatusErrored: {
			ConnectionStatusActive:        {},
			ConnectionStatusPendingReauth: {},
			ConnectionStatusDisconnected:  {},
		},
		ConnectionStatusPendingReauth: {
			ConnectionStatusActive:       {},
			ConnectionStatusDisconnected: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "active"
	CredentialStatusRevoked CredentialStatus = "revoked"
	CredentialStatusExpired CredentialStatus = "expired"
)

// Credential is one immutable version of a connection's token material.
// Rotation appends a new version and revokes the previously active one in
// the same transaction.
type Credential struct {
	ID               string
	ConnectionID     string
	Version          int
	EncryptedPayload []byte
	PayloadFormat    string
	PayloadVersion   int
	TokenType        string
	Scopes           []string
	ExpiresAt        time.Time
	Refreshable      bool
	Status           CredentialStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c *Credential) TransitionTo(status CredentialStatus, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		return nil
	}
	if !credentialTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCredentialStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	return nil
}

func credentialTransitionAllowed(current, next CredentialStatus) bool {
	allowed := map[CredentialStatus]map[CredentialStatus]struct{}{
		CredentialStatusActive: {
			CredentialStatusRevoked: {},
			CredentialStatusExpired: {},
		},
		CredentialStatusExpired: {
			CredentialStatusActive:  {},
			CredentialStatusRevoked: {},
		},
		CredentialStatusRevoked: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// Lifetime returns the token lifetime recorded for this credential version,
// or zero when no expiry is known.
func (c Credential) Lifetime() time.Duration {
	if c.ExpiresAt.IsZero() || c.CreatedAt.IsZero() {
		return 0
	}
	lifetime := c.ExpiresAt.Sub(c.CreatedAt)
	if lifetime < 0 {
		return 0
	}
	return lifetime
}
