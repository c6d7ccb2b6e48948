package core

import "time"

// Health is the derived, read-only condition of a connection. It is a pure
// function of the connection, its active token, and the clock; nothing here
// touches storage.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthExpiring     Health = "expiring"
	HealthExpired      Health = "expired"
	HealthInvalid      Health = "invalid"
	HealthDisconnected Health = "disconnected"
)

const (
	// DefaultRefreshLeadTime is the minimum head start a refresh gets before
	// the access token expires.
	DefaultRefreshLeadTime = 10 * time.Minute
	// DefaultRefreshLeadFraction scales the lead window with the token
	// lifetime for short-lived tokens.
	DefaultRefreshLeadFraction = 0.10
	// DefaultExpiringSoonWindow marks tokens close enough to expiry that the
	// health read should flag them.
	DefaultExpiringSoonWindow = 5 * time.Minute
)

// TokenState captures where a token sits relative to its expiry.
type TokenState struct {
	HasAccessToken  bool
	HasRefreshToken bool
	CanAutoRefresh  bool
	ExpiresAt       *time.Time
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveTokenState evaluates token freshness at a point in time. A token
// without a recorded expiry never reads as expired.
func ResolveTokenState(now time.Time, token ActiveToken, expiringSoonWindow time.Duration) TokenState {
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultExpiringSoonWindow
	}

	state := TokenState{
		HasAccessToken:  token.AccessToken != "",
		HasRefreshToken: token.RefreshToken != "",
	}
	state.CanAutoRefresh = token.Refreshable && state.HasRefreshToken

	if token.ExpiresAt == nil || token.ExpiresAt.IsZero() {
		return state
	}

	expiresAt := token.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	state.IsExpired = !expiresAt.After(now)
	state.IsExpiringSoon = !state.IsExpired && expiresAt.Sub(now) <= expiringSoonWindow
	return state
}

// RefreshLeadWindow computes the refresh head start for one credential:
// the larger of the fixed lead and the lifetime fraction.
func RefreshLeadWindow(lead time.Duration, fraction float64, lifetime time.Duration) time.Duration {
	if lead <= 0 {
		lead = DefaultRefreshLeadTime
	}
	if fraction <= 0 || fraction >= 1 {
		fraction = DefaultRefreshLeadFraction
	}
	if lifetime <= 0 {
		return lead
	}
	scaled := time.Duration(float64(lifetime) * fraction)
	if scaled > lead {
		return scaled
	}
	return lead
}

// ShouldRefreshToken reports whether a refresh is due now. Tokens without an
// expiry are refreshed only once expired, which for them is never.
func ShouldRefreshToken(now time.Time, state TokenState, leadWindow time.Duration) bool {
	if !state.CanAutoRefresh {
		return false
	}
	if state.IsExpired {
		return true
	}
	if state.ExpiresAt == nil {
		return false
	}
	if leadWindow <= 0 {
		leadWindow = DefaultRefreshLeadTime
	}
	return state.ExpiresAt.Sub(now) <= leadWindow
}

// TimeUntilRefresh reports how long until the refresh window opens; zero
// means the refresh is already due.
func TimeUntilRefresh(now time.Time, state TokenState, leadWindow time.Duration) time.Duration {
	if state.ExpiresAt == nil {
		return 0
	}
	if leadWindow <= 0 {
		leadWindow = DefaultRefreshLeadTime
	}
	remaining := state.ExpiresAt.Sub(now) - leadWindow
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EvaluateHealth derives connection health from its status and token state.
func EvaluateHealth(conn Connection, state TokenState) Health {
	switch conn.Status {
	case ConnectionStatusDisconnected:
		return HealthDisconnected
	case ConnectionStatusErrored, ConnectionStatusPendingReauth:
		return HealthInvalid
	}
	if !state.HasAccessToken {
		return HealthInvalid
	}
	if state.IsExpired {
		if state.CanAutoRefresh {
			return HealthExpired
		}
		return HealthInvalid
	}
	if state.IsExpiringSoon {
		return HealthExpiring
	}
	return HealthHealthy
}
