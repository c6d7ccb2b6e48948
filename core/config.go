package core

import (
	"errors"
	"strings"
	"time"
)

// Config is the serializable service configuration. Durations are carried as
// plain integers so every koanf backend round-trips them the same way.
type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name" json:"service_name"`
	OAuth       OAuthConfig   `koanf:"oauth" mapstructure:"oauth" json:"oauth"`
	Refresh     RefreshConfig `koanf:"refresh" mapstructure:"refresh" json:"refresh"`
}

type OAuthConfig struct {
	DefaultSiteID           string   `koanf:"default_site_id" mapstructure:"default_site_id" json:"default_site_id"`
	StateTTLSeconds         int      `koanf:"state_ttl_seconds" mapstructure:"state_ttl_seconds" json:"state_ttl_seconds"`
	RequireCallbackRedirect bool     `koanf:"require_callback_redirect" mapstructure:"require_callback_redirect" json:"require_callback_redirect"`
	Scopes                  []string `koanf:"scopes" mapstructure:"scopes" json:"scopes"`
}

type RefreshConfig struct {
	LeadSeconds          int     `koanf:"lead_seconds" mapstructure:"lead_seconds" json:"lead_seconds"`
	LeadFraction         float64 `koanf:"lead_fraction" mapstructure:"lead_fraction" json:"lead_fraction"`
	ExpiringSoonSeconds  int     `koanf:"expiring_soon_seconds" mapstructure:"expiring_soon_seconds" json:"expiring_soon_seconds"`
	MaxAttempts          int     `koanf:"max_attempts" mapstructure:"max_attempts" json:"max_attempts"`
	InitialBackoffMillis int     `koanf:"initial_backoff_ms" mapstructure:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMillis     int     `koanf:"max_backoff_ms" mapstructure:"max_backoff_ms" json:"max_backoff_ms"`
	LockTTLSeconds       int     `koanf:"lock_ttl_seconds" mapstructure:"lock_ttl_seconds" json:"lock_ttl_seconds"`
	IntervalSeconds      int     `koanf:"interval_seconds" mapstructure:"interval_seconds" json:"interval_seconds"`
	OnStatusRead         bool    `koanf:"on_status_read" mapstructure:"on_status_read" json:"on_status_read"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "marketplace",
		OAuth: OAuthConfig{
			DefaultSiteID:           "MLA",
			StateTTLSeconds:         int(DefaultOAuthFlowTTL / time.Second),
			RequireCallbackRedirect: true,
		},
		Refresh: RefreshConfig{
			LeadSeconds:          int(DefaultRefreshLeadTime / time.Second),
			LeadFraction:         DefaultRefreshLeadFraction,
			ExpiringSoonSeconds:  int(DefaultExpiringSoonWindow / time.Second),
			MaxAttempts:          3,
			InitialBackoffMillis: 500,
			MaxBackoffMillis:     10_000,
			LockTTLSeconds:       30,
			IntervalSeconds:      60,
			OnStatusRead:         true,
		},
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("core: config is nil")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return errors.New("core: config service_name is required")
	}
	if c.Refresh.LeadFraction < 0 || c.Refresh.LeadFraction >= 1 {
		return errors.New("core: config refresh lead_fraction must be in [0, 1)")
	}
	if c.Refresh.MaxAttempts < 0 {
		return errors.New("core: config refresh max_attempts must not be negative")
	}
	return nil
}

func (c OAuthConfig) StateTTL() time.Duration {
	if c.StateTTLSeconds <= 0 {
		return DefaultOAuthFlowTTL
	}
	return time.Duration(c.StateTTLSeconds) * time.Second
}

func (c RefreshConfig) LeadTime() time.Duration {
	if c.LeadSeconds <= 0 {
		return DefaultRefreshLeadTime
	}
	return time.Duration(c.LeadSeconds) * time.Second
}

func (c RefreshConfig) ExpiringSoonWindow() time.Duration {
	if c.ExpiringSoonSeconds <= 0 {
		return DefaultExpiringSoonWindow
	}
	return time.Duration(c.ExpiringSoonSeconds) * time.Second
}

func (c RefreshConfig) InitialBackoff() time.Duration {
	if c.InitialBackoffMillis <= 0 {
		return defaultRefreshInitialBackoff
	}
	return time.Duration(c.InitialBackoffMillis) * time.Millisecond
}

func (c RefreshConfig) MaxBackoff() time.Duration {
	if c.MaxBackoffMillis <= 0 {
		return defaultRefreshMaxBackoff
	}
	return time.Duration(c.MaxBackoffMillis) * time.Millisecond
}

func (c RefreshConfig) LockTTL() time.Duration {
	if c.LockTTLSeconds <= 0 {
		return defaultRefreshLockTTL
	}
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c RefreshConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c RefreshConfig) Attempts() int {
	if c.MaxAttempts <= 0 {
		return defaultRefreshMaxAttempts
	}
	return c.MaxAttempts
}
