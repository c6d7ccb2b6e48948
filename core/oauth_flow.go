package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultOAuthFlowTTL bounds how long an authorization handshake may stay
// pending before the state stops being accepted.
const DefaultOAuthFlowTTL = 10 * time.Minute

var (
	ErrOAuthFlowNotFound = errors.New("core: oauth flow state not found")
	ErrOAuthFlowExpired  = errors.New("core: oauth flow state expired")
)

// OAuthFlowRecord is the pending-handshake context keyed by the opaque state
// value. The code verifier is held here so callbacks never need to carry it.
type OAuthFlowRecord struct {
	State        string
	AccountID    string
	SiteID       string
	RedirectURI  string
	CodeVerifier string
	Scopes       []string
	Metadata     map[string]any
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// OAuthFlowStore persists pending flows. Consume is single-use: a state value
// resolves at most once, expired or repeated lookups fail.
type OAuthFlowStore interface {
	Save(ctx context.Context, record OAuthFlowRecord) error
	Consume(ctx context.Context, state string) (OAuthFlowRecord, error)
}

// MemoryOAuthFlowStore is the in-process store used by tests and single-node
// deployments; durable deployments use the sqlstore implementation.
type MemoryOAuthFlowStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	records    map[string]OAuthFlowRecord
}

func NewMemoryOAuthFlowStore(ttl time.Duration) *MemoryOAuthFlowStore {
	return NewMemoryOAuthFlowStoreWithLimits(ttl, 0)
}

// NewMemoryOAuthFlowStoreWithLimits bounds the store to maxEntries live
// records; saving past capacity evicts the oldest record. maxEntries <= 0
// disables the bound.
func NewMemoryOAuthFlowStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryOAuthFlowStore {
	if ttl <= 0 {
		ttl = DefaultOAuthFlowTTL
	}
	return &MemoryOAuthFlowStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		records:    map[string]OAuthFlowRecord{},
	}
}

func (s *MemoryOAuthFlowStore) Save(ctx context.Context, record OAuthFlowRecord) error {
	if s == nil {
		return errors.New("core: oauth flow store is nil")
	}
	if record.State == "" {
		return errors.New("core: oauth flow state is required")
	}

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for state, existing := range s.records {
		if !existing.ExpiresAt.After(now) {
			delete(s.records, state)
		}
	}
	if s.maxEntries > 0 && len(s.records) >= s.maxEntries {
		s.evictOldestLocked()
	}

	s.records[record.State] = record
	return nil
}

func (s *MemoryOAuthFlowStore) Consume(ctx context.Context, state string) (OAuthFlowRecord, error) {
	if s == nil {
		return OAuthFlowRecord{}, errors.New("core: oauth flow store is nil")
	}

	s.mu.Lock()
	record, ok := s.records[state]
	if ok {
		delete(s.records, state)
	}
	s.mu.Unlock()

	if !ok {
		return OAuthFlowRecord{}, ErrOAuthFlowNotFound
	}
	if !record.ExpiresAt.After(time.Now()) {
		return OAuthFlowRecord{}, ErrOAuthFlowExpired
	}
	return record, nil
}

func (s *MemoryOAuthFlowStore) evictOldestLocked() {
	oldestState := ""
	var oldestAt time.Time
	for state, record := range s.records {
		if oldestState == "" || record.CreatedAt.Before(oldestAt) {
			oldestState = state
			oldestAt = record.CreatedAt
		}
	}
	if oldestState != "" {
		delete(s.records, oldestState)
	}
}

func generateFlowState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
