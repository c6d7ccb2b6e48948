package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRefreshMaxAttempts    = 3
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
	defaultRefreshLockTTL        = 30 * time.Second
)

const rateLimitBucketToken = "oauth_token"

var ErrRefreshLockHeld = errors.New("core: refresh lock already held")

// LockHandle releases a held refresh lock. Unlock is idempotent.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes refreshes for one connection across processes.
type ConnectionLocker interface {
	Acquire(ctx context.Context, connectionID string, ttl time.Duration) (LockHandle, error)
}

// RefreshBackoffScheduler decides how long to wait before retry attempt n.
type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	initial := s.InitialDelay
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.MaxDelay
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// MemoryConnectionLocker is the in-process locker. Multi-node deployments
// swap in a shared implementation.
type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{locks: map[string]time.Time{}}
}

func (l *MemoryConnectionLocker) Acquire(ctx context.Context, connectionID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, errors.New("core: connection locker is nil")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, errors.New("core: connection id is required")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiresAt, held := l.locks[connectionID]; held && expiresAt.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrRefreshLockHeld, connectionID)
	}
	l.locks[connectionID] = now.Add(ttl)
	return &memoryLockHandle{locker: l, connectionID: connectionID}, nil
}

type memoryLockHandle struct {
	locker       *MemoryConnectionLocker
	connectionID string
	once         sync.Once
}

func (h *memoryLockHandle) Unlock(ctx context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.connectionID)
		h.locker.mu.Unlock()
	})
	return nil
}

type refreshLockContextKey struct{}

func isRefreshLockHeld(ctx context.Context, connectionID string) bool {
	if ctx == nil {
		return false
	}
	held, _ := ctx.Value(refreshLockContextKey{}).(string)
	return held != "" && held == connectionID
}

// RefreshNow refreshes the account's access token immediately. Concurrent
// callers for the same account collapse onto a single provider call and
// share its outcome.
func (s *Service) RefreshNow(ctx context.Context, accountID string) (outcome RefreshOutcome, err error) {
	startedAt := s.nowUTC()
	accountID = strings.TrimSpace(accountID)
	fields := map[string]any{"account_id": accountID}
	defer func() {
		fields["attempts"] = outcome.Attempts
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	if s == nil {
		return RefreshOutcome{}, errors.New("core: service is nil")
	}
	if accountID == "" {
		return RefreshOutcome{}, s.mapError(errors.New("core: account id is required"))
	}

	result, err, _ := s.refreshGroup.Do(accountID, func() (any, error) {
		return s.runRefresh(ctx, accountID)
	})
	if err != nil {
		return RefreshOutcome{}, err
	}
	outcome, _ = result.(RefreshOutcome)
	fields["connection_id"] = outcome.ConnectionID
	return outcome, nil
}

func (s *Service) runRefresh(ctx context.Context, accountID string) (RefreshOutcome, error) {
	conn, err := s.connectionStore.GetByAccount(ctx, accountID)
	if err != nil {
		return RefreshOutcome{}, s.mapError(err)
	}
	if conn.Status == ConnectionStatusDisconnected {
		return RefreshOutcome{}, s.mapError(fmt.Errorf("core: connection is disconnected: %s", conn.ID))
	}

	if !isRefreshLockHeld(ctx, conn.ID) {
		handle, lockErr := s.connectionLocker.Acquire(ctx, conn.ID, s.config.Refresh.LockTTL())
		if lockErr != nil {
			return RefreshOutcome{}, s.mapError(lockErr)
		}
		defer func() {
			_ = handle.Unlock(context.WithoutCancel(ctx))
		}()
		ctx = context.WithValue(ctx, refreshLockContextKey{}, conn.ID)
	}

	credential, err := s.credentialStore.GetActiveByConnection(ctx, conn.ID)
	if err != nil {
		return RefreshOutcome{}, s.mapError(err)
	}
	token, err := s.decodeCredential(credential)
	if err != nil {
		return RefreshOutcome{}, s.mapError(err)
	}
	if !token.Refreshable || token.RefreshToken == "" {
		s.transitionConnection(ctx, &conn, ConnectionStatusPendingReauth, "refresh token is not available")
		return RefreshOutcome{}, ensureServiceErrorEnvelope(
			s.errorFactory("refresh token is not available; reconnect the account", goerrors.CategoryAuth).
				WithTextCode(ServiceErrorTokenExpired))
	}

	key := RateLimitKey{SiteID: conn.SiteID, AccountID: conn.AccountID, BucketKey: rateLimitBucketToken}
	attempts := s.config.Refresh.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.beforeProviderCall(ctx, key); err != nil {
			return RefreshOutcome{ConnectionID: conn.ID, Attempts: attempt}, s.mapError(err)
		}

		grant, callErr := s.client.RefreshToken(ctx, conn.SiteID, token.RefreshToken)
		s.afterProviderCall(ctx, key, callErr)

		if callErr == nil {
			return s.persistRefreshedGrant(ctx, conn, token, grant, attempt)
		}
		lastErr = callErr

		mapped := s.mapError(callErr)
		if mapped != nil && mapped.Category == goerrors.CategoryRateLimit {
			return RefreshOutcome{ConnectionID: conn.ID, Attempts: attempt}, mapped
		}
		if isUnrecoverableRefreshError(callErr) {
			s.transitionConnection(ctx, &conn, ConnectionStatusPendingReauth, mapped.Error())
			return RefreshOutcome{ConnectionID: conn.ID, Attempts: attempt}, mapped
		}
		if attempt == attempts {
			break
		}
		if waitErr := waitWithContext(ctx, s.backoffScheduler.NextDelay(attempt)); waitErr != nil {
			return RefreshOutcome{ConnectionID: conn.ID, Attempts: attempt}, s.mapError(waitErr)
		}
	}

	s.transitionConnection(ctx, &conn, ConnectionStatusErrored, fmt.Sprintf("refresh failed after %d attempts", attempts))
	return RefreshOutcome{ConnectionID: conn.ID, Attempts: attempts},
		s.mapError(fmt.Errorf("refresh failed after %d attempts: %w", attempts, lastErr))
}

func (s *Service) persistRefreshedGrant(
	ctx context.Context,
	conn Connection,
	previous ActiveToken,
	grant TokenGrant,
	attempt int,
) (RefreshOutcome, error) {
	next := ActiveToken{
		ConnectionID: conn.ID,
		TokenType:    grant.TokenType,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Scopes:       grant.Scopes,
		ExpiresAt:    cloneTimePointer(grant.ExpiresAt),
		Metadata:     previous.Metadata,
	}
	if next.TokenType == "" {
		next.TokenType = previous.TokenType
	}
	// Providers may omit the refresh token when it did not rotate.
	if next.RefreshToken == "" {
		next.RefreshToken = previous.RefreshToken
	}
	if len(next.Scopes) == 0 {
		next.Scopes = previous.Scopes
	}
	next.Refreshable = next.RefreshToken != ""
	rotated := grant.RefreshToken != "" && grant.RefreshToken != previous.RefreshToken

	if _, err := s.saveActiveToken(ctx, next); err != nil {
		return RefreshOutcome{ConnectionID: conn.ID, Attempts: attempt}, s.mapError(err)
	}
	s.transitionConnection(ctx, &conn, ConnectionStatusActive, "")

	state := ResolveTokenState(s.nowUTC(), next, s.config.Refresh.ExpiringSoonWindow())
	outcome := RefreshOutcome{
		ConnectionID: conn.ID,
		Token:        next,
		Health:       EvaluateHealth(conn, state),
		Attempts:     attempt,
		Rotated:      rotated,
	}
	if s.hooks != nil {
		s.hooks.OnRefreshed(ctx, conn, outcome)
	}
	return outcome, nil
}

// isUnrecoverableRefreshError reports errors no amount of retrying fixes:
// rejected grants and anything the provider classified against the caller.
func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}

	var typed *goerrors.Error
	if goerrors.As(err, &typed) {
		switch typed.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz,
			goerrors.CategoryValidation, goerrors.CategoryNotFound,
			goerrors.CategoryBadInput:
			return true
		}
		switch typed.TextCode {
		case ServiceErrorTokenExpired, ServiceErrorManagerAccount, ServiceErrorOAuthStateInvalid:
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, hint := range []string{"invalid_grant", "invalid grant", "unauthorized_client", "access_denied"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
