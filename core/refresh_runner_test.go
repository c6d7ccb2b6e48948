package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type immediateBackoff struct{}

func (immediateBackoff) NextDelay(attempt int) time.Duration { return 0 }

func TestRefreshNowRotatesCredential(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t)
	result := connectAccount(t, env, "acct-1")

	outcome, err := env.service.RefreshNow(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if !outcome.Rotated {
		t.Fatal("expected the refresh token rotation to be reported")
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", outcome.Attempts)
	}
	if outcome.Token.AccessToken != "access-token-2" {
		t.Fatalf("expected the refreshed access token, got %q", outcome.Token.AccessToken)
	}
	if outcome.Health != HealthHealthy {
		t.Fatalf("expected healthy after refresh, got %s", outcome.Health)
	}

	active, err := env.credentials.GetActiveByConnection(ctx, result.Connection.ID)
	if err != nil {
		t.Fatalf("GetActiveByConnection: %v", err)
	}
	if active.Version != 2 {
		t.Fatalf("expected credential version 2, got %d", active.Version)
	}
}

func TestRefreshNowKeepsRefreshTokenWhenOmitted(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t)
	env.client.refreshTokenFn = func(ctx context.Context, siteID, refreshToken string) (TokenGrant, error) {
		expiresAt := time.Now().UTC().Add(6 * time.Hour)
		return TokenGrant{AccessToken: "access-token-2", ExpiresAt: &expiresAt}, nil
	}
	connectAccount(t, env, "acct-1")

	outcome, err := env.service.RefreshNow(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if outcome.Rotated {
		t.Fatal("an omitted refresh token must not report rotation")
	}
	if outcome.Token.RefreshToken != "refresh-token-1" {
		t.Fatalf("expected the previous refresh token kept, got %q", outcome.Token.RefreshToken)
	}
	if !outcome.Token.Refreshable {
		t.Fatal("the credential must stay refreshable")
	}
}

func TestRefreshNowRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t, WithRefreshBackoffScheduler(immediateBackoff{}))

	var failures int
	env.client.refreshTokenFn = func(ctx context.Context, siteID, refreshToken string) (TokenGrant, error) {
		if failures < 2 {
			failures++
			return TokenGrant{}, ClassifyMarketplaceError(MarketplaceResponse{StatusCode: 502})
		}
		expiresAt := time.Now().UTC().Add(6 * time.Hour)
		return TokenGrant{AccessToken: "access-token-2", RefreshToken: "refresh-token-2", ExpiresAt: &expiresAt}, nil
	}
	connectAccount(t, env, "acct-1")

	outcome, err := env.service.RefreshNow(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if env.client.refreshCallCount() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", env.client.refreshCallCount())
	}
}

func TestRefreshNowExhaustedRetriesMarkErrored(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t, WithRefreshBackoffScheduler(immediateBackoff{}))
	env.client.refreshTokenFn = func(ctx context.Context, siteID, refreshToken string) (TokenGrant, error) {
		return TokenGrant{}, ClassifyMarketplaceError(MarketplaceResponse{StatusCode: 500})
	}
	result := connectAccount(t, env, "acct-1")

	_, err := env.service.RefreshNow(ctx, "acct-1")
	if err == nil {
		t.Fatal("expected the exhausted refresh to fail")
	}
	if !strings.Contains(err.Error(), "refresh failed after") {
		t.Fatalf("expected an attempt summary in the error, got %v", err)
	}
	if env.client.refreshCallCount() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", env.client.refreshCallCount())
	}

	conn, err := env.connections.Get(ctx, result.Connection.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conn.Status != ConnectionStatusErrored {
		t.Fatalf("expected errored, got %s", conn.Status)
	}
}

func TestRefreshNowExpiredGrantNeedsReauth(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t)
	env.client.refreshTokenFn = func(ctx context.Context, siteID, refreshToken string) (TokenGrant, error) {
		return TokenGrant{}, ClassifyMarketplaceError(MarketplaceResponse{
			StatusCode: 400,
			Body:       []byte(`{"error":"invalid_grant"}`),
		})
	}
	result := connectAccount(t, env, "acct-1")

	_, err := env.service.RefreshNow(ctx, "acct-1")
	if err == nil {
		t.Fatal("expected the rejected grant to surface")
	}
	if env.client.refreshCallCount() != 1 {
		t.Fatalf("rejected grants must not be retried, got %d calls", env.client.refreshCallCount())
	}

	conn, err := env.connections.Get(ctx, result.Connection.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conn.Status != ConnectionStatusPendingReauth {
		t.Fatalf("expected pending_reauth, got %s", conn.Status)
	}
}

func TestRefreshNowRateLimitedStopsWithoutStateChange(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t)
	env.client.refreshTokenFn = func(ctx context.Context, siteID, refreshToken string) (TokenGrant, error) {
		return TokenGrant{}, ClassifyMarketplaceError(MarketplaceResponse{
			StatusCode: 429,
			Headers:    map[string]string{"Retry-After": "60"},
		})
	}
	result := connectAccount(t, env, "acct-1")

	_, err := env.service.RefreshNow(ctx, "acct-1")
	if err == nil {
		t.Fatal("expected a rate limit error")
	}
	var typed *goerrors.Error
	if !goerrors.As(err, &typed) || typed.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected a rate limit category, got %v", err)
	}
	if env.client.refreshCallCount() != 1 {
		t.Fatalf("rate limited refreshes must not retry, got %d calls", env.client.refreshCallCount())
	}

	conn, err := env.connections.Get(ctx, result.Connection.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conn.Status != ConnectionStatusActive {
		t.Fatalf("a rate limited refresh must not change the connection, got %s", conn.Status)
	}
}

func TestRefreshNowWithoutRefreshTokenNeedsReauth(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t)
	env.client.exchangeCodeFn = func(ctx context.Context, req ExchangeCodeRequest) (TokenGrant, error) {
		expiresAt := time.Now().UTC().Add(6 * time.Hour)
		return TokenGrant{AccessToken: "access-token-1", ExpiresAt: &expiresAt}, nil
	}
	result := connectAccount(t, env, "acct-1")

	_, err := env.service.RefreshNow(ctx, "acct-1")
	if err == nil {
		t.Fatal("expected a non-refreshable credential to fail")
	}
	var typed *goerrors.Error
	if !goerrors.As(err, &typed) || typed.TextCode != ServiceErrorTokenExpired {
		t.Fatalf("expected %q, got %v", ServiceErrorTokenExpired, err)
	}
	if env.client.refreshCallCount() != 0 {
		t.Fatalf("expected no provider call, got %d", env.client.refreshCallCount())
	}

	conn, err := env.connections.Get(ctx, result.Connection.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conn.Status != ConnectionStatusPendingReauth {
		t.Fatalf("expected pending_reauth, got %s", conn.Status)
	}
}

func TestRefreshNowCollapsesConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t)
	env.client.refreshTokenFn = func(ctx context.Context, siteID, refreshToken string) (TokenGrant, error) {
		time.Sleep(30 * time.Millisecond)
		expiresAt := time.Now().UTC().Add(6 * time.Hour)
		return TokenGrant{AccessToken: "access-token-2", RefreshToken: "refresh-token-2", ExpiresAt: &expiresAt}, nil
	}
	connectAccount(t, env, "acct-1")

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.RefreshNow(ctx, "acct-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if env.client.refreshCallCount() != 1 {
		t.Fatalf("expected concurrent callers to share one provider call, got %d", env.client.refreshCallCount())
	}
}

func TestRefreshNowDisconnectedConnection(t *testing.T) {
	ctx := context.Background()
	env := newTestService(t)
	connectAccount(t, env, "acct-1")
	if err := env.service.Disconnect(ctx, DisconnectRequest{AccountID: "acct-1", Confirm: true}); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if _, err := env.service.RefreshNow(ctx, "acct-1"); err == nil {
		t.Fatal("expected a refresh on a disconnected account to fail")
	}
}

func TestMemoryConnectionLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryConnectionLocker()

	handle, err := locker.Acquire(ctx, "conn-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "conn-1", time.Minute); !errors.Is(err, ErrRefreshLockHeld) {
		t.Fatalf("expected %v, got %v", ErrRefreshLockHeld, err)
	}
	if _, err := locker.Acquire(ctx, "conn-2", time.Minute); err != nil {
		t.Fatalf("locks must be per connection, got %v", err)
	}

	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("Unlock must be idempotent, got %v", err)
	}
	if _, err := locker.Acquire(ctx, "conn-1", time.Minute); err != nil {
		t.Fatalf("expected reacquire after unlock, got %v", err)
	}
}

func TestMemoryConnectionLockerExpiredLock(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryConnectionLocker()
	if _, err := locker.Acquire(ctx, "conn-1", time.Nanosecond); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := locker.Acquire(ctx, "conn-1", time.Minute); err != nil {
		t.Fatalf("expected an expired lock to be reclaimable, got %v", err)
	}
}

func TestExponentialBackoffScheduler(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 500 * time.Millisecond},
		{attempt: 1, want: 500 * time.Millisecond},
		{attempt: 2, want: time.Second},
		{attempt: 3, want: 2 * time.Second},
		{attempt: 10, want: 10 * time.Second},
	}
	for _, tc := range tests {
		if got := scheduler.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}

	defaults := ExponentialBackoffScheduler{}
	if got := defaults.NextDelay(1); got != defaultRefreshInitialBackoff {
		t.Fatalf("expected default initial delay, got %v", got)
	}
}
