package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/ratelimit"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const rateLimitStateCacheKeyPrefix = "go-marketplace::ratelimit_state::v1"

// CachedRateLimitStateStore layers a read-through cache over a StateStore.
// Writes go to the base store first and then drop the cached entry, so a
// subsequent read observes the persisted row.
type CachedRateLimitStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(
	base ratelimit.StateStore,
	cacheService repositorycache.CacheService,
) (*CachedRateLimitStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitStateStore{base: base, cache: cacheService}, nil
}

// RateLimitStateCacheKey builds the cache key for a rate-limit state entry:
// the versioned prefix followed by the normalized site, account, and bucket
// segments, each URL-path escaped and joined with "::". Normalization happens
// before escaping so equivalent keys share one entry.
func RateLimitStateCacheKey(key core.RateLimitKey) (string, error) {
	normalized := normalizeRateLimitKey(key)
	if err := validateRateLimitKey(normalized); err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString(rateLimitStateCacheKeyPrefix)
	for _, segment := range []string{normalized.SiteID, normalized.AccountID, normalized.BucketKey} {
		builder.WriteString("::")
		builder.WriteString(url.PathEscape(segment))
	}
	return builder.String(), nil
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if err := s.ready(); err != nil {
		return ratelimit.State{}, err
	}
	normalized := normalizeRateLimitKey(key)
	cacheKey, err := RateLimitStateCacheKey(normalized)
	if err != nil {
		return ratelimit.State{}, err
	}

	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.State, error) {
		fetched, fetchErr := s.base.Get(ctx, normalized)
		if fetchErr != nil {
			return ratelimit.State{}, fetchErr
		}
		return cloneRateLimitState(fetched), nil
	})
	if err != nil {
		return ratelimit.State{}, err
	}
	// Callers may mutate the returned metadata map.
	return cloneRateLimitState(state), nil
}

func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if err := s.ready(); err != nil {
		return err
	}
	state.Key = normalizeRateLimitKey(state.Key)
	if err := validateRateLimitKey(state.Key); err != nil {
		return err
	}
	state.Metadata = copyAnyMap(state.Metadata)

	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}

	cacheKey, err := RateLimitStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedRateLimitStateStore) ready() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	return nil
}

func cloneRateLimitState(state ratelimit.State) ratelimit.State {
	cloned := state
	cloned.Key = normalizeRateLimitKey(state.Key)
	cloned.Metadata = copyAnyMap(state.Metadata)
	if state.ResetAt != nil {
		resetAt := state.ResetAt.UTC()
		cloned.ResetAt = &resetAt
	}
	if state.ThrottledUntil != nil {
		throttledUntil := state.ThrottledUntil.UTC()
		cloned.ThrottledUntil = &throttledUntil
	}
	if state.RetryAfter != nil {
		retryAfter := *state.RetryAfter
		cloned.RetryAfter = &retryAfter
	}
	return cloned
}

var _ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
