package policy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

// Syncer fetches the policy from the authority and falls back to the
// local cache when the fetch fails. It never returns an error: callers
// always get a usable, possibly empty, policy.
type Syncer struct {
	fetcher domain.PolicyFetcher
	cache   domain.PolicyCache
	logger  *zap.Logger
	now     func() time.Time
}

// NewSyncer creates a policy syncer.
func NewSyncer(fetcher domain.PolicyFetcher, cache domain.PolicyCache, logger *zap.Logger) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// NewSyncerWithClock creates a syncer with a custom clock (for testing).
func NewSyncerWithClock(fetcher domain.PolicyFetcher, cache domain.PolicyCache, logger *zap.Logger, now func() time.Time) *Syncer {
	s := NewSyncer(fetcher, cache, logger)
	s.now = now
	return s
}

// Sync returns the current policy.
func (s *Syncer) Sync(ctx context.Context, authorityURL, credential string) domain.SyncResult {
	entries, err := s.fetcher.FetchPolicy(ctx, authorityURL, credential)
	if err == nil {
		p := domain.Policy{
			Entries:     entries,
			LastUpdated: s.now().Truncate(time.Second),
		}
		if saveErr := s.cache.Save(p); saveErr != nil {
			s.logger.Warn("failed to cache policy",
				zap.String("path", s.cache.Path()),
				zap.Error(saveErr))
		}
		return domain.SyncResult{Policy: p, Source: domain.SourceAuthority}
	}

	s.logger.Warn("policy fetch failed, loading from cache",
		zap.Error(err))

	cached, loadErr := s.cache.Load()
	if loadErr != nil {
		s.logger.Warn("policy cache unavailable",
			zap.String("path", s.cache.Path()),
			zap.Error(loadErr))
		return domain.SyncResult{Source: domain.SourceEmpty, Err: err}
	}
	if cached.IsEmpty() {
		return domain.SyncResult{Policy: cached, Source: domain.SourceEmpty, Err: err}
	}
	return domain.SyncResult{Policy: cached, Source: domain.SourceCache, Err: err}
}
