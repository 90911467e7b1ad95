package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"allais-survey-service/internal/app"
	"allais-survey-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FeedStore keeps feeds in a local map so the in-process broadcast is reused, and counts live
// dashboard connections per experiment across instances in Redis.
type FeedStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.Mutex
	feeds  map[string]*app.Feed
}

func NewFeedStore(client *redis.Client, ttl time.Duration) *FeedStore {
	return &FeedStore{
		client: client,
		ttl:    ttl,
		feeds:  make(map[string]*app.Feed),
	}
}

func (s *FeedStore) Subscribe(experimentID string) (*app.Feed, <-chan domain.DashboardReport, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[experimentID]
	if !ok {
		feed = app.NewFeed(experimentID)
		s.feeds[experimentID] = feed
	}
	ch, cancel := feed.Subscribe()
	s.adjustWatchers(experimentID, 1)

	var once sync.Once
	return feed, ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			cancel()
			s.adjustWatchers(experimentID, -1)
			if feed.IsEmpty() && s.feeds[experimentID] == feed {
				delete(s.feeds, experimentID)
			}
		})
	}
}

// Get returns the local feed. A hit means a report is about to be published, so the watcher
// counter's TTL is extended while dashboards stay open.
func (s *FeedStore) Get(experimentID string) (*app.Feed, bool) {
	s.mu.Lock()
	feed, ok := s.feeds[experimentID]
	s.mu.Unlock()
	if ok {
		if err := s.client.Expire(context.Background(), s.key(experimentID), s.ttl).Err(); err != nil {
			zap.L().Debug("refresh dashboard watchers", zap.String("experiment_id", experimentID), zap.Error(err))
		}
	}
	return feed, ok
}

// Watchers reports how many dashboards follow an experiment on all instances.
func (s *FeedStore) Watchers(ctx context.Context, experimentID string) (int64, error) {
	n, err := s.client.Get(ctx, s.key(experimentID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// adjustWatchers is best-effort; the local map stays authoritative for delivery.
func (s *FeedStore) adjustWatchers(experimentID string, delta int64) {
	ctx := context.Background()
	key := s.key(experimentID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, delta)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		zap.L().Debug("update dashboard watchers", zap.String("experiment_id", experimentID), zap.Error(err))
		return
	}
	if delta < 0 {
		// drop the counter once nobody is left
		if n, err := s.client.Get(ctx, key).Int64(); err == nil && n <= 0 {
			_ = s.client.Del(ctx, key).Err()
		}
	}
}

func (s *FeedStore) key(experimentID string) string {
	return "dashboard:watchers:" + experimentID
}
