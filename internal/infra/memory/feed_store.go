package memory

import (
	"context"
	"sync"

	"allais-survey-service/internal/app"
	"allais-survey-service/internal/domain"
)

// FeedStore is an in-memory implementation of app.FeedRepository.
type FeedStore struct {
	mu    sync.Mutex
	feeds map[string]*app.Feed
}

func NewFeedStore() *FeedStore {
	return &FeedStore{
		feeds: make(map[string]*app.Feed),
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

	return feed, ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cancel()
		// a newer feed may have replaced this one after it emptied once
		if feed.IsEmpty() && s.feeds[experimentID] == feed {
			delete(s.feeds, experimentID)
		}
	}
}

func (s *FeedStore) Get(experimentID string) (*app.Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[experimentID]
	return feed, ok
}

func (s *FeedStore) Watchers(_ context.Context, experimentID string) (int64, error) {
	feed, ok := s.Get(experimentID)
	if !ok {
		return 0, nil
	}
	return int64(feed.Subscribers()), nil
}
