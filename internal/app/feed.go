package app

import (
	"sync"

	"allais-survey-service/internal/domain"
)

// Feed fans dashboard reports for one experiment out to live subscribers.
type Feed struct {
	id          string
	mu          sync.RWMutex
	subscribers map[chan domain.DashboardReport]struct{}
}

// NewFeed is exported for infrastructure layers that track feeds.
func NewFeed(experimentID string) *Feed {
	return &Feed{
		id:          experimentID,
		subscribers: make(map[chan domain.DashboardReport]struct{}),
	}
}

func (f *Feed) ExperimentID() string { return f.id }

// IsEmpty reports whether nobody is listening.
func (f *Feed) IsEmpty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers) == 0
}

// Subscribers is the number of live listeners.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

func (f *Feed) publish(report domain.DashboardReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- report:
		default:
			// slow subscriber: replace its pending report with the newest one
			select {
			case <-ch:
			default:
			}
			ch <- report
		}
	}
}

// Subscribe adds a listener. It receives reports published from now on.
func (f *Feed) Subscribe() (<-chan domain.DashboardReport, func()) {
	ch := make(chan domain.DashboardReport, 8)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}
