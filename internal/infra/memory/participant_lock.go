package memory

import (
	"context"
	"sync"

	"allais-survey-service/internal/domain"
	"github.com/rotisserie/eris"
)

// ParticipantLocker serializes submissions per participant key inside one process.
type ParticipantLocker struct {
	mu    sync.Mutex
	locks map[domain.ParticipantKey]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewParticipantLocker() *ParticipantLocker {
	return &ParticipantLocker{locks: make(map[domain.ParticipantKey]*keyLock)}
}

// Lock blocks until the key is free or ctx is done.
func (l *ParticipantLocker) Lock(ctx context.Context, key domain.ParticipantKey) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, eris.Wrap(domain.ErrLockBusy, ctx.Err().Error())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *ParticipantLocker) release(key domain.ParticipantKey, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
