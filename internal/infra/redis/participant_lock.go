package redis

import (
	"context"
	"time"

	"allais-survey-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultLockTTL   = 10 * time.Second
	lockRetryBackoff = 25 * time.Millisecond
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ParticipantLocker serializes submissions per participant key across instances with SET NX PX.
// The lock expires after ttl so a crashed holder cannot block the key forever.
type ParticipantLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewParticipantLocker(client *redis.Client, ttl time.Duration) *ParticipantLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &ParticipantLocker{client: client, ttl: ttl}
}

// Lock retries until the key is free or ctx is done.
func (l *ParticipantLocker) Lock(ctx context.Context, key domain.ParticipantKey) (func(), error) {
	redisKey := l.key(key)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, eris.Wrap(err, "redis: acquire participant lock")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(domain.ErrLockBusy, ctx.Err().Error())
		case <-time.After(lockRetryBackoff):
		}
	}

	return func() {
		if err := releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err(); err != nil {
			zap.L().Warn("release participant lock", zap.String("participant", key.String()), zap.Error(err))
		}
	}, nil
}

func (l *ParticipantLocker) key(key domain.ParticipantKey) string {
	return "submission:lock:" + key.String()
}
