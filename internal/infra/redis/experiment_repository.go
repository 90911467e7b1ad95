package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"allais-survey-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ExperimentLoader reads and updates experiment configuration in a backing store.
type ExperimentLoader interface {
	LoadExperiment(ctx context.Context, experimentID string) (domain.Experiment, error)
	LoadExperiments(ctx context.Context) ([]domain.Experiment, error)
	SaveStatus(ctx context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error)
}

// ExperimentRepository caches experiments in Redis (hash per experiment) and falls back to a loader
// on cache miss. Layout:
//
//	HSET experiment:{id} config {json} status {status}
type ExperimentRepository struct {
	client *redis.Client
	loader ExperimentLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewExperimentRepository(client *redis.Client, loader ExperimentLoader, ttl time.Duration) *ExperimentRepository {
	return &ExperimentRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ExperimentRepository) GetExperiment(ctx context.Context, experimentID string) (domain.Experiment, error) {
	if exp, ok := r.fromCache(ctx, experimentID); ok {
		return exp, nil
	}

	result, err, _ := r.sf.Do(experimentID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if exp, ok := r.fromCache(ctx, experimentID); ok {
			return exp, nil
		}
		exp, err := r.loader.LoadExperiment(ctx, experimentID)
		if err != nil {
			return domain.Experiment{}, err
		}
		r.fill(ctx, exp)
		return exp, nil
	})
	if err != nil {
		return domain.Experiment{}, err
	}
	return result.(domain.Experiment), nil
}

// ListExperiments reads through to the loader.
func (r *ExperimentRepository) ListExperiments(ctx context.Context) ([]domain.Experiment, error) {
	return r.loader.LoadExperiments(ctx)
}

// UpdateStatus writes through to the loader and refreshes the cached entry.
func (r *ExperimentRepository) UpdateStatus(ctx context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error) {
	exp, err := r.loader.SaveStatus(ctx, experimentID, status)
	if err != nil {
		return domain.Experiment{}, err
	}
	r.fill(ctx, exp)
	return exp, nil
}

func (r *ExperimentRepository) fromCache(ctx context.Context, experimentID string) (domain.Experiment, bool) {
	fields, err := r.client.HGetAll(ctx, r.key(experimentID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Experiment{}, false
	}
	var exp domain.Experiment
	if err := json.Unmarshal([]byte(fields["config"]), &exp); err != nil {
		zap.L().Warn("drop corrupt experiment cache entry", zap.String("experiment_id", experimentID), zap.Error(err))
		_ = r.client.Del(ctx, r.key(experimentID)).Err()
		return domain.Experiment{}, false
	}
	if status, ok := fields["status"]; ok {
		exp.Status = domain.ExperimentStatus(status)
	}
	return exp, true
}

// fill is best effort; a failed write only costs a later reload.
func (r *ExperimentRepository) fill(ctx context.Context, exp domain.Experiment) {
	raw, err := json.Marshal(exp)
	if err != nil {
		zap.L().Warn("encode experiment for cache", zap.String("experiment_id", exp.ID), zap.Error(eris.Wrap(err, "marshal")))
		return
	}
	key := r.key(exp.ID)
	ttl := r.ttlWithJitter()
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, "config", raw, "status", string(exp.Status))
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("cache experiment", zap.String("experiment_id", exp.ID), zap.Error(err))
	}
}

func (r *ExperimentRepository) key(experimentID string) string {
	return "experiment:" + experimentID
}

func (r *ExperimentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
