package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"allais-survey-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ExperimentLoader reads and updates experiment configuration in a backing store.
type ExperimentLoader interface {
	LoadExperiment(ctx context.Context, experimentID string) (domain.Experiment, error)
	LoadExperiments(ctx context.Context) ([]domain.Experiment, error)
	SaveStatus(ctx context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error)
}

// ExperimentRepository caches experiments with TTL so every submission does not hit the store.
type ExperimentRepository struct {
	loader ExperimentLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedExperiment
}

type cachedExperiment struct {
	exp       domain.Experiment
	expiresAt time.Time
}

func NewExperimentRepository(loader ExperimentLoader, ttl time.Duration) *ExperimentRepository {
	return &ExperimentRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedExperiment),
	}
}

func (r *ExperimentRepository) GetExperiment(ctx context.Context, experimentID string) (domain.Experiment, error) {
	if exp, ok := r.cached(experimentID); ok {
		return exp, nil
	}

	result, err, _ := r.sf.Do(experimentID, func() (interface{}, error) {
		if exp, ok := r.cached(experimentID); ok {
			return exp, nil
		}
		exp, err := r.loader.LoadExperiment(ctx, experimentID)
		if err != nil {
			return domain.Experiment{}, err
		}
		r.store(exp)
		return exp, nil
	})
	if err != nil {
		return domain.Experiment{}, err
	}
	return result.(domain.Experiment), nil
}

// ListExperiments always reads through to the loader and refreshes the cache.
func (r *ExperimentRepository) ListExperiments(ctx context.Context) ([]domain.Experiment, error) {
	exps, err := r.loader.LoadExperiments(ctx)
	if err != nil {
		return nil, err
	}
	for _, exp := range exps {
		r.store(exp)
	}
	return exps, nil
}

// UpdateStatus writes through to the loader and replaces the cached entry.
func (r *ExperimentRepository) UpdateStatus(ctx context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error) {
	exp, err := r.loader.SaveStatus(ctx, experimentID, status)
	if err != nil {
		return domain.Experiment{}, err
	}
	r.store(exp)
	return exp, nil
}

func (r *ExperimentRepository) cached(experimentID string) (domain.Experiment, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[experimentID]; ok && entry.expiresAt.After(now) {
		return entry.exp, true
	}
	return domain.Experiment{}, false
}

func (r *ExperimentRepository) store(exp domain.Experiment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[exp.ID] = cachedExperiment{
		exp:       exp,
		expiresAt: r.clock().Add(r.ttlWithJitter()),
	}
}

// caller holds r.mu
func (r *ExperimentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticExperimentLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticExperimentLoader struct {
	mu          sync.RWMutex
	experiments map[string]domain.Experiment
	now         func() time.Time
}

func NewStaticExperimentLoader(experiments ...domain.Experiment) *StaticExperimentLoader {
	m := make(map[string]domain.Experiment, len(experiments))
	for _, exp := range experiments {
		m[exp.ID] = exp
	}
	return &StaticExperimentLoader{experiments: m, now: time.Now}
}

func (l *StaticExperimentLoader) LoadExperiment(_ context.Context, experimentID string) (domain.Experiment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if exp, ok := l.experiments[experimentID]; ok {
		return exp, nil
	}
	return domain.Experiment{}, domain.ErrExperimentNotFound
}

func (l *StaticExperimentLoader) LoadExperiments(_ context.Context) ([]domain.Experiment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Experiment, 0, len(l.experiments))
	for _, exp := range l.experiments {
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *StaticExperimentLoader) SaveStatus(_ context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.experiments[experimentID]
	if !ok {
		return domain.Experiment{}, domain.ErrExperimentNotFound
	}
	exp.Status = status
	exp.UpdatedAt = l.now().UTC()
	l.experiments[experimentID] = exp
	return exp, nil
}
