package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"allais-survey-service/internal/analysis"
	"allais-survey-service/internal/domain"
	"allais-survey-service/internal/metrics"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRecentLimit = 50
	maxSummaryWorkers  = 8
)

// DashboardService contains the researcher-facing use cases.
type DashboardService struct {
	responses   ResponseRepository
	experiments ExperimentRepository
	feeds       FeedRepository
	opts        analysis.Options
}

func NewDashboardService(responses ResponseRepository, experiments ExperimentRepository, feeds FeedRepository, opts analysis.Options) *DashboardService {
	return &DashboardService{responses: responses, experiments: experiments, feeds: feeds, opts: opts}
}

// Stats builds the full dashboard report of an experiment.
func (d *DashboardService) Stats(ctx context.Context, experimentID string) (domain.DashboardReport, error) {
	exp, err := d.experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return domain.DashboardReport{}, err
	}
	rs, err := d.responses.FindByExperiment(ctx, experimentID)
	if err != nil {
		return domain.DashboardReport{}, eris.Wrap(err, "load responses")
	}

	defer metrics.ObserveAggregation(experimentID, time.Now())
	return analysis.Aggregate(rs, exp, d.opts), nil
}

// Experiments lists every experiment with its enrollment summary, newest first.
func (d *DashboardService) Experiments(ctx context.Context) ([]domain.ExperimentSummary, error) {
	exps, err := d.experiments.ListExperiments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list experiments")
	}

	out := make([]domain.ExperimentSummary, len(exps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSummaryWorkers)
	for i, exp := range exps {
		i, exp := i, exp
		g.Go(func() error {
			rs, err := d.responses.FindByExperiment(gctx, exp.ID)
			if err != nil {
				return eris.Wrapf(err, "load responses for %s", exp.ID)
			}
			out[i] = analysis.Summarize(exp, rs)
			watchers, err := d.feeds.Watchers(gctx, exp.ID)
			if err != nil {
				zap.L().Warn("count dashboard watchers", zap.String("experiment_id", exp.ID), zap.Error(err))
			}
			out[i].LiveDashboards = watchers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RecentResponses returns the newest responses of an experiment. A non-positive limit means 50.
func (d *DashboardService) RecentResponses(ctx context.Context, experimentID string, limit int) ([]domain.StoredResponse, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rs, err := d.responses.Recent(ctx, experimentID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "load recent responses")
	}
	return rs, nil
}

// Export returns the valid responses of an experiment in submission order.
func (d *DashboardService) Export(ctx context.Context, experimentID string) (Export, error) {
	rs, err := d.responses.FindByExperiment(ctx, experimentID)
	if err != nil {
		return Export{}, eris.Wrap(err, "load responses")
	}
	valid := analysis.ValidResponses(rs)
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].CreatedAt.Before(valid[j].CreatedAt)
	})
	return newExport(experimentID, valid, d.now()), nil
}

// UpdateStatus moves an experiment to a new lifecycle state.
func (d *DashboardService) UpdateStatus(ctx context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error) {
	if !domain.ValidStatus(status) {
		return domain.Experiment{}, domain.ErrInvalidStatus
	}
	exp, err := d.experiments.UpdateStatus(ctx, experimentID, status)
	if err != nil {
		return domain.Experiment{}, err
	}
	zap.L().Info("experiment status updated",
		zap.String("experiment_id", experimentID),
		zap.String("status", string(status)))
	d.Publish(ctx, experimentID)
	return exp, nil
}

// Subscribe returns a channel of dashboard reports for an experiment, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (d *DashboardService) Subscribe(ctx context.Context, experimentID string) (<-chan domain.DashboardReport, func(), error) {
	report, err := d.Stats(ctx, experimentID)
	if err != nil {
		return nil, nil, err
	}
	feed, ch, cancel := d.feeds.Subscribe(experimentID)
	feed.publish(report)
	metrics.LiveSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cancel()
			metrics.LiveSubscribers.Dec()
		})
	}, nil
}

// Publish recomputes the report of an experiment and pushes it to live subscribers, if any.
func (d *DashboardService) Publish(ctx context.Context, experimentID string) {
	feed, ok := d.feeds.Get(experimentID)
	if !ok || feed.IsEmpty() {
		return
	}
	report, err := d.Stats(ctx, experimentID)
	if err != nil {
		zap.L().Warn("refresh dashboard feed", zap.String("experiment_id", experimentID), zap.Error(err))
		return
	}
	feed.publish(report)
}

func (d *DashboardService) now() time.Time {
	if d.opts.Now != nil {
		return d.opts.Now()
	}
	return time.Now()
}
