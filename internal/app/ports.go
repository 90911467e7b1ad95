package app

import (
	"context"

	"allais-survey-service/internal/domain"
)

// ResponseRepository abstracts where classified responses live (in-memory, Postgres).
type ResponseRepository interface {
	// FindByParticipant returns the responses stored for a worker/assignment pair.
	FindByParticipant(ctx context.Context, key domain.ParticipantKey) ([]domain.StoredResponse, error)
	FindByWorker(ctx context.Context, workerID string) ([]domain.StoredResponse, error)
	FindByExperiment(ctx context.Context, experimentID string) ([]domain.StoredResponse, error)
	// Recent returns up to limit responses, newest first.
	Recent(ctx context.Context, experimentID string, limit int) ([]domain.StoredResponse, error)
	// Insert stores a response. It returns domain.ErrDuplicateSubmission when the participant key
	// is already taken; this is the authoritative uniqueness check.
	Insert(ctx context.Context, r domain.StoredResponse) error
	// RecordDuplicate counts a rejected resubmission against the original response.
	RecordDuplicate(ctx context.Context, key domain.ParticipantKey) error
	CodeExists(ctx context.Context, code string) (bool, error)
}

// ExperimentRepository loads experiment configuration (through a cache where available).
type ExperimentRepository interface {
	GetExperiment(ctx context.Context, experimentID string) (domain.Experiment, error)
	ListExperiments(ctx context.Context) ([]domain.Experiment, error)
	UpdateStatus(ctx context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error)
}

// ParticipantLocker serializes submissions for one participant key across requests.
type ParticipantLocker interface {
	Lock(ctx context.Context, key domain.ParticipantKey) (unlock func(), err error)
}

// FeedRepository abstracts how live dashboard feeds are tracked (in-memory, Redis, etc).
type FeedRepository interface {
	// Subscribe joins the experiment's feed, creating it if needed. Joining and the cleanup done by
	// the returned cancel (dropping a feed left empty) happen under the store lock.
	Subscribe(experimentID string) (*Feed, <-chan domain.DashboardReport, func())
	Get(experimentID string) (*Feed, bool)
	// Watchers counts the dashboards following an experiment, on every instance sharing the store.
	Watchers(ctx context.Context, experimentID string) (int64, error)
}

// ReportPublisher is notified after a response is stored.
type ReportPublisher interface {
	Publish(ctx context.Context, experimentID string)
}
