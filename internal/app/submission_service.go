package app

import (
	"context"
	"strings"
	"time"

	"allais-survey-service/internal/domain"
	"allais-survey-service/internal/metrics"
	"allais-survey-service/internal/quality"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultExperimentID is used when a submission does not name its experiment.
const DefaultExperimentID = "allais-fluency-v1"

const (
	msgAccepted  = "Thank you for your participation!"
	msgFailed    = "Submission received but did not meet quality requirements"
	msgDuplicate = "Duplicate submission detected"
)

// SubmissionService contains the participant-facing use cases.
type SubmissionService struct {
	responses   ResponseRepository
	experiments ExperimentRepository
	locker      ParticipantLocker
	validator   *quality.Validator
	codes       *CodeGenerator
	publisher   ReportPublisher

	defaultExperiment string
	now               func() time.Time
}

// SubmissionOption customizes a SubmissionService.
type SubmissionOption func(*SubmissionService)

// WithDefaultExperiment overrides DefaultExperimentID.
func WithDefaultExperiment(id string) SubmissionOption {
	return func(s *SubmissionService) {
		if id != "" {
			s.defaultExperiment = id
		}
	}
}

// WithPublisher notifies p after every stored response.
func WithPublisher(p ReportPublisher) SubmissionOption {
	return func(s *SubmissionService) { s.publisher = p }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) SubmissionOption {
	return func(s *SubmissionService) { s.now = now }
}

func NewSubmissionService(responses ResponseRepository, experiments ExperimentRepository, locker ParticipantLocker, v *quality.Validator, opts ...SubmissionOption) *SubmissionService {
	s := &SubmissionService{
		responses:         responses,
		experiments:       experiments,
		locker:            locker,
		validator:         v,
		codes:             NewCodeGenerator(responses),
		defaultExperiment: DefaultExperimentID,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates, classifies and stores one survey submission. Failed quality checks are stored
// and reported, not rejected. A resubmission for an existing participant key returns the original
// completion code with Duplicate set and stores nothing new.
func (s *SubmissionService) Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
	if sub.ExperimentID == "" {
		sub.ExperimentID = s.defaultExperiment
	}
	if err := s.validator.Validate(sub); err != nil {
		metrics.Submissions.WithLabelValues(sub.ExperimentID, metrics.OutcomeRejected).Inc()
		return domain.SubmissionResult{}, err
	}
	sub.WorkerID = strings.TrimSpace(sub.WorkerID)
	sub.AssignmentID = strings.TrimSpace(sub.AssignmentID)
	sub.HITID = strings.TrimSpace(sub.HITID)

	rules, err := s.rulesFor(ctx, sub.ExperimentID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	key := sub.Key()
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	defer unlock()

	prior, err := s.responses.FindByParticipant(ctx, key)
	if err != nil {
		return domain.SubmissionResult{}, eris.Wrap(err, "load prior responses")
	}

	verdict := quality.NewClassifier(rules).Classify(sub, prior)
	if verdict.Duplicate != nil {
		return s.duplicate(ctx, *verdict.Duplicate)
	}

	stored, err := s.store(ctx, verdict.Response)
	if eris.Is(err, domain.ErrDuplicateSubmission) {
		// lost a race with another instance that does not share our lock
		return s.duplicateByKey(ctx, key)
	}
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	code := stored.CompletionCode

	s.record(stored)
	if s.publisher != nil {
		s.publisher.Publish(ctx, stored.ExperimentID)
	}

	result := domain.SubmissionResult{
		CompletionCode: code,
		Failed:         stored.Failed(),
		FailureReasons: stored.FailureReasons.Strings(),
		Message:        msgAccepted,
	}
	if result.Failed {
		result.Message = msgFailed
	}
	return result, nil
}

// store inserts the response under a fresh completion code, drawing a new one when a concurrent
// submitter claimed the same code between the availability check and the insert.
func (s *SubmissionService) store(ctx context.Context, r domain.ClassifiedResponse) (domain.StoredResponse, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return domain.StoredResponse{}, err
		}
		stored := domain.StoredResponse{
			ClassifiedResponse: r,
			ID:                 uuid.NewString(),
			CompletionCode:     code,
			CreatedAt:          s.now().UTC(),
		}
		err = s.responses.Insert(ctx, stored)
		switch {
		case err == nil:
			return stored, nil
		case eris.Is(err, domain.ErrCompletionCodeTaken):
			zap.L().Debug("completion code collision, regenerating", zap.String("completion_code", code))
			continue
		case eris.Is(err, domain.ErrDuplicateSubmission):
			return domain.StoredResponse{}, err
		default:
			return domain.StoredResponse{}, eris.Wrap(err, "store response")
		}
	}
	return domain.StoredResponse{}, domain.ErrCodeSpaceExhausted
}

func (s *SubmissionService) rulesFor(ctx context.Context, experimentID string) (quality.Rules, error) {
	exp, err := s.experiments.GetExperiment(ctx, experimentID)
	switch {
	case err == nil:
		return quality.RulesFor(exp.QualityControls), nil
	case eris.Is(err, domain.ErrExperimentNotFound):
		zap.L().Warn("submission for unconfigured experiment, using default quality rules",
			zap.String("experiment_id", experimentID))
		return quality.DefaultRules(), nil
	default:
		return quality.Rules{}, eris.Wrap(err, "load experiment")
	}
}

func (s *SubmissionService) duplicateByKey(ctx context.Context, key domain.ParticipantKey) (domain.SubmissionResult, error) {
	existing, err := s.responses.FindByParticipant(ctx, key)
	if err != nil {
		return domain.SubmissionResult{}, eris.Wrap(err, "load original response")
	}
	if len(existing) == 0 {
		return domain.SubmissionResult{}, eris.Wrap(domain.ErrResponseNotFound, "original response vanished")
	}
	return s.duplicate(ctx, existing[0])
}

func (s *SubmissionService) duplicate(ctx context.Context, original domain.StoredResponse) (domain.SubmissionResult, error) {
	if err := s.responses.RecordDuplicate(ctx, original.Key()); err != nil {
		// the attempt counter is informational
		zap.L().Warn("record duplicate attempt", zap.String("participant", original.Key().String()), zap.Error(err))
	}
	metrics.Submissions.WithLabelValues(original.ExperimentID, metrics.OutcomeDuplicate).Inc()
	zap.L().Info("duplicate submission",
		zap.String("worker_id", original.WorkerID),
		zap.String("assignment_id", original.AssignmentID),
		zap.String("completion_code", original.CompletionCode))

	return domain.SubmissionResult{
		CompletionCode: original.CompletionCode,
		Failed:         original.Failed(),
		FailureReasons: original.FailureReasons.Strings(),
		Duplicate:      true,
		Message:        msgDuplicate,
	}, nil
}

func (s *SubmissionService) record(r domain.StoredResponse) {
	outcome := metrics.OutcomeAccepted
	if r.Failed() {
		outcome = metrics.OutcomeFailed
	}
	metrics.Submissions.WithLabelValues(r.ExperimentID, outcome).Inc()
	for _, reason := range r.FailureReasons.Strings() {
		metrics.QualityFailures.WithLabelValues(reason).Inc()
	}
	zap.L().Info("submission stored",
		zap.String("experiment_id", r.ExperimentID),
		zap.String("worker_id", r.WorkerID),
		zap.String("assignment_id", r.AssignmentID),
		zap.Bool("failed", r.Failed()),
		zap.Strings("failure_reasons", r.FailureReasons.Strings()),
		zap.String("pattern", string(r.AllaisPattern)))
}

// CompletionCode recovers the completion code of an earlier submission.
func (s *SubmissionService) CompletionCode(ctx context.Context, workerID, assignmentID string) (domain.StoredResponse, error) {
	key := domain.ParticipantKey{WorkerID: strings.TrimSpace(workerID), AssignmentID: strings.TrimSpace(assignmentID)}
	if key.WorkerID == "" || key.AssignmentID == "" {
		fields := map[string]string{}
		if key.WorkerID == "" {
			fields["workerId"] = "is required"
		}
		if key.AssignmentID == "" {
			fields["assignmentId"] = "is required"
		}
		return domain.StoredResponse{}, &domain.ValidationError{Fields: fields}
	}
	rs, err := s.responses.FindByParticipant(ctx, key)
	if err != nil {
		return domain.StoredResponse{}, eris.Wrap(err, "load response")
	}
	if len(rs) == 0 {
		return domain.StoredResponse{}, domain.ErrResponseNotFound
	}
	return rs[0], nil
}

// CheckParticipation reports whether a worker has any stored response, across experiments.
func (s *SubmissionService) CheckParticipation(ctx context.Context, workerID string) (domain.Participation, error) {
	rs, err := s.responses.FindByWorker(ctx, strings.TrimSpace(workerID))
	if err != nil {
		return domain.Participation{}, eris.Wrap(err, "load worker responses")
	}
	if len(rs) == 0 {
		return domain.Participation{}, nil
	}
	first := rs[0]
	for _, r := range rs[1:] {
		if r.CreatedAt.Before(first.CreatedAt) {
			first = r
		}
	}
	created := first.CreatedAt
	return domain.Participation{
		HasParticipated:   true,
		ParticipationDate: &created,
		CompletionCode:    first.CompletionCode,
	}, nil
}

// ExperimentConfig returns the client-facing configuration of an active experiment.
func (s *SubmissionService) ExperimentConfig(ctx context.Context, experimentID string) (domain.Experiment, error) {
	if experimentID == "" {
		experimentID = s.defaultExperiment
	}
	exp, err := s.experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return domain.Experiment{}, err
	}
	if exp.Status != domain.StatusActive {
		return domain.Experiment{}, domain.ErrExperimentInactive
	}
	return exp, nil
}
