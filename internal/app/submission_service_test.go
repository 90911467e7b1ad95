package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"allais-survey-service/internal/analysis"
	"allais-survey-service/internal/app"
	"allais-survey-service/internal/domain"
	"allais-survey-service/internal/infra/memory"
	"allais-survey-service/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sessionStart = time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	codePattern  = regexp.MustCompile(`^STUDY[A-Z0-9]{4}[0-9]{3}$`)
)

type fixture struct {
	responses   *memory.ResponseStore
	experiments *memory.ExperimentRepository
	submissions *app.SubmissionService
	dashboard   *app.DashboardService
}

// tick hands out strictly increasing timestamps.
type tick struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tick) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFixture(experiments ...domain.Experiment) *fixture {
	if len(experiments) == 0 {
		experiments = []domain.Experiment{activeExperiment()}
	}
	responses := memory.NewResponseStore()
	repo := memory.NewExperimentRepository(memory.NewStaticExperimentLoader(experiments...), time.Minute)
	clock := &tick{now: sessionStart}

	opts := analysis.DefaultOptions()
	opts.Now = clock.Now
	dashboard := app.NewDashboardService(responses, repo, memory.NewFeedStore(), opts)
	submissions := app.NewSubmissionService(responses, repo, memory.NewParticipantLocker(), quality.NewValidator(false),
		app.WithPublisher(dashboard), app.WithClock(clock.Now))

	return &fixture{responses: responses, experiments: repo, submissions: submissions, dashboard: dashboard}
}

func activeExperiment() domain.Experiment {
	return domain.Experiment{
		ID:               app.DefaultExperimentID,
		Title:            "Allais fluency",
		Version:          "1.0.0",
		Status:           domain.StatusActive,
		TargetSampleSize: 200,
		Budget:           domain.Budget{Total: 500, RewardPerParticipant: 1.5},
		CreatedAt:        sessionStart.Add(-24 * time.Hour),
	}
}

func submission(worker, assignment string, font domain.FontCondition, l1, l2, math string) domain.Submission {
	d := int64(600_000)
	return domain.Submission{
		WorkerID:      worker,
		AssignmentID:  assignment,
		HITID:         "HIT-" + assignment,
		FontCondition: font,
		Responses: domain.SubmissionAnswers{
			Lottery1: l1,
			Lottery2: l2,
			Math:     json.RawMessage(math),
		},
		Timing: domain.SubmissionTiming{
			StartTime:  sessionStart,
			EndTime:    sessionStart.Add(10 * time.Minute),
			DurationMs: &d,
		},
	}
}

func TestSubmitAcceptsValidResponse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.submissions.Submit(ctx, submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Empty(t, res.FailureReasons)
	assert.False(t, res.Duplicate)
	assert.Regexp(t, codePattern, res.CompletionCode)
	assert.Equal(t, "Thank you for your participation!", res.Message)

	rs, err := f.responses.FindByExperiment(ctx, app.DefaultExperimentID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, domain.PatternAllais, rs[0].AllaisPattern)
	assert.Equal(t, domain.AttributionAbsent, rs[0].AttributionCondition)
	assert.Equal(t, res.CompletionCode, rs[0].CompletionCode)
	assert.NotEmpty(t, rs[0].ID)
}

func TestSubmitStoresFailedResponse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.submissions.Submit(ctx, submission("W1", "A1", domain.FontHard, "A", "C", `"41"`))
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, []string{"attention_check"}, res.FailureReasons)
	assert.Equal(t, "Submission received but did not meet quality requirements", res.Message)

	rs, _ := f.responses.FindByExperiment(ctx, app.DefaultExperimentID)
	require.Len(t, rs, 1)
	assert.False(t, rs[0].AttentionCheckPassed)
}

// collidingStore reports a completion code clash on the first inserts, as when a concurrent
// submitter claims the same code after the availability check.
type collidingStore struct {
	*memory.ResponseStore
	mu         sync.Mutex
	collisions int
	rejected   []string
}

func (s *collidingStore) Insert(ctx context.Context, r domain.StoredResponse) error {
	s.mu.Lock()
	if s.collisions > 0 {
		s.collisions--
		s.rejected = append(s.rejected, r.CompletionCode)
		s.mu.Unlock()
		return domain.ErrCompletionCodeTaken
	}
	s.mu.Unlock()
	return s.ResponseStore.Insert(ctx, r)
}

func newCollidingService(collisions int) (*app.SubmissionService, *collidingStore) {
	store := &collidingStore{ResponseStore: memory.NewResponseStore(), collisions: collisions}
	repo := memory.NewExperimentRepository(memory.NewStaticExperimentLoader(activeExperiment()), time.Minute)
	return app.NewSubmissionService(store, repo, memory.NewParticipantLocker(), quality.NewValidator(false)), store
}

func TestSubmitRetriesCompletionCodeCollision(t *testing.T) {
	service, store := newCollidingService(2)
	ctx := context.Background()

	res, err := service.Submit(ctx, submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Regexp(t, codePattern, res.CompletionCode)
	require.Len(t, store.rejected, 2)

	rs, err := store.FindByParticipant(ctx, domain.ParticipantKey{WorkerID: "W1", AssignmentID: "A1"})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, res.CompletionCode, rs[0].CompletionCode)
}

func TestSubmitGivesUpAfterRepeatedCodeCollisions(t *testing.T) {
	service, _ := newCollidingService(1000)

	_, err := service.Submit(context.Background(), submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
	assert.ErrorIs(t, err, domain.ErrCodeSpaceExhausted)
}

func TestSubmitDuplicateReturnsOriginalCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.submissions.Submit(ctx, submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
	require.NoError(t, err)

	// a resubmission with different answers is still a duplicate
	second, err := f.submissions.Submit(ctx, submission("W1", "A1", domain.FontHard, "B", "C", "7"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.CompletionCode, second.CompletionCode)
	assert.False(t, second.Failed)

	rs, _ := f.responses.FindByExperiment(ctx, app.DefaultExperimentID)
	require.Len(t, rs, 1)
	assert.Equal(t, 1, rs[0].DuplicateAttempts)
	assert.Equal(t, domain.FontEasy, rs[0].FontCondition)
}

func TestSubmitConcurrentDuplicates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const n = 12
	results := make([]domain.SubmissionResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.submissions.Submit(ctx, submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	originals := 0
	for _, res := range results {
		if !res.Duplicate {
			originals++
		}
		assert.Equal(t, results[0].CompletionCode, res.CompletionCode)
	}
	assert.Equal(t, 1, originals)

	rs, _ := f.responses.FindByExperiment(ctx, app.DefaultExperimentID)
	require.Len(t, rs, 1)
	assert.Equal(t, n-1, rs[0].DuplicateAttempts)
}

func TestSubmitValidationError(t *testing.T) {
	f := newFixture()
	sub := submission(" ", "A1", "medium", "X", "D", "42")

	_, err := f.submissions.Submit(context.Background(), sub)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	assert.Contains(t, verr.Fields, "workerId")
	assert.Contains(t, verr.Fields, "fontCondition")
	assert.Contains(t, verr.Fields, "responses.lottery1")

	rs, _ := f.responses.FindByExperiment(context.Background(), app.DefaultExperimentID)
	assert.Empty(t, rs)
}

func TestSubmitUsesExperimentQualityControls(t *testing.T) {
	exp := activeExperiment()
	exp.QualityControls.AttentionCheckAnswer = 7
	exp.QualityControls.MinimumCompletionMs = 700_000
	f := newFixture(exp)

	res, err := f.submissions.Submit(context.Background(), submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"attention_check", "time_limit"}, res.FailureReasons)
}

func TestSubmitUnknownExperimentFallsBackToDefaultRules(t *testing.T) {
	f := newFixture()
	sub := submission("W1", "A1", domain.FontEasy, "A", "C", "42")
	sub.ExperimentID = "pilot"

	res, err := f.submissions.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, res.Failed)

	rs, _ := f.responses.FindByExperiment(context.Background(), "pilot")
	assert.Len(t, rs, 1)
}

func TestCompletionCodeRecovery(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.submissions.Submit(ctx, submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
	require.NoError(t, err)

	got, err := f.submissions.CompletionCode(ctx, " W1 ", "A1")
	require.NoError(t, err)
	assert.Equal(t, res.CompletionCode, got.CompletionCode)

	_, err = f.submissions.CompletionCode(ctx, "W1", "A9")
	assert.ErrorIs(t, err, domain.ErrResponseNotFound)

	_, err = f.submissions.CompletionCode(ctx, "", "A1")
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestCheckParticipation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, err := f.submissions.CheckParticipation(ctx, "W1")
	require.NoError(t, err)
	assert.False(t, p.HasParticipated)
	assert.Nil(t, p.ParticipationDate)

	first, _ := f.submissions.Submit(ctx, submission("W1", "A1", domain.FontEasy, "A", "D", "42"))
	_, _ = f.submissions.Submit(ctx, submission("W1", "A2", domain.FontHard, "A", "C", "42"))

	p, err = f.submissions.CheckParticipation(ctx, "W1")
	require.NoError(t, err)
	assert.True(t, p.HasParticipated)
	require.NotNil(t, p.ParticipationDate)
	assert.Equal(t, first.CompletionCode, p.CompletionCode)
}

func TestExperimentConfig(t *testing.T) {
	paused := activeExperiment()
	paused.ID = "paused-study"
	paused.Status = domain.StatusPaused
	f := newFixture(activeExperiment(), paused)
	ctx := context.Background()

	exp, err := f.submissions.ExperimentConfig(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, app.DefaultExperimentID, exp.ID)

	_, err = f.submissions.ExperimentConfig(ctx, "paused-study")
	assert.ErrorIs(t, err, domain.ErrExperimentInactive)

	_, err = f.submissions.ExperimentConfig(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrExperimentNotFound)
}
