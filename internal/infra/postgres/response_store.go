package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"allais-survey-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rotisserie/eris"
)

const (
	uniqueViolation          = "23505"
	completionCodeConstraint = "responses_completion_code_key"
)

const responseColumns = `id, experiment_id, worker_id, assignment_id, hit_id, font_condition, attribution_condition,
	lottery1_choice, lottery2_choice, attention_check_answer, attention_check_passed, start_time, end_time,
	completion_time_ms, time_out_of_bounds, failure_reasons, allais_pattern, demographics, browser_info,
	ip_address, completion_code, duplicate_attempts, created_at`

// ResponseStore persists classified responses in Postgres. The (worker_id, assignment_id) unique
// constraint is the final guard against duplicate submissions.
type ResponseStore struct {
	pool *pgxpool.Pool
}

func NewResponseStore(pool *pgxpool.Pool) *ResponseStore {
	return &ResponseStore{pool: pool}
}

func (s *ResponseStore) FindByParticipant(ctx context.Context, key domain.ParticipantKey) ([]domain.StoredResponse, error) {
	return s.query(ctx, `SELECT `+responseColumns+` FROM responses WHERE worker_id=$1 AND assignment_id=$2`,
		key.WorkerID, key.AssignmentID)
}

func (s *ResponseStore) FindByWorker(ctx context.Context, workerID string) ([]domain.StoredResponse, error) {
	return s.query(ctx, `SELECT `+responseColumns+` FROM responses WHERE worker_id=$1 ORDER BY created_at`, workerID)
}

func (s *ResponseStore) FindByExperiment(ctx context.Context, experimentID string) ([]domain.StoredResponse, error) {
	return s.query(ctx, `SELECT `+responseColumns+` FROM responses WHERE experiment_id=$1 ORDER BY created_at`, experimentID)
}

func (s *ResponseStore) Recent(ctx context.Context, experimentID string, limit int) ([]domain.StoredResponse, error) {
	return s.query(ctx, `SELECT `+responseColumns+` FROM responses WHERE experiment_id=$1 ORDER BY created_at DESC LIMIT $2`,
		experimentID, limit)
}

func (s *ResponseStore) Insert(ctx context.Context, r domain.StoredResponse) error {
	demographics, err := json.Marshal(orEmpty(r.Demographics))
	if err != nil {
		return eris.Wrap(err, "marshal demographics")
	}
	browser, err := json.Marshal(r.BrowserInfo)
	if err != nil {
		return eris.Wrap(err, "marshal browser info")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO responses (`+responseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18::jsonb, $19::jsonb, $20, $21, $22, $23)
		ON CONFLICT ON CONSTRAINT responses_participant_key DO NOTHING`,
		r.ID, r.ExperimentID, r.WorkerID, r.AssignmentID, r.HITID, string(r.FontCondition), string(r.AttributionCondition),
		r.Lottery1Choice, r.Lottery2Choice, r.AttentionCheckAnswer, r.AttentionCheckPassed, r.StartTime, r.EndTime,
		r.CompletionTimeMs, r.TimeOutOfBounds, r.FailureReasons.Strings(), string(r.AllaisPattern),
		string(demographics), string(browser), r.IPAddress, r.CompletionCode, r.DuplicateAttempts, r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == completionCodeConstraint {
			return domain.ErrCompletionCodeTaken
		}
		return eris.Wrap(err, "postgres: insert response")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateSubmission
	}
	return nil
}

func (s *ResponseStore) RecordDuplicate(ctx context.Context, key domain.ParticipantKey) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE responses SET duplicate_attempts = duplicate_attempts + 1 WHERE worker_id=$1 AND assignment_id=$2`,
		key.WorkerID, key.AssignmentID)
	if err != nil {
		return eris.Wrap(err, "postgres: record duplicate")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

func (s *ResponseStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM responses WHERE completion_code=$1)`, code).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: check completion code")
}

func (s *ResponseStore) query(ctx context.Context, sql string, args ...interface{}) ([]domain.StoredResponse, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query responses")
	}
	defer rows.Close()

	var out []domain.StoredResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan response")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate responses")
}

func scanResponse(row pgx.Row) (domain.StoredResponse, error) {
	var (
		r            domain.StoredResponse
		font, attr   string
		pattern      string
		reasons      []string
		demographics []byte
		browser      []byte
	)
	err := row.Scan(&r.ID, &r.ExperimentID, &r.WorkerID, &r.AssignmentID, &r.HITID, &font, &attr,
		&r.Lottery1Choice, &r.Lottery2Choice, &r.AttentionCheckAnswer, &r.AttentionCheckPassed, &r.StartTime, &r.EndTime,
		&r.CompletionTimeMs, &r.TimeOutOfBounds, &reasons, &pattern, &demographics, &browser,
		&r.IPAddress, &r.CompletionCode, &r.DuplicateAttempts, &r.CreatedAt)
	if err != nil {
		return domain.StoredResponse{}, err
	}

	r.FontCondition = domain.FontCondition(font)
	r.AttributionCondition = domain.AttributionCondition(attr)
	r.AllaisPattern = domain.AllaisPattern(pattern)
	r.FailureReasons = domain.NewFailureSet()
	for _, reason := range reasons {
		r.FailureReasons.Add(domain.FailureReason(reason))
	}
	if err := json.Unmarshal(demographics, &r.Demographics); err != nil {
		return domain.StoredResponse{}, eris.Wrap(err, "unmarshal demographics")
	}
	if err := json.Unmarshal(browser, &r.BrowserInfo); err != nil {
		return domain.StoredResponse{}, eris.Wrap(err, "unmarshal browser info")
	}
	return r, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
