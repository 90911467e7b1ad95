package postgres

import (
	"context"
	"encoding/json"

	"allais-survey-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rotisserie/eris"
)

const experimentColumns = `id, title, description, version, status, target_sample_size, budget, quality_controls, created_at, updated_at`

// ExperimentLoader reads experiment configuration from Postgres.
type ExperimentLoader struct {
	pool *pgxpool.Pool
}

func NewExperimentLoader(pool *pgxpool.Pool) *ExperimentLoader {
	return &ExperimentLoader{pool: pool}
}

func (l *ExperimentLoader) LoadExperiment(ctx context.Context, experimentID string) (domain.Experiment, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id=$1`, experimentID)
	exp, err := scanExperiment(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return domain.Experiment{}, domain.ErrExperimentNotFound
	}
	if err != nil {
		return domain.Experiment{}, eris.Wrap(err, "postgres: load experiment")
	}
	return exp, nil
}

func (l *ExperimentLoader) LoadExperiments(ctx context.Context) ([]domain.Experiment, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list experiments")
	}
	defer rows.Close()

	var out []domain.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan experiment")
		}
		out = append(out, exp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate experiments")
}

func (l *ExperimentLoader) SaveStatus(ctx context.Context, experimentID string, status domain.ExperimentStatus) (domain.Experiment, error) {
	row := l.pool.QueryRow(ctx,
		`UPDATE experiments SET status=$2, updated_at=now() WHERE id=$1 RETURNING `+experimentColumns,
		experimentID, string(status))
	exp, err := scanExperiment(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return domain.Experiment{}, domain.ErrExperimentNotFound
	}
	if err != nil {
		return domain.Experiment{}, eris.Wrap(err, "postgres: update experiment status")
	}
	return exp, nil
}

// EnsureExperiment inserts exp unless an experiment with the same id already exists.
func (l *ExperimentLoader) EnsureExperiment(ctx context.Context, exp domain.Experiment) error {
	budget, err := json.Marshal(exp.Budget)
	if err != nil {
		return eris.Wrap(err, "marshal budget")
	}
	qc, err := json.Marshal(exp.QualityControls)
	if err != nil {
		return eris.Wrap(err, "marshal quality controls")
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO experiments (id, title, description, version, status, target_sample_size, budget, quality_controls)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)
		ON CONFLICT (id) DO NOTHING`,
		exp.ID, exp.Title, exp.Description, exp.Version, string(exp.Status), exp.TargetSampleSize,
		string(budget), string(qc))
	return eris.Wrap(err, "postgres: seed experiment")
}

func scanExperiment(row pgx.Row) (domain.Experiment, error) {
	var (
		exp       domain.Experiment
		status    string
		budget    []byte
		qualityQC []byte
	)
	if err := row.Scan(&exp.ID, &exp.Title, &exp.Description, &exp.Version, &status, &exp.TargetSampleSize,
		&budget, &qualityQC, &exp.CreatedAt, &exp.UpdatedAt); err != nil {
		return domain.Experiment{}, err
	}
	exp.Status = domain.ExperimentStatus(status)
	if err := json.Unmarshal(budget, &exp.Budget); err != nil {
		return domain.Experiment{}, eris.Wrap(err, "unmarshal budget")
	}
	if err := json.Unmarshal(qualityQC, &exp.QualityControls); err != nil {
		return domain.Experiment{}, eris.Wrap(err, "unmarshal quality controls")
	}
	return exp, nil
}
