package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// RunRepository stores run cursors. The unique constraint on
// (automation_id, subscriber_id, trigger_instance_id) backs idempotent Run
// starts at the storage layer too.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , automation_id
  , subscriber_id
  , trigger_instance_id
  , current_node_id
  , context
  , status
  , resume_at
  , error
  , visits
  , created_at
  , updated_at
`

func (r *RunRepository) SaveRun(ctx context.Context, run *models.Run) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return &persistence.RunError{Op: "Save", RunID: run.ID, Err: err}
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	query := `
		INSERT INTO runs (id, automation_id, subscriber_id, trigger_instance_id, current_node_id,
			context, status, resume_at, error, visits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id
		  , context = EXCLUDED.context
		  , status = EXCLUDED.status
		  , resume_at = EXCLUDED.resume_at
		  , error = EXCLUDED.error
		  , visits = EXCLUDED.visits
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.AutomationID,
		run.SubscriberID,
		run.TriggerInstanceID,
		run.CurrentNodeID,
		contextJSON,
		run.Status,
		run.ResumeAt,
		nullIfEmpty(run.Error),
		run.Visits,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return &persistence.RunError{Op: "Save", RunID: run.ID, Err: err}
	}

	return nil
}

func (r *RunRepository) RunByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: persistence.ErrRunNotFound}
		}

		return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: err}
	}

	return run, nil
}

func (r *RunRepository) RunByTriggerInstance(ctx context.Context, automationID, subscriberID, triggerInstanceID string) (*models.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE automation_id = $1 AND subscriber_id = $2 AND trigger_instance_id = $3`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, automationID, subscriberID, triggerInstanceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to query run by trigger instance: %w", err)
	}

	return run, nil
}

func (r *RunRepository) DueRuns(ctx context.Context, now time.Time) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE status = $1 AND resume_at IS NOT NULL AND resume_at <= $2
		ORDER BY resume_at ASC`

	rows, err := r.db.QueryContext(ctx, query, models.RunStatusSuspended, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run         models.Run
		contextJSON []byte
		resumeAt    sql.NullTime
		runErr      sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.AutomationID,
		&run.SubscriberID,
		&run.TriggerInstanceID,
		&run.CurrentNodeID,
		&contextJSON,
		&run.Status,
		&resumeAt,
		&runErr,
		&run.Visits,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
			return nil, fmt.Errorf("failed to decode run context: %w", err)
		}
	}

	if resumeAt.Valid {
		run.ResumeAt = &resumeAt.Time
	}

	if runErr.Valid {
		run.Error = runErr.String
	}

	return &run, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
