package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// LogRepository appends to and reads the automation_log table. Inserts only;
// there is no update or delete path.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

const logColumns = `
	id
  , automation_id
  , run_id
  , node_id
  , subscriber_id
  , trigger_instance_id
  , status
  , input
  , output
  , error
  , attempt
  , executed_at
`

func (r *LogRepository) Append(ctx context.Context, entry *models.LogEntry) error {
	input, err := json.Marshal(entry.Input)
	if err != nil {
		return fmt.Errorf("failed to encode log input: %w", err)
	}

	output, err := json.Marshal(entry.Output)
	if err != nil {
		return fmt.Errorf("failed to encode log output: %w", err)
	}

	query := `
		INSERT INTO automation_log (id, automation_id, run_id, node_id, subscriber_id,
			trigger_instance_id, status, input, output, error, attempt, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.AutomationID,
		nullIfEmpty(entry.RunID),
		entry.NodeID,
		entry.SubscriberID,
		nullIfEmpty(entry.TriggerInstanceID),
		entry.Status,
		input,
		output,
		nullIfEmpty(entry.Error),
		entry.Attempt,
		entry.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.LogEntry, error) {
	query := `SELECT ` + logColumns + `
		FROM automation_log
		WHERE automation_id = $1
		ORDER BY executed_at ASC`

	return r.queryEntries(ctx, query, automationID)
}

func (r *LogRepository) ListBySubscriber(ctx context.Context, subscriberID string) ([]*models.LogEntry, error) {
	query := `SELECT ` + logColumns + `
		FROM automation_log
		WHERE subscriber_id = $1
		ORDER BY executed_at ASC`

	return r.queryEntries(ctx, query, subscriberID)
}

func (r *LogRepository) LatestForTrigger(ctx context.Context, automationID, subscriberID, triggerInstanceID string) (*models.LogEntry, error) {
	query := `SELECT ` + logColumns + `
		FROM automation_log
		WHERE automation_id = $1 AND subscriber_id = $2 AND trigger_instance_id = $3
		ORDER BY executed_at DESC
		LIMIT 1`

	entry, err := scanLogEntry(r.db.QueryRowContext(ctx, query, automationID, subscriberID, triggerInstanceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrLogEntryNotFound
		}

		return nil, fmt.Errorf("failed to query latest log entry: %w", err)
	}

	return entry, nil
}

func (r *LogRepository) NodeCounts(ctx context.Context, automationID string) ([]*models.NodeReport, error) {
	query := `
		SELECT
			node_id
		  , COUNT(*) FILTER (WHERE status = 'success') AS successes
		  , COUNT(*) FILTER (WHERE status = 'failure') AS failures
		FROM automation_log
		WHERE automation_id = $1
		GROUP BY node_id
		ORDER BY MIN(executed_at) ASC
	`

	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node counts: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	reports := make([]*models.NodeReport, 0)

	for rows.Next() {
		report := &models.NodeReport{}
		if err := rows.Scan(&report.NodeID, &report.Successes, &report.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan node report: %w", err)
		}

		reports = append(reports, report)
	}

	return reports, rows.Err()
}

func (r *LogRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*models.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.LogEntry, 0)

	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanLogEntry(row rowScanner) (*models.LogEntry, error) {
	var (
		entry             models.LogEntry
		runID             sql.NullString
		triggerInstanceID sql.NullString
		input             []byte
		output            []byte
		entryErr          sql.NullString
	)

	err := row.Scan(
		&entry.ID,
		&entry.AutomationID,
		&runID,
		&entry.NodeID,
		&entry.SubscriberID,
		&triggerInstanceID,
		&entry.Status,
		&input,
		&output,
		&entryErr,
		&entry.Attempt,
		&entry.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	if runID.Valid {
		entry.RunID = runID.String
	}

	if triggerInstanceID.Valid {
		entry.TriggerInstanceID = triggerInstanceID.String
	}

	if len(input) > 0 {
		if err := json.Unmarshal(input, &entry.Input); err != nil {
			return nil, fmt.Errorf("failed to decode log input: %w", err)
		}
	}

	if len(output) > 0 {
		if err := json.Unmarshal(output, &entry.Output); err != nil {
			return nil, fmt.Errorf("failed to decode log output: %w", err)
		}
	}

	if entryErr.Valid {
		entry.Error = entryErr.String
	}

	return &entry, nil
}
