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

// AutomationRepository handles automation rows. Trigger and nodes are stored
// as JSONB documents; the engine never queries inside the node graph beyond
// the trigger type.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

const automationColumns = `
	id
  , name
  , enabled
  , trigger
  , nodes
  , metadata
  , owner
  , created_at
  , updated_at
  , deleted_at
`

func (r *AutomationRepository) Automations(ctx context.Context) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + `
		FROM automations
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC`

	return r.queryAutomations(ctx, query)
}

func (r *AutomationRepository) EnabledByTriggerType(ctx context.Context, triggerType string) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + `
		FROM automations
		WHERE deleted_at IS NULL
		  AND enabled
		  AND trigger->>'type' = $1
		ORDER BY created_at ASC`

	return r.queryAutomations(ctx, query, triggerType)
}

func (r *AutomationRepository) AutomationByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `SELECT ` + automationColumns + `
		FROM automations
		WHERE id = $1 AND deleted_at IS NULL`

	automation, err := r.scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAutomationError("GetByID", id, persistence.ErrAutomationNotFound)
		}

		return nil, persistence.NewAutomationError("GetByID", id, err)
	}

	return automation, nil
}

func (r *AutomationRepository) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	trigger, err := json.Marshal(automation.Trigger)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	nodes, err := json.Marshal(automation.Nodes)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	metadata, err := json.Marshal(automation.Metadata)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	query := `
		INSERT INTO automations (id, name, enabled, trigger, nodes, metadata, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , enabled = EXCLUDED.enabled
		  , trigger = EXCLUDED.trigger
		  , nodes = EXCLUDED.nodes
		  , metadata = EXCLUDED.metadata
		  , owner = EXCLUDED.owner
		  , updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.Name,
		automation.Enabled,
		trigger,
		nodes,
		metadata,
		automation.Owner,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	return nil
}

// DeleteAutomation soft-deletes so log rows keep a referent.
func (r *AutomationRepository) DeleteAutomation(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE automations SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return persistence.NewAutomationError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewAutomationError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationNotFound)
	}

	return nil
}

func (r *AutomationRepository) queryAutomations(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := r.scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	return automations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AutomationRepository) scanAutomation(row rowScanner) (*models.Automation, error) {
	var (
		automation models.Automation
		trigger    []byte
		nodes      []byte
		metadata   []byte
		owner      sql.NullString
		deletedAt  sql.NullTime
	)

	err := row.Scan(
		&automation.ID,
		&automation.Name,
		&automation.Enabled,
		&trigger,
		&nodes,
		&metadata,
		&owner,
		&automation.CreatedAt,
		&automation.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(trigger, &automation.Trigger); err != nil {
		return nil, fmt.Errorf("failed to decode trigger: %w", err)
	}

	if err := json.Unmarshal(nodes, &automation.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &automation.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	if owner.Valid {
		automation.Owner = owner.String
	}

	if deletedAt.Valid {
		automation.DeletedAt = &deletedAt.Time
	}

	return &automation, nil
}
