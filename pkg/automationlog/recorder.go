// Package automationlog owns the append-only record of node executions.
// The executor records every attempt here before advancing, so the log is
// both the audit trail and the idempotency source of truth.
package automationlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

type Recorder struct {
	repo persistence.LogRepository
}

func NewRecorder(repo persistence.LogRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record fills in the entry's id and timestamp and appends it. The append
// must complete before the caller proceeds to the next node; errors
// propagate so the executor can fail the Run instead of executing unlogged.
func (r *Recorder) Record(ctx context.Context, entry *models.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	if entry.Attempt == 0 {
		entry.Attempt = 1
	}

	return r.repo.Append(ctx, entry)
}

// HasRunFor reports whether the log already holds entries for the given
// trigger instance. Used as the idempotency fallback when the run store has
// been pruned.
func (r *Recorder) HasRunFor(ctx context.Context, automationID, subscriberID, triggerInstanceID string) (bool, error) {
	_, err := r.repo.LatestForTrigger(ctx, automationID, subscriberID, triggerInstanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrLogEntryNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}
