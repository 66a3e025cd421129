package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// RunRepository stores run cursors under root/runs. The mutex guards against
// the executor and the resume sweeper writing the same cursor concurrently,
// and makes the first insert for a trigger instance atomic, standing in for
// the unique (automation, subscriber, trigger instance) constraint the
// postgres store gets from its schema.
type RunRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{dir: filepath.Join(root, "runs")}
}

func (rr *RunRepository) SaveRun(_ context.Context, run *models.Run) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, err := os.Stat(filepath.Join(rr.dir, run.ID+".json")); os.IsNotExist(err) {
		existing, err := rr.loadAll()
		if err != nil {
			return err
		}

		for _, other := range existing {
			if other.ID != run.ID &&
				other.AutomationID == run.AutomationID &&
				other.SubscriberID == run.SubscriberID &&
				other.TriggerInstanceID == run.TriggerInstanceID {
				return &persistence.RunError{Op: "Save", RunID: run.ID, Err: persistence.ErrDuplicateTriggerInstance}
			}
		}
	}

	run.UpdatedAt = time.Now().UTC()

	if err := writeJSON(rr.dir, run.ID, run); err != nil {
		return &persistence.RunError{Op: "Save", RunID: run.ID, Err: err}
	}

	return nil
}

func (rr *RunRepository) RunByID(_ context.Context, id string) (*models.Run, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	run := &models.Run{}

	err := readJSON(rr.dir, id, run)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: persistence.ErrRunNotFound}
		}

		return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: err}
	}

	return run, nil
}

func (rr *RunRepository) RunByTriggerInstance(ctx context.Context, automationID, subscriberID, triggerInstanceID string) (*models.Run, error) {
	runs, err := rr.all()
	if err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.AutomationID == automationID && run.SubscriberID == subscriberID && run.TriggerInstanceID == triggerInstanceID {
			return run, nil
		}
	}

	return nil, persistence.ErrRunNotFound
}

func (rr *RunRepository) DueRuns(_ context.Context, now time.Time) ([]*models.Run, error) {
	runs, err := rr.all()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Run, 0)

	for _, run := range runs {
		if run.Due(now) {
			due = append(due, run)
		}
	}

	return due, nil
}

func (rr *RunRepository) all() ([]*models.Run, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.loadAll()
}

// loadAll reads every run file; callers hold the lock.
func (rr *RunRepository) loadAll() ([]*models.Run, error) {
	ids, err := listIDs(rr.dir)
	if err != nil {
		return nil, err
	}

	runs := make([]*models.Run, 0, len(ids))

	for _, id := range ids {
		run := &models.Run{}
		if err := readJSON(rr.dir, id, run); err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", id, err)
		}

		runs = append(runs, run)
	}

	return runs, nil
}
