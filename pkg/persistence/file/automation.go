package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// AutomationRepository stores automations under root/automations.
type AutomationRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewAutomationRepository(root string) *AutomationRepository {
	return &AutomationRepository{dir: filepath.Join(root, "automations")}
}

func (ar *AutomationRepository) Automations(_ context.Context) ([]*models.Automation, error) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	ids, err := listIDs(ar.dir)
	if err != nil {
		return nil, err
	}

	automations := make([]*models.Automation, 0, len(ids))

	for _, id := range ids {
		automation := &models.Automation{}
		if err := readJSON(ar.dir, id, automation); err != nil {
			return nil, fmt.Errorf("failed to load automation %s: %w", id, err)
		}

		automations = append(automations, automation)
	}

	sort.Slice(automations, func(i, j int) bool {
		return automations[i].CreatedAt.Before(automations[j].CreatedAt)
	})

	return automations, nil
}

func (ar *AutomationRepository) AutomationByID(_ context.Context, id string) (*models.Automation, error) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	automation := &models.Automation{}

	err := readJSON(ar.dir, id, automation)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewAutomationError("GetByID", id, persistence.ErrAutomationNotFound)
		}

		return nil, persistence.NewAutomationError("GetByID", id, err)
	}

	return automation, nil
}

func (ar *AutomationRepository) EnabledByTriggerType(ctx context.Context, triggerType string) ([]*models.Automation, error) {
	all, err := ar.Automations(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Automation, 0)

	for _, automation := range all {
		if automation.Enabled && automation.DeletedAt == nil && automation.Trigger.Type == triggerType {
			matched = append(matched, automation)
		}
	}

	return matched, nil
}

func (ar *AutomationRepository) SaveAutomation(_ context.Context, automation *models.Automation) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if err := writeJSON(ar.dir, automation.ID, automation); err != nil {
		return persistence.NewAutomationError("Save", automation.ID, err)
	}

	return nil
}

func (ar *AutomationRepository) DeleteAutomation(_ context.Context, id string) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	err := os.Remove(filepath.Join(ar.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewAutomationError("Delete", id, persistence.ErrAutomationNotFound)
		}

		return persistence.NewAutomationError("Delete", id, err)
	}

	return nil
}
