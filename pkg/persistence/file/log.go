package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
)

// LogRepository stores the append-only automation log under root/log, one
// file per entry. Entries get unique ids, so concurrent appends never clash.
type LogRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewLogRepository(root string) *LogRepository {
	return &LogRepository{dir: filepath.Join(root, "log")}
}

func (lr *LogRepository) Append(_ context.Context, entry *models.LogEntry) error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	return writeJSON(lr.dir, entry.ID, entry)
}

func (lr *LogRepository) ListByAutomation(_ context.Context, automationID string) ([]*models.LogEntry, error) {
	return lr.filter(func(entry *models.LogEntry) bool {
		return entry.AutomationID == automationID
	})
}

func (lr *LogRepository) ListBySubscriber(_ context.Context, subscriberID string) ([]*models.LogEntry, error) {
	return lr.filter(func(entry *models.LogEntry) bool {
		return entry.SubscriberID == subscriberID
	})
}

func (lr *LogRepository) LatestForTrigger(_ context.Context, automationID, subscriberID, triggerInstanceID string) (*models.LogEntry, error) {
	entries, err := lr.filter(func(entry *models.LogEntry) bool {
		return entry.AutomationID == automationID &&
			entry.SubscriberID == subscriberID &&
			entry.TriggerInstanceID == triggerInstanceID
	})
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, persistence.ErrLogEntryNotFound
	}

	return entries[len(entries)-1], nil
}

func (lr *LogRepository) NodeCounts(ctx context.Context, automationID string) ([]*models.NodeReport, error) {
	entries, err := lr.ListByAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}

	byNode := make(map[string]*models.NodeReport)
	order := make([]string, 0)

	for _, entry := range entries {
		report, ok := byNode[entry.NodeID]
		if !ok {
			report = &models.NodeReport{NodeID: entry.NodeID}
			byNode[entry.NodeID] = report
			order = append(order, entry.NodeID)
		}

		if entry.Status == models.LogStatusSuccess {
			report.Successes++
		} else {
			report.Failures++
		}
	}

	reports := make([]*models.NodeReport, 0, len(order))
	for _, nodeID := range order {
		reports = append(reports, byNode[nodeID])
	}

	return reports, nil
}

func (lr *LogRepository) filter(keep func(*models.LogEntry) bool) ([]*models.LogEntry, error) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()

	ids, err := listIDs(lr.dir)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.LogEntry, 0)

	for _, id := range ids {
		entry := &models.LogEntry{}
		if err := readJSON(lr.dir, id, entry); err != nil {
			return nil, fmt.Errorf("failed to load log entry %s: %w", id, err)
		}

		if keep(entry) {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ExecutedAt.Before(entries[j].ExecutedAt)
	})

	return entries, nil
}
