// Package persistence abstracts storage for automations, run cursors and the
// automation log.
package persistence

import (
	"context"
	"time"

	"github.com/dripline/dripline/pkg/models"
)

// AutomationRepository is the engine's read surface over stored automations.
// Create/update belongs to the administrative surface; Save and Delete exist
// for that surface and for test fixtures.
type AutomationRepository interface {
	Automations(ctx context.Context) ([]*models.Automation, error)
	AutomationByID(ctx context.Context, id string) (*models.Automation, error)
	EnabledByTriggerType(ctx context.Context, triggerType string) ([]*models.Automation, error)
	SaveAutomation(ctx context.Context, automation *models.Automation) error
	DeleteAutomation(ctx context.Context, id string) error
}

// RunRepository stores run cursors durably, so suspended Runs survive
// process restarts.
type RunRepository interface {
	SaveRun(ctx context.Context, run *models.Run) error
	RunByID(ctx context.Context, id string) (*models.Run, error)
	RunByTriggerInstance(ctx context.Context, automationID, subscriberID, triggerInstanceID string) (*models.Run, error)
	DueRuns(ctx context.Context, now time.Time) ([]*models.Run, error)
}

// LogRepository is the append-only automation log. Entries are never updated
// or deleted by the engine; retention is someone else's job.
type LogRepository interface {
	Append(ctx context.Context, entry *models.LogEntry) error
	ListByAutomation(ctx context.Context, automationID string) ([]*models.LogEntry, error)
	ListBySubscriber(ctx context.Context, subscriberID string) ([]*models.LogEntry, error)
	LatestForTrigger(ctx context.Context, automationID, subscriberID, triggerInstanceID string) (*models.LogEntry, error)
	NodeCounts(ctx context.Context, automationID string) ([]*models.NodeReport, error)
}

type Persistence interface {
	AutomationRepository() AutomationRepository
	RunRepository() RunRepository
	LogRepository() LogRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
