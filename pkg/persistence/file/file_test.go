package file_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence"
	"github.com/dripline/dripline/pkg/persistence/file"
)

func newStore(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

func automationFixture(id, triggerType string, enabled bool, createdAt time.Time) *models.Automation {
	return &models.Automation{
		ID:        id,
		Name:      "Automation " + id,
		Enabled:   enabled,
		Trigger:   models.Trigger{Type: triggerType},
		Nodes:     []*models.Node{{ID: "n1", Type: "tag", Params: map[string]any{"tag": "x"}}},
		CreatedAt: createdAt,
	}
}

func TestAutomationRoundTrip(t *testing.T) {
	store := newStore(t)
	repo := store.AutomationRepository()

	automation := automationFixture("auto-1", "new_lead", true, time.Now().UTC())
	require.NoError(t, repo.SaveAutomation(t.Context(), automation))

	loaded, err := repo.AutomationByID(t.Context(), "auto-1")
	require.NoError(t, err)
	assert.Equal(t, automation.Name, loaded.Name)
	assert.Equal(t, "new_lead", loaded.Trigger.Type)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "tag", loaded.Nodes[0].Type)

	_, err = repo.AutomationByID(t.Context(), "missing")
	require.True(t, persistence.IsAutomationNotFound(err))
}

func TestAutomationsOrderedByCreation(t *testing.T) {
	store := newStore(t)
	repo := store.AutomationRepository()

	base := time.Now().UTC()
	require.NoError(t, repo.SaveAutomation(t.Context(), automationFixture("auto-b", "click", true, base.Add(time.Hour))))
	require.NoError(t, repo.SaveAutomation(t.Context(), automationFixture("auto-a", "new_lead", true, base)))

	all, err := repo.Automations(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "auto-a", all[0].ID)
	assert.Equal(t, "auto-b", all[1].ID)
}

func TestEnabledByTriggerType(t *testing.T) {
	store := newStore(t)
	repo := store.AutomationRepository()

	now := time.Now().UTC()
	require.NoError(t, repo.SaveAutomation(t.Context(), automationFixture("auto-match", "new_lead", true, now)))
	require.NoError(t, repo.SaveAutomation(t.Context(), automationFixture("auto-disabled", "new_lead", false, now)))
	require.NoError(t, repo.SaveAutomation(t.Context(), automationFixture("auto-other", "click", true, now)))

	deleted := automationFixture("auto-deleted", "new_lead", true, now)
	deletedAt := now
	deleted.DeletedAt = &deletedAt
	require.NoError(t, repo.SaveAutomation(t.Context(), deleted))

	matches, err := repo.EnabledByTriggerType(t.Context(), "new_lead")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "auto-match", matches[0].ID)
}

func TestDeleteAutomation(t *testing.T) {
	store := newStore(t)
	repo := store.AutomationRepository()

	require.NoError(t, repo.SaveAutomation(t.Context(), automationFixture("auto-1", "new_lead", true, time.Now().UTC())))
	require.NoError(t, repo.DeleteAutomation(t.Context(), "auto-1"))

	_, err := repo.AutomationByID(t.Context(), "auto-1")
	require.True(t, persistence.IsAutomationNotFound(err))

	err = repo.DeleteAutomation(t.Context(), "missing")
	require.True(t, persistence.IsAutomationNotFound(err))
}

func TestRunRoundTrip(t *testing.T) {
	store := newStore(t)
	repo := store.RunRepository()

	resumeAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	run := &models.Run{
		ID:                uuid.New().String(),
		AutomationID:      "auto-1",
		SubscriberID:      "sub-1",
		TriggerInstanceID: "trig-1",
		CurrentNodeID:     "n2",
		Context:           map[string]any{"country": "US"},
		Status:            models.RunStatusSuspended,
		ResumeAt:          &resumeAt,
	}
	require.NoError(t, repo.SaveRun(t.Context(), run))

	loaded, err := repo.RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "n2", loaded.CurrentNodeID)
	assert.Equal(t, models.RunStatusSuspended, loaded.Status)
	require.NotNil(t, loaded.ResumeAt)
	assert.True(t, loaded.ResumeAt.Equal(resumeAt))
	assert.Equal(t, "US", loaded.Context["country"])

	_, err = repo.RunByID(t.Context(), "missing")
	require.True(t, persistence.IsRunNotFound(err))

	byTrigger, err := repo.RunByTriggerInstance(t.Context(), "auto-1", "sub-1", "trig-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, byTrigger.ID)

	_, err = repo.RunByTriggerInstance(t.Context(), "auto-1", "sub-1", "trig-other")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestSaveRunRejectsDuplicateTriggerInstance(t *testing.T) {
	store := newStore(t)
	repo := store.RunRepository()

	first := &models.Run{
		ID:                uuid.New().String(),
		AutomationID:      "auto-1",
		SubscriberID:      "sub-1",
		TriggerInstanceID: "trig-1",
		Status:            models.RunStatusRunning,
	}
	require.NoError(t, repo.SaveRun(t.Context(), first))

	duplicate := &models.Run{
		ID:                uuid.New().String(),
		AutomationID:      "auto-1",
		SubscriberID:      "sub-1",
		TriggerInstanceID: "trig-1",
		Status:            models.RunStatusRunning,
	}
	err := repo.SaveRun(t.Context(), duplicate)
	require.ErrorIs(t, err, persistence.ErrDuplicateTriggerInstance)

	// Updating the existing run under its own id still works.
	first.Status = models.RunStatusCompleted
	require.NoError(t, repo.SaveRun(t.Context(), first))

	// A different trigger instance is a new run, not a duplicate.
	other := &models.Run{
		ID:                uuid.New().String(),
		AutomationID:      "auto-1",
		SubscriberID:      "sub-1",
		TriggerInstanceID: "trig-2",
		Status:            models.RunStatusRunning,
	}
	require.NoError(t, repo.SaveRun(t.Context(), other))
}

func TestDueRuns(t *testing.T) {
	store := newStore(t)
	repo := store.RunRepository()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := &models.Run{ID: "run-due", AutomationID: "a", SubscriberID: "s", TriggerInstanceID: "t1", Status: models.RunStatusSuspended, ResumeAt: &past}
	notYet := &models.Run{ID: "run-future", AutomationID: "a", SubscriberID: "s", TriggerInstanceID: "t2", Status: models.RunStatusSuspended, ResumeAt: &future}
	running := &models.Run{ID: "run-active", AutomationID: "a", SubscriberID: "s", TriggerInstanceID: "t3", Status: models.RunStatusRunning}

	for _, run := range []*models.Run{due, notYet, running} {
		require.NoError(t, repo.SaveRun(t.Context(), run))
	}

	found, err := repo.DueRuns(t.Context(), now)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "run-due", found[0].ID)
}

func logFixture(automationID, nodeID, subscriberID, triggerInstanceID string, status models.LogStatus, executedAt time.Time) *models.LogEntry {
	return &models.LogEntry{
		ID:                uuid.New().String(),
		AutomationID:      automationID,
		RunID:             "run-1",
		NodeID:            nodeID,
		SubscriberID:      subscriberID,
		TriggerInstanceID: triggerInstanceID,
		Status:            status,
		Attempt:           1,
		ExecutedAt:        executedAt,
	}
}

func TestLogQueries(t *testing.T) {
	store := newStore(t)
	repo := store.LogRepository()

	base := time.Now().UTC()
	entries := []*models.LogEntry{
		logFixture("auto-1", "first", "sub-1", "trig-1", models.LogStatusSuccess, base),
		logFixture("auto-1", "second", "sub-1", "trig-1", models.LogStatusFailure, base.Add(time.Second)),
		logFixture("auto-1", "second", "sub-2", "trig-2", models.LogStatusSuccess, base.Add(2*time.Second)),
		logFixture("auto-2", "other", "sub-1", "trig-3", models.LogStatusSuccess, base.Add(3*time.Second)),
	}
	for _, entry := range entries {
		require.NoError(t, repo.Append(t.Context(), entry))
	}

	byAutomation, err := repo.ListByAutomation(t.Context(), "auto-1")
	require.NoError(t, err)
	require.Len(t, byAutomation, 3)
	assert.Equal(t, "first", byAutomation[0].NodeID)
	assert.Equal(t, "second", byAutomation[1].NodeID)

	bySubscriber, err := repo.ListBySubscriber(t.Context(), "sub-1")
	require.NoError(t, err)
	require.Len(t, bySubscriber, 3)

	latest, err := repo.LatestForTrigger(t.Context(), "auto-1", "sub-1", "trig-1")
	require.NoError(t, err)
	assert.Equal(t, "second", latest.NodeID)

	_, err = repo.LatestForTrigger(t.Context(), "auto-1", "sub-9", "trig-9")
	require.ErrorIs(t, err, persistence.ErrLogEntryNotFound)
}

func TestNodeCounts(t *testing.T) {
	store := newStore(t)
	repo := store.LogRepository()

	base := time.Now().UTC()
	fixtures := []*models.LogEntry{
		logFixture("auto-1", "first", "sub-1", "t1", models.LogStatusSuccess, base),
		logFixture("auto-1", "first", "sub-2", "t2", models.LogStatusSuccess, base.Add(time.Second)),
		logFixture("auto-1", "second", "sub-1", "t1", models.LogStatusFailure, base.Add(2*time.Second)),
		logFixture("auto-1", "second", "sub-2", "t2", models.LogStatusSuccess, base.Add(3*time.Second)),
	}
	for _, entry := range fixtures {
		require.NoError(t, repo.Append(t.Context(), entry))
	}

	reports, err := repo.NodeCounts(t.Context(), "auto-1")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "first", reports[0].NodeID)
	assert.Equal(t, 2, reports[0].Successes)
	assert.Equal(t, 0, reports[0].Failures)

	assert.Equal(t, "second", reports[1].NodeID)
	assert.Equal(t, 1, reports[1].Successes)
	assert.Equal(t, 1, reports[1].Failures)
}
