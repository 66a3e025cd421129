package engine_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/engine"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/persistence/file"
	"github.com/dripline/dripline/pkg/protocol"
	"github.com/dripline/dripline/pkg/registry"
)

// scriptedFactory registers the "probe" action. Each node names its step via
// params, and tests script failures per step.
type scriptedFactory struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]int
	kind     protocol.ActionErrorKind
}

func newScriptedFactory() *scriptedFactory {
	return &scriptedFactory{
		failures: make(map[string]int),
		kind:     protocol.ActionErrorTransient,
	}
}

func (f *scriptedFactory) ID() string                 { return "probe" }
func (f *scriptedFactory) Schema() *models.JSONSchema { return nil }

func (f *scriptedFactory) Create(params map[string]any) (protocol.Action, error) {
	step, _ := params["step"].(string)

	return &scriptedProbe{factory: f, step: step}, nil
}

func (f *scriptedFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

type scriptedProbe struct {
	factory *scriptedFactory
	step    string
}

func (p *scriptedProbe) Execute(_ context.Context, _ models.RunContext, _ *slog.Logger) (map[string]any, error) {
	f := p.factory

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, p.step)

	if f.failures[p.step] > 0 {
		f.failures[p.step]--

		return nil, protocol.NewActionError(f.kind, "scripted failure at "+p.step, nil)
	}

	return map[string]any{"last_step": p.step}, nil
}

type testHarness struct {
	persistence *file.Persistence
	registry    *registry.Registry
	engine      *engine.Engine
	factory     *scriptedFactory
}

func newHarness(t *testing.T, opts ...engine.Option) *testHarness {
	t.Helper()

	logger := slog.Default()
	p := file.NewPersistence(t.TempDir())
	factory := newScriptedFactory()

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(factory)

	opts = append([]engine.Option{engine.WithRetryPolicy(3, time.Millisecond)}, opts...)
	eng := engine.NewEngine(p, reg, logger, opts...)

	return &testHarness{persistence: p, registry: reg, engine: eng, factory: factory}
}

func (h *testHarness) newSweeper(t *testing.T) *engine.Sweeper {
	t.Helper()

	return engine.NewSweeper(h.engine, h.persistence, slog.Default(), time.Minute)
}

func strptr(s string) *string {
	return &s
}

func probeNode(id string, next *string) *models.Node {
	return &models.Node{
		ID:     id,
		Type:   "probe",
		Params: map[string]any{"step": id},
		Next:   next,
	}
}

func (h *testHarness) save(t *testing.T, automation *models.Automation) {
	t.Helper()
	require.NoError(t, h.persistence.AutomationRepository().SaveAutomation(t.Context(), automation))
}

func TestLinearRunCompletes(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-linear",
		Name:    "Linear",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			probeNode("first", strptr("second")),
			probeNode("second", nil),
		},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", map[string]any{"country": "US"})
	require.NoError(t, err)

	stored, err := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, []string{"first", "second"}, h.factory.Calls())
	assert.Equal(t, "second", stored.Context["last_step"])

	entries, err := h.persistence.LogRepository().ListByAutomation(t.Context(), automation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].NodeID)
	assert.Equal(t, "second", entries[1].NodeID)

	for _, entry := range entries {
		assert.Equal(t, models.LogStatusSuccess, entry.Status)
		assert.Equal(t, run.ID, entry.RunID)
		assert.Equal(t, "sub-1", entry.SubscriberID)
		assert.Equal(t, "trig-1", entry.TriggerInstanceID)
	}
}

func TestConditionRoutesBranches(t *testing.T) {
	automation := &models.Automation{
		ID:      "auto-branch",
		Name:    "Branch",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			{
				ID:     "gate",
				Type:   models.NodeTypeCondition,
				Params: map[string]any{"field": "country", "operator": "==", "value": "US"},
				Branches: &models.Branches{
					True:  strptr("domestic"),
					False: strptr("international"),
				},
			},
			probeNode("domestic", nil),
			probeNode("international", nil),
		},
	}

	t.Run("true branch", func(t *testing.T) {
		h := newHarness(t)
		h.save(t, automation)

		_, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", map[string]any{"country": "US"})
		require.NoError(t, err)
		assert.Equal(t, []string{"domestic"}, h.factory.Calls())
	})

	t.Run("false branch", func(t *testing.T) {
		h := newHarness(t)
		h.save(t, automation)

		_, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", map[string]any{"country": "BR"})
		require.NoError(t, err)
		assert.Equal(t, []string{"international"}, h.factory.Calls())
	})

	t.Run("missing context field takes false branch", func(t *testing.T) {
		h := newHarness(t)
		h.save(t, automation)

		_, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, []string{"international"}, h.factory.Calls())
	})
}

func TestConditionDeadEndCompletesRun(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-deadend",
		Name:    "Dead end",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			{
				ID:       "gate",
				Type:     models.NodeTypeCondition,
				Params:   map[string]any{"field": "country", "operator": "==", "value": "US"},
				Branches: &models.Branches{True: strptr("domestic")},
			},
			probeNode("domestic", nil),
		},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", map[string]any{"country": "BR"})
	require.NoError(t, err)

	stored, err := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Empty(t, h.factory.Calls())

	entries, err := h.persistence.LogRepository().ListByAutomation(t.Context(), automation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gate", entries[0].NodeID)
	assert.Equal(t, false, entries[0].Output["result"])
}

func TestActionFailureStopsDownstream(t *testing.T) {
	h := newHarness(t)
	h.factory.kind = protocol.ActionErrorInvalidParams
	h.factory.failures["first"] = 1

	automation := &models.Automation{
		ID:      "auto-fail",
		Name:    "Fail fast",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			probeNode("first", strptr("second")),
			probeNode("second", nil),
		},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.Error(t, err)

	stored, getErr := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)

	// The failing node never hands control downstream.
	assert.Equal(t, []string{"first"}, h.factory.Calls())

	entries, err := h.persistence.LogRepository().ListByAutomation(t.Context(), automation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LogStatusFailure, entries[0].Status)
	assert.Equal(t, 1, entries[0].Attempt)
}

func TestTransientFailureRetriesWithDistinctEntries(t *testing.T) {
	h := newHarness(t)
	h.factory.failures["flaky"] = 2

	automation := &models.Automation{
		ID:      "auto-retry",
		Name:    "Retry",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("flaky", nil)},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.NoError(t, err)

	stored, err := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)

	entries, err := h.persistence.LogRepository().ListByAutomation(t.Context(), automation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, models.LogStatusFailure, entries[0].Status)
	assert.Equal(t, 1, entries[0].Attempt)
	assert.Equal(t, models.LogStatusFailure, entries[1].Status)
	assert.Equal(t, 2, entries[1].Attempt)
	assert.Equal(t, models.LogStatusSuccess, entries[2].Status)
	assert.Equal(t, 3, entries[2].Attempt)
}

func TestRetriesExhaustedFailsRun(t *testing.T) {
	h := newHarness(t)
	h.factory.failures["flaky"] = 10

	automation := &models.Automation{
		ID:      "auto-exhaust",
		Name:    "Exhaust",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("flaky", nil)},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.Error(t, err)

	stored, getErr := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunStatusFailed, stored.Status)

	entries, err := h.persistence.LogRepository().ListByAutomation(t.Context(), automation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, entry := range entries {
		assert.Equal(t, models.LogStatusFailure, entry.Status)
		assert.Equal(t, i+1, entry.Attempt)
	}
}

func TestDuplicateStartIsNoOp(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-idem",
		Name:    "Idempotent",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("only", nil)},
	}
	h.save(t, automation)

	first, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.NoError(t, err)

	second, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The node executed exactly once despite redelivery.
	assert.Equal(t, []string{"only"}, h.factory.Calls())

	// A different trigger instance is a fresh Run.
	_, err = h.engine.Start(t.Context(), automation, "sub-1", "trig-2", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"only", "only"}, h.factory.Calls())
}

func TestFailedRunRestartsInPlace(t *testing.T) {
	h := newHarness(t)
	h.factory.kind = protocol.ActionErrorInvalidParams
	h.factory.failures["only"] = 1

	automation := &models.Automation{
		ID:      "auto-restart",
		Name:    "Restart",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("only", nil)},
	}
	h.save(t, automation)

	failed, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.Error(t, err)

	restarted, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, restarted.ID)

	stored, err := h.persistence.RunRepository().RunByID(t.Context(), restarted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
}

func TestDelaySuspendsAndResumes(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-delay",
		Name:    "Delay",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			probeNode("before", strptr("wait")),
			{
				ID:     "wait",
				Type:   models.NodeTypeDelay,
				Params: map[string]any{"duration": "1h"},
				Next:   strptr("after"),
			},
			probeNode("after", nil),
		},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.NoError(t, err)

	suspended, err := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuspended, suspended.Status)
	assert.Equal(t, "after", suspended.CurrentNodeID)
	require.NotNil(t, suspended.ResumeAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *suspended.ResumeAt, time.Minute)
	assert.Equal(t, []string{"before"}, h.factory.Calls())

	// Simulate a process restart: a fresh engine over the same storage.
	logger := slog.Default()
	reg := registry.NewRegistry(logger)
	reg.RegisterAction(h.factory)
	restarted := engine.NewEngine(h.persistence, reg, logger, engine.WithRetryPolicy(3, time.Millisecond))

	require.NoError(t, restarted.Resume(t.Context(), run.ID))

	resumed, err := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, resumed.Status)
	assert.Nil(t, resumed.ResumeAt)
	assert.Equal(t, []string{"before", "after"}, h.factory.Calls())
}

func TestResumeNonSuspendedRunIsNoOp(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-resume-noop",
		Name:    "Resume noop",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("only", nil)},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.Resume(t.Context(), run.ID))
	assert.Equal(t, []string{"only"}, h.factory.Calls())
}

func TestVisitBudgetStopsCyclicGraph(t *testing.T) {
	h := newHarness(t)

	// Saved directly, bypassing load-time validation, to exercise the
	// runtime guard.
	automation := &models.Automation{
		ID:      "auto-cycle",
		Name:    "Cycle",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			probeNode("ping", strptr("pong")),
			probeNode("pong", strptr("ping")),
		},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.ErrorIs(t, err, engine.ErrCycleSuspected)

	stored, getErr := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.LessOrEqual(t, len(h.factory.Calls()), 8)
}

func TestDeletedAutomationFailsRun(t *testing.T) {
	h := newHarness(t)

	// Never saved: the re-fetch at the first step observes the deletion.
	automation := &models.Automation{
		ID:      "auto-gone",
		Name:    "Gone",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("only", nil)},
	}

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.ErrorIs(t, err, engine.ErrAutomationGone)

	stored, getErr := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Empty(t, h.factory.Calls())
}

func TestMalformedConditionFailsRun(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-badcond",
		Name:    "Bad condition",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			{
				ID:       "gate",
				Type:     models.NodeTypeCondition,
				Params:   map[string]any{"field": "x", "operator": "~="},
				Branches: &models.Branches{True: strptr("never")},
			},
			probeNode("never", nil),
		},
	}
	h.save(t, automation)

	run, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", map[string]any{"x": 1})
	require.Error(t, err)

	var condErr *engine.ConditionError
	require.ErrorAs(t, err, &condErr)
	assert.Equal(t, "gate", condErr.NodeID)

	stored, getErr := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Empty(t, h.factory.Calls())
}
