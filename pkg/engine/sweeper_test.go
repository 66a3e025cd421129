package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

func TestSweepResumesDueRuns(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-sweep",
		Name:    "Sweep",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
			{
				ID:     "wait",
				Type:   models.NodeTypeDelay,
				Params: map[string]any{"duration": "1ms"},
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
	require.Equal(t, models.RunStatusSuspended, suspended.Status)

	time.Sleep(5 * time.Millisecond)

	sweeper := h.newSweeper(t)
	require.NoError(t, sweeper.Sweep(t.Context()))

	resumed, err := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, resumed.Status)
	assert.Equal(t, []string{"after"}, h.factory.Calls())
}

func TestSweepLeavesFutureRunsSuspended(t *testing.T) {
	h := newHarness(t)

	automation := &models.Automation{
		ID:      "auto-sweep-future",
		Name:    "Sweep future",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes: []*models.Node{
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

	sweeper := h.newSweeper(t)
	require.NoError(t, sweeper.Sweep(t.Context()))

	still, err := h.persistence.RunRepository().RunByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuspended, still.Status)
	assert.Empty(t, h.factory.Calls())
}

func TestSweepIsolatesStuckRuns(t *testing.T) {
	h := newHarness(t)
	h.factory.kind = protocol.ActionErrorInvalidParams
	h.factory.failures["after-a"] = 1

	makeAutomation := func(id, step string) *models.Automation {
		return &models.Automation{
			ID:      id,
			Name:    "Sweep " + id,
			Enabled: true,
			Trigger: models.Trigger{Type: "new_lead"},
			Nodes: []*models.Node{
				{
					ID:     "wait",
					Type:   models.NodeTypeDelay,
					Params: map[string]any{"duration": "1ms"},
					Next:   strptr(step),
				},
				probeNode(step, nil),
			},
		}
	}

	a := makeAutomation("auto-a", "after-a")
	b := makeAutomation("auto-b", "after-b")
	h.save(t, a)
	h.save(t, b)

	runA, err := h.engine.Start(t.Context(), a, "sub-1", "trig-a", nil)
	require.NoError(t, err)
	runB, err := h.engine.Start(t.Context(), b, "sub-1", "trig-b", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	sweeper := h.newSweeper(t)
	require.NoError(t, sweeper.Sweep(t.Context()))

	failed, err := h.persistence.RunRepository().RunByID(t.Context(), runA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, failed.Status)

	completed, err := h.persistence.RunRepository().RunByID(t.Context(), runB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, completed.Status)
}
