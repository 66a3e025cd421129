package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dripline/dripline/pkg/automationlog"
	"github.com/dripline/dripline/pkg/condition"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/otelhelper"
	"github.com/dripline/dripline/pkg/persistence"
	"github.com/dripline/dripline/pkg/protocol"
	"github.com/dripline/dripline/pkg/registry"
)

const (
	// visitBudgetFactor bounds total node visits per Run at nodeCount times
	// this factor, the runtime guard against an undetected cycle.
	visitBudgetFactor = 4

	defaultMaxAttempts     = 3
	defaultInitialInterval = 500 * time.Millisecond
)

// Engine walks one automation's node graph for one subscriber at a time.
// Many Runs execute concurrently, each on its own goroutine; within a Run,
// steps are strictly sequential and every outcome is logged before the next
// node executes.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	recorder    *automationlog.Recorder
	logger      *slog.Logger
	tracer      trace.Tracer

	maxAttempts     int
	initialInterval time.Duration
}

type Option func(*Engine)

// WithTracer installs a tracer for per-run and per-node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithRetryPolicy overrides the action retry cap and initial backoff
// interval; tests use this to avoid real sleeps.
func WithRetryPolicy(maxAttempts int, initialInterval time.Duration) Option {
	return func(e *Engine) {
		e.maxAttempts = maxAttempts
		e.initialInterval = initialInterval
	}
}

func NewEngine(p persistence.Persistence, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		persistence:     p,
		registry:        reg,
		recorder:        automationlog.NewRecorder(p.LogRepository()),
		logger:          logger.With("module", "engine"),
		tracer:          noop.NewTracerProvider().Tracer("dripline"),
		maxAttempts:     defaultMaxAttempts,
		initialInterval: defaultInitialInterval,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Start begins a Run for one (automation, subscriber, trigger instance)
// triple. Duplicate starts are a silent no-op: if a completed or in-flight
// Run already exists for the triple, or the log already records one, the
// existing Run is returned unchanged.
func (e *Engine) Start(ctx context.Context, automation *models.Automation, subscriberID, triggerInstanceID string, initialContext map[string]any) (*models.Run, error) {
	logger := e.logger.With(
		"automation_id", automation.ID,
		"subscriber_id", subscriberID,
		"trigger_instance_id", triggerInstanceID,
	)

	existing, err := e.persistence.RunRepository().RunByTriggerInstance(ctx, automation.ID, subscriberID, triggerInstanceID)
	if err != nil && !errors.Is(err, persistence.ErrRunNotFound) {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}

	if existing != nil && existing.Status != models.RunStatusFailed {
		logger.Debug("Run already exists for trigger instance, skipping start", "run_id", existing.ID)

		return existing, nil
	}

	if existing == nil {
		logged, err := e.recorder.HasRunFor(ctx, automation.ID, subscriberID, triggerInstanceID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}

		if logged {
			logger.Debug("Log already records a run for trigger instance, skipping start")

			return nil, nil
		}
	}

	entry := automation.EntryNode()
	if entry == nil {
		return nil, &StructuralError{AutomationID: automation.ID, Err: models.ErrNoNodes}
	}

	run := &models.Run{
		ID:                uuid.New().String(),
		AutomationID:      automation.ID,
		SubscriberID:      subscriberID,
		TriggerInstanceID: triggerInstanceID,
		CurrentNodeID:     entry.ID,
		Context:           cloneContext(initialContext),
		Status:            models.RunStatusRunning,
		CreatedAt:         time.Now().UTC(),
	}
	if existing != nil {
		// A failed Run for the triple is restarted in place so the unique
		// triple constraint holds.
		run.ID = existing.ID
		run.CreatedAt = existing.CreatedAt
	}

	if err := e.persistence.RunRepository().SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	logger.Info("Starting run", "run_id", run.ID)

	return run, e.execute(ctx, run)
}

// Resume continues a suspended Run from its persisted cursor. Safe across
// process restarts: everything needed lives in the run row.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	run, err := e.persistence.RunRepository().RunByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status != models.RunStatusSuspended {
		e.logger.Debug("Run is not suspended, nothing to resume", "run_id", runID, "status", run.Status)

		return nil
	}

	run.Status = models.RunStatusRunning
	run.ResumeAt = nil

	if err := e.persistence.RunRepository().SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to persist resumed run: %w", err)
	}

	e.logger.Info("Resuming run", "run_id", run.ID, "node_id", run.CurrentNodeID)

	return e.execute(ctx, run)
}

// execute advances the Run until a terminal node, an unresolved branch, a
// suspension, or a failure. The automation is re-fetched each step so a
// deletion mid-flight fails the Run at its next step instead of going
// unnoticed.
func (e *Engine) execute(ctx context.Context, run *models.Run) error {
	logger := e.logger.With("run_id", run.ID, "automation_id", run.AutomationID, "subscriber_id", run.SubscriberID)

	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.AutomationIDKey, run.AutomationID),
		attribute.String(otelhelper.SubscriberIDKey, run.SubscriberID),
	))
	defer span.End()

	for run.CurrentNodeID != "" {
		automation, err := e.persistence.AutomationRepository().AutomationByID(ctx, run.AutomationID)
		if err != nil {
			if persistence.IsAutomationNotFound(err) {
				return e.failRun(ctx, run, run.CurrentNodeID, nil, ErrAutomationGone)
			}

			return e.failRun(ctx, run, run.CurrentNodeID, nil, err)
		}

		run.Visits++
		if run.Visits > len(automation.Nodes)*visitBudgetFactor {
			structural := &StructuralError{AutomationID: automation.ID, NodeID: run.CurrentNodeID, Err: ErrCycleSuspected}

			return e.failRun(ctx, run, run.CurrentNodeID, nil, structural)
		}

		node, found := automation.NodeByID(run.CurrentNodeID)
		if !found {
			structural := &StructuralError{AutomationID: automation.ID, NodeID: run.CurrentNodeID, Err: models.ErrDanglingReference}

			return e.failRun(ctx, run, run.CurrentNodeID, nil, structural)
		}

		done, err := e.step(ctx, automation, run, node, logger)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}

	return e.completeRun(ctx, run)
}

// step executes one node. It returns done=true when the Run reached a state
// that ends this execution segment (completion or suspension).
func (e *Engine) step(ctx context.Context, automation *models.Automation, run *models.Run, node *models.Node, logger *slog.Logger) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "engine.node", trace.WithAttributes(
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	))
	defer span.End()

	logger = logger.With("node_id", node.ID, "node_type", node.Type)

	switch {
	case node.IsCondition():
		return e.stepCondition(ctx, run, node, logger)
	case node.IsDelay():
		return e.stepDelay(ctx, run, node, logger)
	default:
		return e.stepAction(ctx, automation, run, node, logger)
	}
}

func (e *Engine) stepCondition(ctx context.Context, run *models.Run, node *models.Node, logger *slog.Logger) (bool, error) {
	outcome, err := condition.Evaluate(node.Params, run.Context)
	if err != nil {
		condErr := &ConditionError{NodeID: node.ID, Err: err}

		return true, e.failRun(ctx, run, node.ID, node.Params, condErr)
	}

	err = e.recorder.Record(ctx, &models.LogEntry{
		AutomationID:      run.AutomationID,
		RunID:             run.ID,
		NodeID:            node.ID,
		SubscriberID:      run.SubscriberID,
		TriggerInstanceID: run.TriggerInstanceID,
		Status:            models.LogStatusSuccess,
		Input:             node.Params,
		Output:            map[string]any{"result": outcome},
	})
	if err != nil {
		return true, e.failRun(ctx, run, node.ID, node.Params, err)
	}

	logger.Debug("Condition evaluated", "result", outcome)

	next, ok := node.Branch(outcome)
	if !ok {
		// Missing branch target is an explicit dead end, not an error.
		run.CurrentNodeID = ""

		return true, e.completeRun(ctx, run)
	}

	run.CurrentNodeID = next

	return false, e.persistence.RunRepository().SaveRun(ctx, run)
}

func (e *Engine) stepDelay(ctx context.Context, run *models.Run, node *models.Node, logger *slog.Logger) (bool, error) {
	resumeAt, err := resolveResumeTime(node.Params, time.Now().UTC())
	if err != nil {
		condErr := &ConditionError{NodeID: node.ID, Err: err}

		return true, e.failRun(ctx, run, node.ID, node.Params, condErr)
	}

	err = e.recorder.Record(ctx, &models.LogEntry{
		AutomationID:      run.AutomationID,
		RunID:             run.ID,
		NodeID:            node.ID,
		SubscriberID:      run.SubscriberID,
		TriggerInstanceID: run.TriggerInstanceID,
		Status:            models.LogStatusSuccess,
		Input:             node.Params,
		Output:            map[string]any{"resume_at": resumeAt.Format(time.RFC3339)},
	})
	if err != nil {
		return true, e.failRun(ctx, run, node.ID, node.Params, err)
	}

	if node.Next == nil {
		// Delay with nothing after it: the Run is effectively done.
		run.CurrentNodeID = ""

		return true, e.completeRun(ctx, run)
	}

	// The cursor already points past the delay so Resume continues with the
	// successor, never re-executing the delay node.
	run.CurrentNodeID = *node.Next
	run.Status = models.RunStatusSuspended
	run.ResumeAt = &resumeAt

	if err := e.persistence.RunRepository().SaveRun(ctx, run); err != nil {
		return true, fmt.Errorf("failed to persist suspended run: %w", err)
	}

	logger.Info("Run suspended", "resume_at", resumeAt)

	return true, nil
}

func (e *Engine) stepAction(ctx context.Context, automation *models.Automation, run *models.Run, node *models.Node, logger *slog.Logger) (bool, error) {
	action, err := e.registry.CreateAction(node.Type, node.Params)
	if err != nil {
		return true, e.failRun(ctx, run, node.ID, node.Params, err)
	}

	runCtx := models.RunContext{
		RunID:             run.ID,
		AutomationID:      run.AutomationID,
		SubscriberID:      run.SubscriberID,
		TriggerInstanceID: run.TriggerInstanceID,
		NodeID:            node.ID,
		Params:            node.Params,
		Data:              run.Context,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initialInterval
	bo.MaxElapsedTime = 0

	var output map[string]any

	for attempt := 1; ; attempt++ {
		output, err = action.Execute(ctx, runCtx, logger)

		entry := &models.LogEntry{
			AutomationID:      run.AutomationID,
			RunID:             run.ID,
			NodeID:            node.ID,
			SubscriberID:      run.SubscriberID,
			TriggerInstanceID: run.TriggerInstanceID,
			Input:             node.Params,
			Attempt:           attempt,
		}

		if err == nil {
			entry.Status = models.LogStatusSuccess
			entry.Output = output

			if recordErr := e.recorder.Record(ctx, entry); recordErr != nil {
				return true, e.failRunUnlogged(ctx, run, recordErr)
			}

			break
		}

		entry.Status = models.LogStatusFailure
		entry.Error = err.Error()

		if recordErr := e.recorder.Record(ctx, entry); recordErr != nil {
			return true, e.failRunUnlogged(ctx, run, recordErr)
		}

		if !protocol.IsRetryable(err) || attempt >= e.maxAttempts {
			logger.Warn("Action failed", "attempt", attempt, "error", err)

			return true, e.failRunUnlogged(ctx, run, err)
		}

		wait := bo.NextBackOff()
		logger.Debug("Retrying action", "attempt", attempt, "backoff", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return true, e.failRunUnlogged(ctx, run, ctx.Err())
		}
	}

	run.Context = runCtx.MergedData(output)

	if node.Next == nil {
		run.CurrentNodeID = ""

		return true, e.completeRun(ctx, run)
	}

	run.CurrentNodeID = *node.Next

	return false, e.persistence.RunRepository().SaveRun(ctx, run)
}

// failRun records a failure entry for the node and marks the Run failed.
func (e *Engine) failRun(ctx context.Context, run *models.Run, nodeID string, input map[string]any, cause error) error {
	entry := &models.LogEntry{
		AutomationID:      run.AutomationID,
		RunID:             run.ID,
		NodeID:            nodeID,
		SubscriberID:      run.SubscriberID,
		TriggerInstanceID: run.TriggerInstanceID,
		Status:            models.LogStatusFailure,
		Input:             input,
		Error:             cause.Error(),
	}

	if err := e.recorder.Record(ctx, entry); err != nil {
		e.logger.Error("Failed to record failure entry", "run_id", run.ID, "error", err)
	}

	return e.failRunUnlogged(ctx, run, cause)
}

// failRunUnlogged marks the Run failed without appending a log entry; used
// when the failure entry was already written (retry attempts) or cannot be.
func (e *Engine) failRunUnlogged(ctx context.Context, run *models.Run, cause error) error {
	otelhelper.SetError(trace.SpanFromContext(ctx), cause,
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.AutomationIDKey, run.AutomationID),
	)

	run.Status = models.RunStatusFailed
	run.Error = cause.Error()
	run.CurrentNodeID = ""

	if err := e.persistence.RunRepository().SaveRun(ctx, run); err != nil {
		e.logger.Error("Failed to persist failed run", "run_id", run.ID, "error", err)
	}

	e.logger.Warn("Run failed", "run_id", run.ID, "error", cause)

	return cause
}

func (e *Engine) completeRun(ctx context.Context, run *models.Run) error {
	run.Status = models.RunStatusCompleted
	run.CurrentNodeID = ""

	if err := e.persistence.RunRepository().SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to persist completed run: %w", err)
	}

	e.logger.Info("Run completed", "run_id", run.ID, "automation_id", run.AutomationID)

	return nil
}

// resolveResumeTime reads a delay node's params: either "duration" (Go
// duration string or seconds) or "until" (RFC 3339 timestamp).
func resolveResumeTime(params map[string]any, now time.Time) (time.Time, error) {
	if raw, ok := params["duration"]; ok {
		switch v := raw.(type) {
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid delay duration %q: %w", v, err)
			}

			return now.Add(d), nil
		case float64:
			return now.Add(time.Duration(v) * time.Second), nil
		case int:
			return now.Add(time.Duration(v) * time.Second), nil
		default:
			return time.Time{}, fmt.Errorf("invalid delay duration type %T", raw)
		}
	}

	if raw, ok := params["until"]; ok {
		v, ok := raw.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("invalid delay 'until' type %T", raw)
		}

		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid delay 'until' %q: %w", v, err)
		}

		return at.UTC(), nil
	}

	return time.Time{}, errors.New("delay node requires 'duration' or 'until'")
}

func cloneContext(src map[string]any) map[string]any {
	cloned := make(map[string]any, len(src))
	maps.Copy(cloned, src)

	return cloned
}
