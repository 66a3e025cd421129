package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dripline/dripline/pkg/engine"
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/otelhelper"
	"github.com/dripline/dripline/pkg/protocol"
)

func newSpanRecorder(t *testing.T) (*tracetest.SpanRecorder, engine.Option) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() {
		require.NoError(t, provider.Shutdown(context.Background()))
	})

	return recorder, engine.WithTracer(provider.Tracer("dripline-test"))
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[string]string {
	attrs := make(map[string]string)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}

	return attrs
}

func TestRunSpansCarryRunAttributes(t *testing.T) {
	recorder, tracerOpt := newSpanRecorder(t)
	h := newHarness(t, tracerOpt)

	automation := &models.Automation{
		ID:      "auto-traced",
		Name:    "Traced",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("only", nil)},
	}
	h.save(t, automation)

	_, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.NoError(t, err)

	var runSpan, nodeSpan sdktrace.ReadOnlySpan

	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "engine.run":
			runSpan = span
		case "engine.node":
			nodeSpan = span
		}
	}

	require.NotNil(t, runSpan)
	require.NotNil(t, nodeSpan)

	runAttrs := spanAttributes(runSpan)
	assert.NotEmpty(t, runAttrs[otelhelper.RunIDKey])
	assert.Equal(t, "auto-traced", runAttrs[otelhelper.AutomationIDKey])
	assert.Equal(t, "sub-1", runAttrs[otelhelper.SubscriberIDKey])

	nodeAttrs := spanAttributes(nodeSpan)
	assert.Equal(t, "only", nodeAttrs[otelhelper.NodeIDKey])
	assert.Equal(t, "probe", nodeAttrs[otelhelper.NodeTypeKey])
	assert.Equal(t, codes.Unset, nodeSpan.Status().Code)
}

func TestFailedRunMarksSpanError(t *testing.T) {
	recorder, tracerOpt := newSpanRecorder(t)
	h := newHarness(t, tracerOpt)
	h.factory.kind = protocol.ActionErrorInvalidParams
	h.factory.failures["broken"] = 1

	automation := &models.Automation{
		ID:      "auto-traced-fail",
		Name:    "Traced failure",
		Enabled: true,
		Trigger: models.Trigger{Type: "new_lead"},
		Nodes:   []*models.Node{probeNode("broken", nil)},
	}
	h.save(t, automation)

	_, err := h.engine.Start(t.Context(), automation, "sub-1", "trig-1", nil)
	require.Error(t, err)

	var nodeSpan sdktrace.ReadOnlySpan

	for _, span := range recorder.Ended() {
		if span.Name() == "engine.node" {
			nodeSpan = span
		}
	}

	require.NotNil(t, nodeSpan)
	assert.Equal(t, codes.Error, nodeSpan.Status().Code)
	require.NotEmpty(t, nodeSpan.Events())
	assert.Equal(t, "exception", nodeSpan.Events()[0].Name)
}
