// Package logaction provides the log action, mostly useful while authoring
// and debugging automations.
package logaction

import (
	"context"
	"log/slog"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

type Action struct {
	message string
	level   string
}

func NewAction(params map[string]any) *Action {
	message, _ := params["message"].(string)

	level, _ := params["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Action{message: message, level: level}
}

func (a *Action) Execute(_ context.Context, runCtx models.RunContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "log", "subscriber_id", runCtx.SubscriberID)

	switch a.level {
	case "debug":
		logger.Debug(a.message)
	case "warn", "warning":
		logger.Warn(a.message)
	case "error":
		logger.Error(a.message)
	default:
		logger.Info(a.message)
	}

	return map[string]any{}, nil
}

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Log message",
		Properties: map[string]*models.Property{
			"message": {
				Type:        "string",
				Description: "Message to log",
			},
			"level": {
				Type:        "string",
				Description: "Log level",
				Default:     "info",
				Enum:        []any{"debug", "info", "warn", "error"},
			},
		},
		Required: []string{"message"},
	}
}

func (f *ActionFactory) Create(params map[string]any) (protocol.Action, error) {
	return NewAction(params), nil
}
