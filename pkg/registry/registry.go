// Package registry maps node type strings to executable action capabilities.
package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

var (
	ErrUnregisteredType = errors.New("action type not registered")
	ErrInvalidParams    = errors.New("node params do not satisfy the action schema")
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
	r.logger.Debug("Registered action", "type", factory.ID())
}

// ActionTypes returns the registered type strings, for diagnostics.
func (r *Registry) ActionTypes() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}

// CreateAction builds the executable for a node type. Unregistered types are
// an error here, but ValidateAutomation catches them at load time so this is
// a second line of defense.
func (r *Registry) CreateAction(actionType string, params map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredType, actionType)
	}

	return factory.Create(params)
}

// ValidateAutomation checks every node of the automation against the
// registry: condition and delay nodes get their engine-level params checked,
// everything else must resolve to a registered factory and satisfy its
// parameter schema. Called at automation load time so bad definitions fail
// fast instead of mid-Run.
func (r *Registry) ValidateAutomation(automation *models.Automation) error {
	if err := automation.Validate(); err != nil {
		return err
	}

	for _, node := range automation.Nodes {
		if err := r.validateNode(node); err != nil {
			return fmt.Errorf("automation %s node %s: %w", automation.ID, node.ID, err)
		}
	}

	return nil
}

func (r *Registry) validateNode(node *models.Node) error {
	switch {
	case node.IsCondition():
		return validateConditionParams(node.Params)
	case node.IsDelay():
		return validateDelayParams(node.Params)
	default:
		factory, ok := r.actionFactories[node.Type]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnregisteredType, node.Type)
		}

		return validateSchema(factory.Schema(), node.Params)
	}
}

func validateConditionParams(params map[string]any) error {
	if field, ok := params["field"].(string); !ok || field == "" {
		return errors.New("condition node requires a 'field' param")
	}

	if operator, ok := params["operator"].(string); !ok || operator == "" {
		return errors.New("condition node requires an 'operator' param")
	}

	return nil
}

func validateDelayParams(params map[string]any) error {
	_, hasDuration := params["duration"]

	_, hasUntil := params["until"]
	if !hasDuration && !hasUntil {
		return errors.New("delay node requires a 'duration' or 'until' param")
	}

	return nil
}

func validateSchema(schema *models.JSONSchema, params map[string]any) error {
	if schema == nil {
		return nil
	}

	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w: %v", ErrInvalidParams, details)
	}

	return nil
}
