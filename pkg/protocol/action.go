// Package protocol defines the contracts between the engine and pluggable
// action implementations.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dripline/dripline/pkg/models"
)

// Action executes one node for one Run. The returned map is merged into the
// Run's context by the executor. Implementations are thin adapters over
// external collaborators (mailer, tagging service, HTTP endpoints) and
// report failures as *ActionError values so retry semantics apply.
type Action interface {
	Execute(ctx context.Context, runCtx models.RunContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds actions for one node type string. Schema describes
// the accepted params and is enforced at automation load time, so a node
// with bad params never starts executing.
type ActionFactory interface {
	ID() string
	Schema() *models.JSONSchema
	Create(params map[string]any) (Action, error)
}
