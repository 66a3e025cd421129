// Package tag provides the tag action: apply a tag to the Run's subscriber
// through the tagging collaborator.
package tag

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

// Tagger is the subscriber-tagging collaborator.
type Tagger interface {
	Tag(ctx context.Context, subscriberID, tag string) error
}

// ErrTaggerUnavailable marks a down tagging backend; the engine retries
// with backoff.
var ErrTaggerUnavailable = errors.New("tagger unavailable")

type Action struct {
	tag    string
	tagger Tagger
}

func NewAction(params map[string]any, tagger Tagger) (*Action, error) {
	value, _ := params["tag"].(string)
	if value == "" {
		return nil, protocol.NewActionError(protocol.ActionErrorInvalidParams, "tag action requires 'tag'", nil)
	}

	return &Action{tag: value, tagger: tagger}, nil
}

func (a *Action) Execute(ctx context.Context, runCtx models.RunContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "tag", "tag", a.tag)

	err := a.tagger.Tag(ctx, runCtx.SubscriberID, a.tag)
	if err != nil {
		if errors.Is(err, ErrTaggerUnavailable) {
			return nil, protocol.NewActionError(protocol.ActionErrorUnavailable, "tagger unavailable", err)
		}

		return nil, protocol.NewActionError(protocol.ActionErrorTransient, "tagging failed", err)
	}

	logger.Info("Subscriber tagged", "subscriber_id", runCtx.SubscriberID)

	return map[string]any{"tag_applied": a.tag}, nil
}
