// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dripline/dripline/pkg/actions/httprequest"
	"github.com/dripline/dripline/pkg/actions/logaction"
	"github.com/dripline/dripline/pkg/actions/sendemail"
	"github.com/dripline/dripline/pkg/actions/tag"
	"github.com/dripline/dripline/pkg/eventbus"
	"github.com/dripline/dripline/pkg/events"
	"github.com/dripline/dripline/pkg/registry"
)

// NewRegistry builds the capability registry with the native actions. The
// publisher may be nil; then applied tags do not feed back as tag_added
// events.
func NewRegistry(logger *slog.Logger, publisher eventbus.EventPublisher) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(sendemail.NewActionFactory(newLogMailer(logger)))
	reg.RegisterAction(tag.NewActionFactory(newPublishingTagger(logger, publisher)))
	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())

	return reg
}

// logMailer is the default Mailer: it records the send instead of talking to
// an ESP. Deployments with a provider swap in their own implementation.
type logMailer struct {
	logger *slog.Logger
}

func newLogMailer(logger *slog.Logger) *logMailer {
	return &logMailer{logger: logger.With("module", "mailer")}
}

func (m *logMailer) Send(ctx context.Context, to, subject, _ string) (string, error) {
	messageID := uuid.New().String()
	m.logger.InfoContext(ctx, "Email sent", "to", to, "subject", subject, "message_id", messageID)

	return messageID, nil
}

// publishingTagger records the tag and, when a publisher is available, emits
// a tag_added domain event so tag-triggered automations can chain.
type publishingTagger struct {
	logger    *slog.Logger
	publisher eventbus.EventPublisher
}

func newPublishingTagger(logger *slog.Logger, publisher eventbus.EventPublisher) *publishingTagger {
	return &publishingTagger{logger: logger.With("module", "tagger"), publisher: publisher}
}

func (t *publishingTagger) Tag(ctx context.Context, subscriberID, tagName string) error {
	t.logger.InfoContext(ctx, "Tag applied", "subscriber_id", subscriberID, "tag", tagName)

	if t.publisher == nil {
		return nil
	}

	event := events.NewDomainEvent(events.EventTagAdded, subscriberID, map[string]any{
		"tag":       tagName,
		"tagged_at": time.Now().UTC().Format(time.RFC3339),
	})

	return t.publisher.Publish(ctx, subscriberID, event)
}
