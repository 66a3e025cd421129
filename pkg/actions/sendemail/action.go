// Package sendemail provides the send_email action, a thin adapter over a
// delivery collaborator. SMTP mechanics live behind the Mailer interface.
package sendemail

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

// Mailer is the delivery collaborator. Implementations are expected to be
// safe for concurrent use; the engine calls one Execute at a time per Run
// but many Runs execute concurrently.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) (messageID string, err error)
}

// ErrMailerUnavailable should be returned (or wrapped) by Mailer
// implementations when the delivery backend is down, so the engine retries
// with backoff instead of failing the Run outright.
var ErrMailerUnavailable = errors.New("mailer unavailable")

type Action struct {
	to      string
	subject string
	html    string
	mailer  Mailer
}

func NewAction(params map[string]any, mailer Mailer) (*Action, error) {
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	html, _ := params["html"].(string)

	if to == "" {
		return nil, protocol.NewActionError(protocol.ActionErrorInvalidParams, "send_email requires 'to'", nil)
	}

	return &Action{to: to, subject: subject, html: html, mailer: mailer}, nil
}

func (a *Action) Execute(ctx context.Context, runCtx models.RunContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "send_email", "to", a.to)

	messageID, err := a.mailer.Send(ctx, a.to, a.subject, a.html)
	if err != nil {
		if errors.Is(err, ErrMailerUnavailable) {
			return nil, protocol.NewActionError(protocol.ActionErrorUnavailable, "mailer unavailable", err)
		}

		return nil, protocol.NewActionError(protocol.ActionErrorTransient, "email delivery failed", err)
	}

	logger.Info("Email dispatched", "message_id", messageID)

	return map[string]any{
		"email_message_id": messageID,
		"email_to":         a.to,
	}, nil
}
