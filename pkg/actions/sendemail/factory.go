package sendemail

import (
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

type ActionFactory struct {
	mailer Mailer
}

func NewActionFactory(mailer Mailer) *ActionFactory {
	return &ActionFactory{mailer: mailer}
}

func (*ActionFactory) ID() string {
	return "send_email"
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Send email",
		Properties: map[string]*models.Property{
			"to": {
				Type:        "string",
				Description: "Recipient address",
			},
			"subject": {
				Type:        "string",
				Description: "Message subject line",
			},
			"html": {
				Type:        "string",
				Description: "HTML body",
			},
		},
		Required: []string{"to"},
	}
}

func (f *ActionFactory) Create(params map[string]any) (protocol.Action, error) {
	return NewAction(params, f.mailer)
}
