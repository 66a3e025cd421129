package httprequest

import (
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "http_request"
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "HTTP request",
		Properties: map[string]*models.Property{
			"url": {
				Type:        "string",
				Description: "Target URL",
			},
			"method": {
				Type:        "string",
				Description: "HTTP method",
				Default:     "POST",
				Enum:        []any{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": {
				Type:        "object",
				Description: "Request headers",
			},
			"body": {
				Type:        "string",
				Description: "Request body",
			},
		},
		Required: []string{"url"},
	}
}

func (f *ActionFactory) Create(params map[string]any) (protocol.Action, error) {
	return NewAction(params)
}
