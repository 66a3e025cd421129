package tag

import (
	"github.com/dripline/dripline/pkg/models"
	"github.com/dripline/dripline/pkg/protocol"
)

type ActionFactory struct {
	tagger Tagger
}

func NewActionFactory(tagger Tagger) *ActionFactory {
	return &ActionFactory{tagger: tagger}
}

func (*ActionFactory) ID() string {
	return "tag"
}

func (*ActionFactory) Schema() *models.JSONSchema {
	return &models.JSONSchema{
		Type:  "object",
		Title: "Tag subscriber",
		Properties: map[string]*models.Property{
			"tag": {
				Type:        "string",
				Description: "Tag to apply to the run's subscriber",
			},
		},
		Required: []string{"tag"},
	}
}

func (f *ActionFactory) Create(params map[string]any) (protocol.Action, error) {
	return NewAction(params, f.tagger)
}
