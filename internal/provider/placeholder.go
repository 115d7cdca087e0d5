package provider

import (
	"context"

	"github.com/example/mobility-matching/internal/models"
)

// Placeholder reserves a slot for an operator whose API is not integrated
// yet. It always contributes nothing.
type Placeholder struct {
	name string
}

func NewPlaceholder(name string) *Placeholder { return &Placeholder{name: name} }

func (p *Placeholder) Name() string { return p.name }

func (p *Placeholder) FetchAvailable(context.Context, models.Criteria) ([]models.Vehicle, error) {
	return []models.Vehicle{}, nil
}
