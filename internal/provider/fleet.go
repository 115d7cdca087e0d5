package provider

import (
	"context"
	"fmt"

	"github.com/example/mobility-matching/internal/models"
)

// VehicleLister is the read side of the vehicle store.
type VehicleLister interface {
	List(ctx context.Context) ([]models.Vehicle, error)
}

// InternalFleet serves the operator's own cars from the in-process store.
// Other entries seeded into the same store are ignored.
type InternalFleet struct {
	store VehicleLister
}

func NewInternalFleet(store VehicleLister) *InternalFleet {
	return &InternalFleet{store: store}
}

func (f *InternalFleet) Name() string { return "internal" }

func (f *InternalFleet) FetchAvailable(ctx context.Context, _ models.Criteria) ([]models.Vehicle, error) {
	all, err := f.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fleet: %w", err)
	}
	out := make([]models.Vehicle, 0, len(all))
	for _, v := range all {
		if v.Operator == models.OperatorInternal {
			out = append(out, v)
		}
	}
	return out, nil
}
