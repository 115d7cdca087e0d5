package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/mobility-matching/internal/models"
)

// VehicleIDPrefix namespaces fleet ids so they never collide with ids
// synthesized by the external providers.
const VehicleIDPrefix = "fleet-"

// MemoryVehicleStore keeps the internal fleet in process memory. List
// returns vehicles in insertion order.
type MemoryVehicleStore struct {
	mu       sync.RWMutex
	order    []string
	vehicles map[string]models.Vehicle
}

func NewMemoryVehicleStore(seed ...models.Vehicle) *MemoryVehicleStore {
	s := &MemoryVehicleStore{vehicles: make(map[string]models.Vehicle)}
	for _, v := range seed {
		s.order = append(s.order, v.ID)
		s.vehicles[v.ID] = v
	}
	return s
}

// DefaultFleet is the car every fresh process starts with.
func DefaultFleet() []models.Vehicle {
	return []models.Vehicle{{
		ID:              VehicleIDPrefix + "c1",
		Make:            "Tesla",
		Model:           "Model 3",
		Seats:           5,
		LuggageCapacity: models.LuggageMedium,
		FuelType:        models.FuelEV,
		RangeKm:         models.Float(400),
		Operator:        models.OperatorInternal,
		PricePerHour:    15,
	}}
}

func (s *MemoryVehicleStore) List(_ context.Context) ([]models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.vehicles[id])
	}
	return out, nil
}

func (s *MemoryVehicleStore) Get(_ context.Context, id string) (*models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

// Create assigns a fresh namespaced id, ignoring any id the caller sent.
func (s *MemoryVehicleStore) Create(_ context.Context, v models.Vehicle) (models.Vehicle, error) {
	v.ID = VehicleIDPrefix + uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, v.ID)
	s.vehicles[v.ID] = v
	return v, nil
}

// Update replaces the stored vehicle; the id is immutable.
func (s *MemoryVehicleStore) Update(_ context.Context, id string, v models.Vehicle) (models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[id]; !ok {
		return models.Vehicle{}, ErrNotFound
	}
	v.ID = id
	s.vehicles[id] = v
	return v, nil
}

func (s *MemoryVehicleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[id]; !ok {
		return ErrNotFound
	}
	delete(s.vehicles, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// MemoryChargingStore keeps charging points sorted by id.
type MemoryChargingStore struct {
	mu     sync.RWMutex
	points map[string]models.ChargingPoint
}

func NewMemoryChargingStore(seed ...models.ChargingPoint) *MemoryChargingStore {
	s := &MemoryChargingStore{points: make(map[string]models.ChargingPoint)}
	for _, p := range seed {
		s.points[p.ID] = p
	}
	return s
}

func DefaultChargingPoints() []models.ChargingPoint {
	return []models.ChargingPoint{{
		ID:            "cp1",
		Name:          "Fastned Amsterdam",
		Latitude:      52.3,
		Longitude:     4.9,
		ConnectorType: "CCS",
		Status:        models.ChargingAvailable,
	}}
}

func (s *MemoryChargingStore) List(_ context.Context) ([]models.ChargingPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChargingPoint, 0, len(s.points))
	for _, p := range s.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryChargingStore) Create(_ context.Context, p models.ChargingPoint) (models.ChargingPoint, error) {
	p.ID = uuid.NewString()
	p.DistanceKm = nil
	if p.Status == "" {
		p.Status = models.ChargingUnknown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[p.ID] = p
	return p, nil
}

func (s *MemoryChargingStore) Update(_ context.Context, id string, p models.ChargingPoint) (models.ChargingPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[id]; !ok {
		return models.ChargingPoint{}, ErrNotFound
	}
	p.ID = id
	p.DistanceKm = nil
	s.points[id] = p
	return p, nil
}

func (s *MemoryChargingStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[id]; !ok {
		return ErrNotFound
	}
	delete(s.points, id)
	return nil
}
