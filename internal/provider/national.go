package provider

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/mobility-matching/internal/config"
	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/observability"
)

const (
	nationalName         = "national"
	nationalSeats        = 5
	nationalLuggage      = models.LuggageMedium
	nationalPricePerHour = 5.0
	nationalRating       = 4.5
)

// The feed carries no range; electric cars are assumed to reach further.
const (
	electricRangeKm   = 450.0
	combustionRangeKm = 350.0
)

type feedEnvelope struct {
	TTL  int `json:"ttl"`
	Data struct {
		Vehicles []feedVehicle `json:"vehicles"`
	} `json:"data"`
}

type feedVehicle struct {
	SystemID       string  `json:"system_id"`
	VehicleID      string  `json:"vehicle_id"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	IsReserved     bool    `json:"is_reserved"`
	IsDisabled     bool    `json:"is_disabled"`
	FormFactor     string  `json:"form_factor"`
	PropulsionType string  `json:"propulsion_type"`
}

// cacheEntry is immutable once stored; refreshes swap the whole pointer.
type cacheEntry struct {
	vehicles  []models.Vehicle
	fetchedAt time.Time
}

// National reads the national real-time shared-vehicle feed. The feed is
// rate limited, so successful responses are kept for the cache TTL.
// Failures are never cached: the next call retries immediately.
type National struct {
	url       string
	userAgent string
	ttl       time.Duration
	client    *http.Client
	now       func() time.Time
	log       zerolog.Logger

	entry atomic.Pointer[cacheEntry]
	// refresh admits one upstream fetch at a time.
	refresh chan struct{}
}

func NewNational(cfg config.NationalConfig, log zerolog.Logger) *National {
	return &National{
		url:       cfg.URL,
		userAgent: cfg.UserAgent,
		ttl:       cfg.CacheTTL,
		client:    &http.Client{Timeout: cfg.Timeout},
		now:       time.Now,
		log:       log.With().Str("provider", nationalName).Logger(),
		refresh:   make(chan struct{}, 1),
	}
}

func (n *National) Name() string { return nationalName }

func (n *National) FetchAvailable(ctx context.Context, _ models.Criteria) ([]models.Vehicle, error) {
	if v, ok := n.fresh(); ok {
		observability.ProviderCache.WithLabelValues(nationalName, "hit").Inc()
		n.log.Debug().Int("vehicles", len(v)).Msg("serving from cache")
		return v, nil
	}

	select {
	case n.refresh <- struct{}{}:
		defer func() { <-n.refresh }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUpstream, ctx.Err())
	}
	// Another search may have refreshed the slot while this one waited.
	if v, ok := n.fresh(); ok {
		observability.ProviderCache.WithLabelValues(nationalName, "hit").Inc()
		return v, nil
	}
	observability.ProviderCache.WithLabelValues(nationalName, "miss").Inc()

	var env feedEnvelope
	if err := getJSON(ctx, n.client, n.url, n.userAgent, &env); err != nil {
		return nil, err
	}
	vehicles := make([]models.Vehicle, 0, len(env.Data.Vehicles))
	for _, fv := range env.Data.Vehicles {
		if fv.FormFactor != "car" || fv.IsDisabled || fv.IsReserved {
			continue
		}
		vehicles = append(vehicles, toVehicle(fv))
	}
	n.entry.Store(&cacheEntry{vehicles: vehicles, fetchedAt: n.now()})
	n.log.Info().Int("vehicles", len(vehicles)).Int("feed_total", len(env.Data.Vehicles)).Msg("fetched national vehicles")
	return slices.Clone(vehicles), nil
}

// fresh returns a copy of the cached vehicles if the slot is filled and
// younger than the TTL.
func (n *National) fresh() ([]models.Vehicle, bool) {
	e := n.entry.Load()
	if e == nil || n.now().Sub(e.fetchedAt) >= n.ttl {
		return nil, false
	}
	return slices.Clone(e.vehicles), true
}

func toVehicle(fv feedVehicle) models.Vehicle {
	operator := mapOperator(fv.SystemID)
	fuel := mapFuel(fv.PropulsionType)

	brand := capitalize(fv.SystemID)
	if operator == models.OperatorMyWheels {
		brand = "MyWheels"
	}
	model := capitalize(fv.FormFactor)
	if fv.PropulsionType == "electric" {
		model = "Electric Car"
	}
	rangeKm := combustionRangeKm
	if fuel == models.FuelEV {
		rangeKm = electricRangeKm
	}

	return models.Vehicle{
		ID:              fmt.Sprintf("%s-%s-%s", nationalName, fv.SystemID, fv.VehicleID),
		Make:            brand,
		Model:           model,
		Seats:           nationalSeats,
		LuggageCapacity: nationalLuggage,
		FuelType:        fuel,
		RangeKm:         models.Float(rangeKm),
		Operator:        operator,
		PricePerHour:    nationalPricePerHour,
		Location: models.Location{
			Address:   "Locatie op kaart",
			Latitude:  models.Float(fv.Lat),
			Longitude: models.Float(fv.Lon),
			Label:     capitalize(fv.SystemID),
		},
		Rating: models.Float(nationalRating),
	}
}

// mapFuel maps a GBFS propulsion type; unknown values count as petrol.
func mapFuel(propulsion string) models.FuelType {
	switch propulsion {
	case "electric":
		return models.FuelEV
	case "combustion", "combustion_diesel", "petrol":
		return models.FuelPetrol
	case "electric_assist", "hybrid", "plug_in_hybrid":
		return models.FuelHybrid
	default:
		return models.FuelPetrol
	}
}
