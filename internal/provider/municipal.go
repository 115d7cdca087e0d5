package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/example/mobility-matching/internal/config"
	"github.com/example/mobility-matching/internal/models"
)

// Assumed attributes for zone vehicles. The open-data feed has no seats,
// luggage, propulsion or pricing, so these are coarse estimates.
const (
	zoneSeats        = 4
	zoneLuggage      = models.LuggageMedium
	zoneRangeKm      = 300.0
	zonePricePerHour = 5.0
	zoneRating       = 4.5
	zoneImageURL     = "https://images.unsplash.com/photo-1541899481282-d53bffe3c35d?auto=format&fit=crop&w=500&q=60"

	// maxZoneVehicles caps aantal_voertuigen for a single zone record.
	maxZoneVehicles = 100
)

type zoneResponse struct {
	Records []zoneRecord `json:"records"`
}

type zoneRecord struct {
	Fields zoneFields `json:"fields"`
}

type zoneFields struct {
	Operator string `json:"aanbieder_deelauto"`
	// GeoPoint is [lat, lon] in the Opendatasoft record API, unlike GeoJSON.
	GeoPoint     []float64 `json:"geo_point_2d"`
	ZoneName     string    `json:"naam_zone"`
	VehicleCount int       `json:"aantal_voertuigen"`
	ZoneType     string    `json:"type_zone"`
	Status       string    `json:"status"`
}

// Municipal reads shared-car parking zones from a municipal open-data
// dataset and expands each zone into one vehicle per parked car.
type Municipal struct {
	url    string
	source string
	client *http.Client
	log    zerolog.Logger
}

func NewMunicipal(cfg config.MunicipalConfig, log zerolog.Logger) *Municipal {
	return &Municipal{
		url:    cfg.URL,
		source: cfg.Source,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("provider", cfg.Source).Logger(),
	}
}

func (m *Municipal) Name() string { return m.source }

func (m *Municipal) FetchAvailable(ctx context.Context, _ models.Criteria) ([]models.Vehicle, error) {
	var resp zoneResponse
	if err := getJSON(ctx, m.client, m.url, "", &resp); err != nil {
		return nil, err
	}
	var out []models.Vehicle
	// Zone names repeat across operators; indexes continue per name so ids stay unique.
	next := make(map[string]int)
	for i, rec := range resp.Records {
		key := zoneKey(i, rec.Fields)
		vs := m.expandZone(i, rec.Fields, next[key])
		next[key] += len(vs)
		out = append(out, vs...)
	}
	m.log.Debug().Int("zones", len(resp.Records)).Int("vehicles", len(out)).Msg("zones expanded")
	return out, nil
}

func zoneKey(recIdx int, f zoneFields) string {
	if f.ZoneName == "" {
		return fmt.Sprintf("zone%d", recIdx)
	}
	return f.ZoneName
}

// expandZone turns one zone into VehicleCount vehicles (at least one, at
// most maxZoneVehicles), numbered from first.
func (m *Municipal) expandZone(recIdx int, f zoneFields, first int) []models.Vehicle {
	count := f.VehicleCount
	if count <= 0 {
		count = 1
	}
	if count > maxZoneVehicles {
		m.log.Warn().
			Str("zone", f.ZoneName).
			Int("count", f.VehicleCount).
			Int("max", maxZoneVehicles).
			Msg("zone vehicle count clamped")
		count = maxZoneVehicles
	}
	zone := zoneKey(recIdx, f)

	loc := models.Location{Address: f.ZoneName, Label: f.ZoneType}
	if len(f.GeoPoint) == 2 && validCoord(f.GeoPoint[0], f.GeoPoint[1]) {
		loc.Latitude = models.Float(f.GeoPoint[0])
		loc.Longitude = models.Float(f.GeoPoint[1])
	}

	operator := mapOperator(f.Operator)
	brand := f.Operator
	if brand == "" {
		brand = "Deelauto"
	}
	model := "Shared Car"
	switch operator {
	case models.OperatorMyWheels:
		model = "MyWheels Car"
	case models.OperatorGreenwheels:
		model = "Greenwheels Car"
	}

	out := make([]models.Vehicle, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, models.Vehicle{
			ID:              fmt.Sprintf("%s-%s-%d", m.source, zone, first+i),
			Make:            brand,
			Model:           model,
			Seats:           zoneSeats,
			LuggageCapacity: zoneLuggage,
			FuelType:        models.FuelEV,
			RangeKm:         models.Float(zoneRangeKm),
			Operator:        operator,
			PricePerHour:    zonePricePerHour,
			Location:        loc,
			ImageURL:        zoneImageURL,
			Rating:          models.Float(zoneRating),
		})
	}
	return out
}

func validCoord(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
