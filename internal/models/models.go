package models

import "time"

type FuelType string

const (
	FuelEV     FuelType = "EV"
	FuelHybrid FuelType = "HYBRID"
	FuelPetrol FuelType = "PETROL"
)

// Operator identifies who runs a vehicle. The set is small on purpose:
// upstream operator strings are folded into it by substring matching.
type Operator string

const (
	OperatorInternal    Operator = "INTERNAL"
	OperatorMyWheels    Operator = "MYWHEELS"
	OperatorGreenwheels Operator = "GREENWHEELS"
	OperatorOther       Operator = "OTHER"
)

// Luggage levels, shared by vehicle capacity and requested luggage.
const (
	LuggageNone   = 0
	LuggageSmall  = 1
	LuggageMedium = 2
	LuggageLarge  = 3
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is an address with optional coordinates. Lat/Lon are pointers
// because 0 is a valid coordinate and absence must stay distinguishable.
type Location struct {
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Label     string   `json:"label,omitempty"`
}

// Coord returns the coordinate pair and whether both halves are present.
func (l Location) Coord() (Coord, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return Coord{}, false
	}
	return Coord{Lat: *l.Latitude, Lon: *l.Longitude}, true
}

// Vehicle is the canonical, provider-agnostic record returned by searches.
// Vehicles are rebuilt on every search; IDs are unique per response only.
type Vehicle struct {
	ID              string   `json:"id"`
	Make            string   `json:"make"`
	Model           string   `json:"model"`
	Seats           int      `json:"seats"`
	LuggageCapacity int      `json:"luggage_capacity"` // 0..3
	FuelType        FuelType `json:"fuel_type"`
	RangeKm         *float64 `json:"range_km,omitempty"`
	Operator        Operator `json:"operator"`
	PricePerHour    float64  `json:"price_per_hour_estimate"`
	Location        Location `json:"location"`
	ImageURL        string   `json:"image_url,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
}

// Criteria are the caller's trip requirements for one search.
type Criteria struct {
	Start        Location  `json:"start_location"`
	End          Location  `json:"end_location"`
	Passengers   int       `json:"passengers"`
	LuggageLevel int       `json:"luggage_level"`
	DateTime     time.Time `json:"date_time"`
}

type BookingStatus string

const (
	BookingRequested BookingStatus = "REQUESTED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

type Booking struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"user_id"`
	VehicleID          string        `json:"vehicle_id"`
	Vehicle            *Vehicle      `json:"vehicle,omitempty"`
	Start              Location      `json:"start_location"`
	End                Location      `json:"end_location"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            *time.Time    `json:"end_time,omitempty"`
	Status             BookingStatus `json:"status"`
	TotalPrice         *float64      `json:"total_price,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	Note               string        `json:"note,omitempty"`
}

// BookingEvent is published whenever a booking changes state.
type BookingEvent struct {
	BookingID  string        `json:"booking_id"`
	UserID     string        `json:"user_id"`
	VehicleID  string        `json:"vehicle_id"`
	Status     BookingStatus `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type ChargingPointStatus string

const (
	ChargingAvailable ChargingPointStatus = "AVAILABLE"
	ChargingOccupied  ChargingPointStatus = "OCCUPIED"
	ChargingUnknown   ChargingPointStatus = "UNKNOWN"
)

type ChargingPoint struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Latitude      float64             `json:"latitude"`
	Longitude     float64             `json:"longitude"`
	ConnectorType string              `json:"connector_type"`
	Status        ChargingPointStatus `json:"status"`
	DistanceKm    *float64            `json:"distance_km,omitempty"`
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }
