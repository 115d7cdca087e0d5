package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/mobility-matching/internal/booking"
	"github.com/example/mobility-matching/internal/dispatch"
	"github.com/example/mobility-matching/internal/geo"
	"github.com/example/mobility-matching/internal/matcher"
	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/rdw"
	"github.com/example/mobility-matching/internal/storage"
)

const (
	defaultNearbyRadiusKm = 5.0
	defaultNearbyLimit    = 10
	defaultGarageRadiusKm = 5.0
	maxBodyBytes          = 1 << 20
)

type Searcher interface {
	SearchDetailed(ctx context.Context, c models.Criteria) (matcher.Result, error)
}

type VehicleStore interface {
	List(ctx context.Context) ([]models.Vehicle, error)
	Get(ctx context.Context, id string) (*models.Vehicle, error)
	Create(ctx context.Context, v models.Vehicle) (models.Vehicle, error)
	Update(ctx context.Context, id string, v models.Vehicle) (models.Vehicle, error)
	Delete(ctx context.Context, id string) error
}

type ChargingStore interface {
	List(ctx context.Context) ([]models.ChargingPoint, error)
	Create(ctx context.Context, p models.ChargingPoint) (models.ChargingPoint, error)
	Update(ctx context.Context, id string, p models.ChargingPoint) (models.ChargingPoint, error)
	Delete(ctx context.Context, id string) error
}

// OpenData is the RDW lookup surface.
type OpenData interface {
	Specs(ctx context.Context, brand, model string) (rdw.Specs, error)
	Garages(ctx context.Context, lat, lng, radiusKm float64) ([]rdw.Garage, error)
}

// Deps are the collaborators the API serves. Every field is required.
type Deps struct {
	Search   Searcher
	Vehicles VehicleStore
	Charging ChargingStore
	Geo      geo.Geo
	Bookings *booking.Service
	RDW      OpenData
	WS       *dispatch.WSRegistry
	Auth     *Authenticator
}

type Server struct {
	search   Searcher
	vehicles VehicleStore
	charging ChargingStore
	geo      geo.Geo
	bookings *booking.Service
	rdw      OpenData
	ws       *dispatch.WSRegistry
	auth     *Authenticator
	logger   zerolog.Logger
	mux      *mux.Router
}

func NewServer(d Deps, logger zerolog.Logger) *Server {
	s := &Server{
		search:   d.Search,
		vehicles: d.Vehicles,
		charging: d.Charging,
		geo:      d.Geo,
		bookings: d.Bookings,
		rdw:      d.RDW,
		ws:       d.WS,
		auth:     d.Auth,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/matching/search", s.handleSearch).Methods(http.MethodPost)

	api.HandleFunc("/cars", s.handleListCars).Methods(http.MethodGet)
	api.HandleFunc("/cars/{id}", s.handleGetCar).Methods(http.MethodGet)
	api.HandleFunc("/cars", s.requireAuth(s.handleCreateCar)).Methods(http.MethodPost)
	api.HandleFunc("/cars/{id}", s.requireAuth(s.handleUpdateCar)).Methods(http.MethodPut)
	api.HandleFunc("/cars/{id}", s.requireAuth(s.handleDeleteCar)).Methods(http.MethodDelete)

	api.HandleFunc("/charging-points", s.handleListChargingPoints).Methods(http.MethodGet)
	api.HandleFunc("/charging-points/nearby", s.handleNearbyChargingPoints).Methods(http.MethodGet)
	api.HandleFunc("/charging-points", s.requireAuth(s.handleCreateChargingPoint)).Methods(http.MethodPost)
	api.HandleFunc("/charging-points/{id}", s.requireAuth(s.handleUpdateChargingPoint)).Methods(http.MethodPut)
	api.HandleFunc("/charging-points/{id}", s.requireAuth(s.handleDeleteChargingPoint)).Methods(http.MethodDelete)

	api.HandleFunc("/bookings", s.requireAuth(s.handleListBookings)).Methods(http.MethodGet)
	api.HandleFunc("/bookings", s.requireAuth(s.handleCreateBooking)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}", s.requireAuth(s.handleGetBooking)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/cancel", s.requireAuth(s.handleCancelBooking)).Methods(http.MethodPatch)

	api.HandleFunc("/rdw/specs", s.handleSpecs).Methods(http.MethodGet)
	api.HandleFunc("/parking/garages", s.handleGarages).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/bookings", s.handleBookingsWS).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var c models.Criteria
	if !decodeBody(w, r, &c) {
		return
	}
	res, err := s.search.SearchDetailed(r.Context(), c)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if diag, _ := strconv.ParseBool(r.URL.Query().Get("diagnostics")); diag {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusOK, res.Vehicles)
}

func (s *Server) handleListCars(w http.ResponseWriter, r *http.Request) {
	cars, err := s.vehicles.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cars)
}

func (s *Server) handleGetCar(w http.ResponseWriter, r *http.Request) {
	v, err := s.vehicles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCreateCar(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if !decodeBody(w, r, &v) {
		return
	}
	if err := normalizeFleetVehicle(&v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.vehicles.Create(r.Context(), v)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCar(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if !decodeBody(w, r, &v) {
		return
	}
	if err := normalizeFleetVehicle(&v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.vehicles.Update(r.Context(), mux.Vars(r)["id"], v)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCar(w http.ResponseWriter, r *http.Request) {
	if err := s.vehicles.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// normalizeFleetVehicle validates a car submitted for the internal fleet.
func normalizeFleetVehicle(v *models.Vehicle) error {
	var errs []error
	if v.Make == "" || v.Model == "" {
		errs = append(errs, errors.New("make and model are required"))
	}
	if v.Seats < 1 {
		errs = append(errs, errors.New("seats must be >= 1"))
	}
	if v.LuggageCapacity < models.LuggageNone || v.LuggageCapacity > models.LuggageLarge {
		errs = append(errs, errors.New("luggage_capacity must be within 0..3"))
	}
	if v.PricePerHour < 0 {
		errs = append(errs, errors.New("price_per_hour_estimate must be >= 0"))
	}
	if v.RangeKm != nil && *v.RangeKm < 0 {
		errs = append(errs, errors.New("range_km must be >= 0"))
	}
	switch v.FuelType {
	case models.FuelEV, models.FuelHybrid, models.FuelPetrol:
	default:
		errs = append(errs, fmt.Errorf("unknown fuel_type %q", v.FuelType))
	}
	if v.Operator == "" {
		v.Operator = models.OperatorInternal
	}
	return errors.Join(errs...)
}

func (s *Server) handleListChargingPoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.charging.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleNearbyChargingPoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	radius := defaultNearbyRadiusKm
	if v := q.Get("radius_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "radius_km must be a positive number")
			return
		}
		radius = f
	}
	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	points, err := s.geo.Nearby(r.Context(), lat, lon, radius, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func validChargingPoint(p models.ChargingPoint) error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return errors.New("coordinates out of range")
	}
	return nil
}

func (s *Server) handleCreateChargingPoint(w http.ResponseWriter, r *http.Request) {
	var p models.ChargingPoint
	if !decodeBody(w, r, &p) {
		return
	}
	if err := validChargingPoint(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.charging.Create(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.syncGeo(r.Context(), created, false)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateChargingPoint(w http.ResponseWriter, r *http.Request) {
	var p models.ChargingPoint
	if !decodeBody(w, r, &p) {
		return
	}
	if err := validChargingPoint(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.charging.Update(r.Context(), mux.Vars(r)["id"], p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.syncGeo(r.Context(), updated, false)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteChargingPoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.charging.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.syncGeo(r.Context(), models.ChargingPoint{ID: id}, true)
	w.WriteHeader(http.StatusNoContent)
}

// syncGeo mirrors a store change into the geo index. The store stays the
// source of truth, so index failures are only logged.
func (s *Server) syncGeo(ctx context.Context, p models.ChargingPoint, removed bool) {
	var err error
	if removed {
		err = s.geo.Remove(ctx, p.ID)
	} else {
		err = s.geo.Upsert(ctx, p)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("charging_point_id", p.ID).Msg("geo index sync failed")
	}
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.bookings.List(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.bookings.Create(r.Context(), userIDFromContext(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.Get(r.Context(), userIDFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := s.bookings.Cancel(r.Context(), userIDFromContext(r.Context()), mux.Vars(r)["id"], body.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSpecs(w http.ResponseWriter, r *http.Request) {
	brand, model := r.URL.Query().Get("make"), r.URL.Query().Get("model")
	if brand == "" || model == "" {
		writeError(w, http.StatusBadRequest, "make and model are required")
		return
	}
	specs, err := s.rdw.Specs(r.Context(), brand, model)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) handleGarages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := defaultGarageRadiusKm
	if v := q.Get("distance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "distance must be a positive number")
			return
		}
		radius = f
	}
	garages, err := s.rdw.Garages(r.Context(), lat, lng, radius)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, garages)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleBookingsWS accepts the token as a query parameter since browsers
// cannot set headers on websocket requests.
func (s *Server) handleBookingsWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	userID, err := s.auth.UserID(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	remove := s.ws.Add(userID, conn)
	defer remove()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCriteria), errors.Is(err, booking.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, rdw.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rdw.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		s.logger.Error().Err(err).Str("request_id", requestIDFromContext(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
