package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mobility-matching/internal/booking"
	"github.com/example/mobility-matching/internal/dispatch"
	"github.com/example/mobility-matching/internal/geo"
	"github.com/example/mobility-matching/internal/matcher"
	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/provider"
	"github.com/example/mobility-matching/internal/rdw"
	"github.com/example/mobility-matching/internal/storage"
)

const testSecret = "test-secret"

type staticProvider struct {
	name     string
	vehicles []models.Vehicle
	err      error
}

func (p staticProvider) Name() string { return p.name }

func (p staticProvider) FetchAvailable(context.Context, models.Criteria) ([]models.Vehicle, error) {
	return p.vehicles, p.err
}

type fakeOpenData struct{}

func (fakeOpenData) Specs(_ context.Context, brand, model string) (rdw.Specs, error) {
	if strings.EqualFold(brand, "tesla") {
		return rdw.Specs{Make: "TESLA", Model: strings.ToUpper(model), Year: 2024}, nil
	}
	if strings.EqualFold(brand, "down") {
		return rdw.Specs{}, fmt.Errorf("%w: status 503", rdw.ErrUpstream)
	}
	return rdw.Specs{}, rdw.ErrNotFound
}

func (fakeOpenData) Garages(_ context.Context, lat, lng, radiusKm float64) ([]rdw.Garage, error) {
	return []rdw.Garage{{ID: "A1", Name: fmt.Sprintf("r=%g", radiusKm), Latitude: lat, Longitude: lng, Type: "Garage"}}, nil
}

type testEnv struct {
	srv  *httptest.Server
	auth *Authenticator
	ws   *dispatch.WSRegistry
	geo  *geo.Index
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	vehicles := storage.NewMemoryVehicleStore(storage.DefaultFleet()...)
	charging := storage.NewMemoryChargingStore(storage.DefaultChargingPoints()...)
	idx := geo.NewIndex()
	for _, p := range storage.DefaultChargingPoints() {
		require.NoError(t, idx.Upsert(context.Background(), p))
	}
	ws := dispatch.NewWSRegistry(log)
	engine := matcher.New([]provider.Provider{
		provider.NewInternalFleet(vehicles),
		staticProvider{name: "down", err: fmt.Errorf("%w: timeout", provider.ErrUpstream)},
		staticProvider{name: "ext", vehicles: []models.Vehicle{
			{ID: "ext-1", Make: "VW", Model: "Up", Seats: 4, LuggageCapacity: 1, FuelType: models.FuelPetrol, PricePerHour: 5},
			{ID: "ext-2", Make: "Smart", Model: "ForTwo", Seats: 2, LuggageCapacity: 0, FuelType: models.FuelEV, PricePerHour: 3},
		}},
	})
	auth := NewAuthenticator(testSecret)
	s := NewServer(Deps{
		Search:   engine,
		Vehicles: vehicles,
		Charging: charging,
		Geo:      idx,
		Bookings: booking.NewService(storage.NewMemoryBookingStore(), vehicles, nil, ws, log),
		RDW:      fakeOpenData{},
		WS:       ws,
		Auth:     auth,
	}, log)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, auth: auth, ws: ws, geo: idx}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.auth.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

const searchBody = `{
  "start_location": {"address": "Stationsplein 1, Eindhoven", "latitude": 51.4433, "longitude": 5.4812},
  "end_location": {"address": "Markt 1, Eindhoven"},
  "passengers": 3,
  "luggage_level": 1,
  "date_time": "2026-10-15T09:00:00Z"
}`

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMetricsExposed(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/healthz", "", "")
	resp, body := e.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mobility_matching_http_requests_total")
}

func TestSearchReturnsRankedVehicles(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/matching/search", "", searchBody)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got []models.Vehicle
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "ext-1", got[0].ID)
	assert.Equal(t, "fleet-c1", got[1].ID)
}

func TestSearchDiagnostics(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/matching/search?diagnostics=true", "", searchBody)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got struct {
		Vehicles  []models.Vehicle `json:"vehicles"`
		Providers []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Vehicles, 2)
	require.Len(t, got.Providers, 3)
	assert.Equal(t, "internal", got.Providers[0].Name)
	assert.True(t, got.Providers[0].OK)
	assert.Equal(t, "down", got.Providers[1].Name)
	assert.False(t, got.Providers[1].OK)
	assert.Contains(t, got.Providers[1].Error, "upstream unavailable")
	assert.Equal(t, 2, got.Providers[2].Count)
}

func TestSearchRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/matching/search", "", `{"passengers": 0, "luggage_level": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "passengers")

	resp, _ = e.do(t, http.MethodPost, "/api/matching/search", "", `{nope`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCarsCRUDRequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	car := `{"make":"Renault","model":"Zoe","seats":4,"luggage_capacity":1,"fuel_type":"EV","range_km":300,"price_per_hour_estimate":9}`

	resp, _ := e.do(t, http.MethodPost, "/api/cars", "", car)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok := e.token(t, "admin")
	resp, body := e.do(t, http.MethodPost, "/api/cars", tok, car)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created models.Vehicle
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, strings.HasPrefix(created.ID, storage.VehicleIDPrefix))
	assert.Equal(t, models.OperatorInternal, created.Operator)

	resp, body = e.do(t, http.MethodGet, "/api/cars", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []models.Vehicle
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Len(t, all, 2)

	resp, _ = e.do(t, http.MethodPut, "/api/cars/"+created.ID, tok, strings.Replace(car, `"seats":4`, `"seats":5`, 1))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/cars", tok, `{"make":"X","model":"Y","seats":0,"fuel_type":"DIESEL"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/cars/"+created.ID, tok, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/cars/"+created.ID, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChargingPointsKeepGeoIndexInSync(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, "admin")

	resp, body := e.do(t, http.MethodPost, "/api/charging-points", tok, `{"name":"Allego Eindhoven","latitude":51.44,"longitude":5.48,"connector_type":"Type2","status":"AVAILABLE"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var cp models.ChargingPoint
	require.NoError(t, json.Unmarshal(body, &cp))

	resp, body = e.do(t, http.MethodGet, "/api/charging-points/nearby?lat=51.44&lon=5.48&radius_km=2", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var near []models.ChargingPoint
	require.NoError(t, json.Unmarshal(body, &near))
	require.Len(t, near, 1)
	assert.Equal(t, cp.ID, near[0].ID)

	resp, _ = e.do(t, http.MethodDelete, "/api/charging-points/"+cp.ID, tok, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	got, err := e.geo.Nearby(context.Background(), 51.44, 5.48, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	resp, _ = e.do(t, http.MethodGet, "/api/charging-points/nearby?lat=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	alice, bob := e.token(t, "alice"), e.token(t, "bob")
	req := `{"vehicle_id":"fleet-c1","start_location":{"address":"Stationsplein 1"},"end_location":{"address":"Markt 1"},"start_time":"2026-10-16T09:00:00Z"}`

	resp, _ := e.do(t, http.MethodPost, "/api/bookings", "", req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/bookings", alice, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var b models.Booking
	require.NoError(t, json.Unmarshal(body, &b))
	assert.Equal(t, "alice", b.UserID)
	assert.Equal(t, models.BookingRequested, b.Status)

	resp, _ = e.do(t, http.MethodGet, "/api/bookings/"+b.ID, bob, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPatch, "/api/bookings/"+b.ID+"/cancel", bob, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = e.do(t, http.MethodPatch, "/api/bookings/"+b.ID+"/cancel", alice, `{"reason":"weather"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"CANCELLED"`)
	resp, _ = e.do(t, http.MethodPatch, "/api/bookings/"+b.ID+"/cancel", alice, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/bookings", alice, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Booking
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, _ = e.do(t, http.MethodPost, "/api/bookings", alice, `{"vehicle_id":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidTokenRejected(t *testing.T) {
	e := newTestEnv(t)
	other := NewAuthenticator("another-secret")
	tok, err := other.IssueToken("mallory", time.Hour)
	require.NoError(t, err)

	resp, _ := e.do(t, http.MethodGet, "/api/bookings", tok, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := e.auth.IssueToken("alice", -time.Minute)
	require.NoError(t, err)
	_, err = e.auth.UserID(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRDWRoutes(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/rdw/specs?make=Tesla&model=Model%203", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"model":"MODEL 3"`)

	resp, _ = e.do(t, http.MethodGet, "/api/rdw/specs?make=Trabant&model=601", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/rdw/specs?make=Down&model=x", "", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/rdw/specs?make=Tesla", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/parking/garages?lat=51.44&lng=5.48", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"r=5"`)
	resp, _ = e.do(t, http.MethodGet, "/api/parking/garages?lat=51.44", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookingUpdatesPushedOverWebsocket(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/bookings?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.ws.Sessions("alice") == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, body := e.do(t, http.MethodPost, "/api/bookings", tok, `{"vehicle_id":"fleet-c1","start_location":{"address":"A"},"end_location":{"address":"B"},"start_time":"2026-10-16T09:00:00Z"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var upd dispatch.BookingUpdate
	require.NoError(t, conn.ReadJSON(&upd))
	assert.Equal(t, "booking_update", upd.Type)
	assert.Equal(t, "alice", upd.Booking.UserID)
}

func TestWebsocketRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/bookings"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
