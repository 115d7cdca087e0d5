package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mobility-matching/internal/config"
	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/provider"
)

type stubProvider struct {
	name     string
	vehicles []models.Vehicle
	err      error
	calls    atomic.Int32
	fetch    func(ctx context.Context) ([]models.Vehicle, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) FetchAvailable(ctx context.Context, _ models.Criteria) ([]models.Vehicle, error) {
	s.calls.Add(1)
	if s.fetch != nil {
		return s.fetch(ctx)
	}
	return s.vehicles, s.err
}

func car(id string, seats, luggage int, price float64) models.Vehicle {
	return models.Vehicle{ID: id, Make: "Test", Model: id, Seats: seats, LuggageCapacity: luggage, PricePerHour: price, FuelType: models.FuelPetrol}
}

func criteria(passengers, luggage int) models.Criteria {
	return models.Criteria{
		Start:        models.Location{Address: "Stationsplein 1, Eindhoven"},
		End:          models.Location{Address: "Markt 1, Eindhoven"},
		Passengers:   passengers,
		LuggageLevel: luggage,
		DateTime:     time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
}

func ids(vs []models.Vehicle) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func TestSearchExampleScenario(t *testing.T) {
	a := &stubProvider{name: "a", vehicles: []models.Vehicle{car("car-a", 5, 2, 10)}}
	b := &stubProvider{name: "b", vehicles: []models.Vehicle{car("car-b", 2, 2, 5)}}
	e := New([]provider.Provider{a, b})

	got, err := e.Search(context.Background(), criteria(4, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "car-a", got[0].ID)
}

func TestSearchSortsByPriceAndKeepsTieOrder(t *testing.T) {
	a := &stubProvider{name: "a", vehicles: []models.Vehicle{car("a1", 4, 1, 12), car("a2", 4, 1, 8)}}
	b := &stubProvider{name: "b", vehicles: []models.Vehicle{car("b1", 4, 1, 8), car("b2", 4, 1, 3)}}
	c := &stubProvider{name: "c", vehicles: []models.Vehicle{car("c1", 4, 1, 8)}}
	e := New([]provider.Provider{a, b, c})

	got, err := e.Search(context.Background(), criteria(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "a2", "b1", "c1", "a1"}, ids(got))
}

func TestSearchFiltersSeatsAndLuggage(t *testing.T) {
	p := &stubProvider{name: "p", vehicles: []models.Vehicle{
		car("small", 2, 3, 1),
		car("no-boot", 7, 0, 2),
		car("fits", 5, 2, 3),
		car("exact", 4, 1, 4),
	}}
	e := New([]provider.Provider{p})
	c := criteria(4, 1)

	got, err := e.Search(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, []string{"fits", "exact"}, ids(got))
	for _, v := range got {
		assert.GreaterOrEqual(t, v.Seats, c.Passengers)
		assert.GreaterOrEqual(t, v.LuggageCapacity, c.LuggageLevel)
	}
}

func TestSearchSurvivesFailingProvider(t *testing.T) {
	bad := &stubProvider{name: "bad", err: fmt.Errorf("%w: connection refused", provider.ErrUpstream)}
	good := &stubProvider{name: "good", vehicles: []models.Vehicle{car("g1", 4, 2, 7), car("g2", 5, 2, 6)}}
	e := New([]provider.Provider{bad, good})

	res, err := e.SearchDetailed(context.Background(), criteria(2, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "g1"}, ids(res.Vehicles))

	require.Len(t, res.Providers, 2)
	assert.Equal(t, "bad", res.Providers[0].Name)
	assert.False(t, res.Providers[0].OK())
	assert.ErrorIs(t, res.Providers[0].Err, provider.ErrUpstream)
	assert.Equal(t, 0, res.Providers[0].Count)
	assert.Equal(t, "good", res.Providers[1].Name)
	assert.True(t, res.Providers[1].OK())
	assert.Equal(t, 2, res.Providers[1].Count)
}

func TestSearchRecoversProviderPanic(t *testing.T) {
	boom := &stubProvider{name: "boom", fetch: func(context.Context) ([]models.Vehicle, error) { panic("nil map") }}
	good := &stubProvider{name: "good", vehicles: []models.Vehicle{car("g1", 4, 2, 7)}}
	e := New([]provider.Provider{boom, good})

	res, err := e.SearchDetailed(context.Background(), criteria(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids(res.Vehicles))
	require.Error(t, res.Providers[0].Err)
	assert.Contains(t, res.Providers[0].Err.Error(), "panicked")
}

func TestSearchTimesOutSlowProvider(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	// ignores its context entirely
	stuck := &stubProvider{name: "stuck", fetch: func(context.Context) ([]models.Vehicle, error) {
		<-release
		return []models.Vehicle{car("late", 4, 2, 1)}, nil
	}}
	good := &stubProvider{name: "good", vehicles: []models.Vehicle{car("g1", 4, 2, 7)}}
	e := New([]provider.Provider{stuck, good}, WithProviderTimeout(50*time.Millisecond))

	start := time.Now()
	res, err := e.SearchDetailed(context.Background(), criteria(1, 0))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"g1"}, ids(res.Vehicles))
	assert.ErrorIs(t, res.Providers[0].Err, context.DeadlineExceeded)
}

func TestSearchPropagatesCancellation(t *testing.T) {
	sawCancel := make(chan struct{}, 1)
	waiting := &stubProvider{name: "waiting", fetch: func(ctx context.Context) ([]models.Vehicle, error) {
		<-ctx.Done()
		sawCancel <- struct{}{}
		return nil, ctx.Err()
	}}
	e := New([]provider.Provider{waiting}, WithProviderTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := e.Search(ctx, criteria(1, 0))
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-sawCancel:
	case <-time.After(2 * time.Second):
		t.Fatal("provider never observed cancellation")
	}
}

func TestSearchBoundsConcurrentProviders(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(id string) *stubProvider {
		return &stubProvider{name: id, fetch: func(ctx context.Context) ([]models.Vehicle, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return []models.Vehicle{car(id, 4, 1, 1)}, nil
		}}
	}
	ps := []provider.Provider{slow("a"), slow("b"), slow("c"), slow("d")}
	e := New(ps, WithMaxConcurrency(2))

	res, err := e.SearchDetailed(context.Background(), criteria(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(res.Vehicles))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, st := range res.Providers {
		assert.True(t, st.OK(), st.Name)
	}
}

func TestSearchIsIdempotent(t *testing.T) {
	a := &stubProvider{name: "a", vehicles: []models.Vehicle{car("a1", 4, 2, 9), car("a2", 4, 2, 9), car("a3", 4, 2, 2)}}
	b := &stubProvider{name: "b", vehicles: []models.Vehicle{car("b1", 4, 2, 9)}}
	e := New([]provider.Provider{a, b})

	first, err := e.Search(context.Background(), criteria(3, 2))
	require.NoError(t, err)
	second, err := e.Search(context.Background(), criteria(3, 2))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestSearchRejectsInvalidCriteria(t *testing.T) {
	p := &stubProvider{name: "p"}
	e := New([]provider.Provider{p})

	_, err := e.Search(context.Background(), criteria(0, 1))
	assert.ErrorIs(t, err, ErrInvalidCriteria)
	_, err = e.Search(context.Background(), criteria(1, 4))
	assert.ErrorIs(t, err, ErrInvalidCriteria)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestSearchEmptyIsNotAnError(t *testing.T) {
	e := New([]provider.Provider{&stubProvider{name: "empty", vehicles: []models.Vehicle{}}})
	got, err := e.Search(context.Background(), criteria(1, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRangeFilterFixedDistance(t *testing.T) {
	short := car("short", 4, 1, 1)
	short.RangeKm = models.Float(30)
	long := car("long", 4, 1, 2)
	long.RangeKm = models.Float(300)
	unknown := car("unknown", 4, 1, 3)
	p := &stubProvider{name: "p", vehicles: []models.Vehicle{short, long, unknown}}
	e := New([]provider.Provider{p})

	got, err := e.Search(context.Background(), criteria(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"long", "unknown"}, ids(got))
}

func TestNonPositiveFixedDistanceKeepsDefault(t *testing.T) {
	short := car("short", 4, 1, 1)
	short.RangeKm = models.Float(DefaultTripDistanceKm - 1)
	p := &stubProvider{name: "p", vehicles: []models.Vehicle{short}}
	e := New([]provider.Provider{p}, WithDistance(config.DistanceFixed, 0))

	got, err := e.Search(context.Background(), criteria(1, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRangeFilterHaversine(t *testing.T) {
	short := car("short", 4, 1, 1)
	short.RangeKm = models.Float(30)
	p := &stubProvider{name: "p", vehicles: []models.Vehicle{short}}
	e := New([]provider.Provider{p}, WithDistance(config.DistanceHaversine, 50))

	// Eindhoven station to city centre, about 1 km
	c := criteria(1, 0)
	c.Start.Latitude, c.Start.Longitude = models.Float(51.4433), models.Float(5.4812)
	c.End.Latitude, c.End.Longitude = models.Float(51.4381), models.Float(5.4779)
	got, err := e.Search(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, ids(got))

	// without end coordinates the fixed distance applies
	c.End.Latitude, c.End.Longitude = nil, nil
	got, err = e.Search(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestProviderStatusJSON(t *testing.T) {
	b, err := json.Marshal(ProviderStatus{Name: "national", Count: 0, Err: errors.New("boom"), Duration: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"national","count":0,"ok":false,"error":"boom","duration_ms":1500}`, string(b))
}

func TestProvidersListsRegistrationOrder(t *testing.T) {
	e := New([]provider.Provider{&stubProvider{name: "internal"}, &stubProvider{name: "national"}})
	assert.Equal(t, []string{"internal", "national"}, e.Providers())
}
