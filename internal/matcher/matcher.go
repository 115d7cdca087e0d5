// Package matcher fans a search out to every registered provider, then
// filters and ranks the merged candidates.
package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/mobility-matching/internal/config"
	"github.com/example/mobility-matching/internal/geo"
	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/observability"
	"github.com/example/mobility-matching/internal/provider"
)

var ErrInvalidCriteria = models.ErrInvalidCriteria

const (
	DefaultProviderTimeout = 5 * time.Second
	DefaultTripDistanceKm  = 50.0
)

// ProviderStatus is the per-provider outcome of one search.
type ProviderStatus struct {
	Name     string
	Count    int
	Err      error
	Duration time.Duration
}

func (s ProviderStatus) OK() bool { return s.Err == nil }

func (s ProviderStatus) MarshalJSON() ([]byte, error) {
	out := struct {
		Name       string `json:"name"`
		Count      int    `json:"count"`
		OK         bool   `json:"ok"`
		Error      string `json:"error,omitempty"`
		DurationMs int64  `json:"duration_ms"`
	}{Name: s.Name, Count: s.Count, OK: s.OK(), DurationMs: s.Duration.Milliseconds()}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}

// Result carries the ranked vehicles and one status per provider, in
// registration order.
type Result struct {
	Vehicles  []models.Vehicle `json:"vehicles"`
	Providers []ProviderStatus `json:"providers"`
}

type Option func(*Engine)

// WithProviderTimeout bounds each provider call. Non-positive values are ignored.
func WithProviderTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxConcurrency bounds how many providers are queried at once.
// Zero or less queries all providers in parallel.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.maxConcurrent = n }
}

// WithDistance selects how the trip distance for the range filter is derived.
// A non-positive fixedKm keeps DefaultTripDistanceKm.
func WithDistance(mode string, fixedKm float64) Option {
	return func(e *Engine) {
		e.mode = mode
		if fixedKm > 0 {
			e.fixedKm = fixedKm
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine holds no per-search state and is safe for concurrent use.
type Engine struct {
	providers     []provider.Provider
	timeout       time.Duration
	maxConcurrent int
	mode          string
	fixedKm       float64
	log           zerolog.Logger
}

func New(providers []provider.Provider, opts ...Option) *Engine {
	e := &Engine{
		providers: providers,
		timeout:   DefaultProviderTimeout,
		mode:      config.DistanceFixed,
		fixedKm:   DefaultTripDistanceKm,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Providers returns the registered provider names in registration order.
func (e *Engine) Providers() []string {
	names := make([]string, len(e.providers))
	for i, p := range e.providers {
		names[i] = p.Name()
	}
	return names
}

// Search returns the feasible vehicles, cheapest first. A provider failure
// never fails the search; it only removes that provider's contribution.
func (e *Engine) Search(ctx context.Context, c models.Criteria) ([]models.Vehicle, error) {
	res, err := e.SearchDetailed(ctx, c)
	if err != nil {
		return nil, err
	}
	return res.Vehicles, nil
}

func (e *Engine) SearchDetailed(ctx context.Context, c models.Criteria) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	observability.SearchesTotal.Inc()

	contributions := make([][]models.Vehicle, len(e.providers))
	statuses := make([]ProviderStatus, len(e.providers))

	var g errgroup.Group
	if e.maxConcurrent > 0 {
		g.SetLimit(e.maxConcurrent)
	}
	for i, p := range e.providers {
		g.Go(func() error {
			contributions[i], statuses[i] = e.fetch(ctx, p, c)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var candidates []models.Vehicle
	for _, vs := range contributions {
		candidates = append(candidates, vs...)
	}
	ranked := Rank(Filter(candidates, c, e.tripDistanceKm(c)))

	observability.SearchLatency.Observe(time.Since(start).Seconds())
	observability.SearchResults.Observe(float64(len(ranked)))
	e.log.Debug().
		Int("candidates", len(candidates)).
		Int("results", len(ranked)).
		Dur("took", time.Since(start)).
		Msg("search complete")

	return Result{Vehicles: ranked, Providers: statuses}, nil
}

type fetchResult struct {
	vehicles []models.Vehicle
	err      error
}

// fetch runs one provider under its own deadline. Errors, panics and
// timeouts all collapse to an empty contribution.
func (e *Engine) fetch(ctx context.Context, p provider.Provider, c models.Criteria) ([]models.Vehicle, ProviderStatus) {
	name := p.Name()
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		vs, err := p.FetchAvailable(pctx, c)
		done <- fetchResult{vehicles: vs, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-pctx.Done():
		res.err = pctx.Err()
	}
	took := time.Since(start)

	outcome := observability.OutcomeOK
	if res.err != nil {
		outcome = observability.OutcomeError
		if errors.Is(res.err, context.DeadlineExceeded) {
			outcome = observability.OutcomeTimeout
		}
		res.vehicles = nil
		e.log.Warn().Str("provider", name).Err(res.err).Dur("took", took).Msg("provider fetch failed")
	}
	observability.ProviderFetch.WithLabelValues(name, outcome).Inc()
	observability.ProviderFetchLatency.WithLabelValues(name).Observe(took.Seconds())

	return res.vehicles, ProviderStatus{Name: name, Count: len(res.vehicles), Err: res.err, Duration: took}
}

func (e *Engine) tripDistanceKm(c models.Criteria) float64 {
	if e.mode != config.DistanceHaversine {
		return e.fixedKm
	}
	from, ok1 := c.Start.Coord()
	to, ok2 := c.End.Coord()
	if !ok1 || !ok2 {
		return e.fixedKm
	}
	return geo.HaversineKm(from.Lat, from.Lon, to.Lat, to.Lon)
}

// Filter keeps vehicles with enough seats, luggage space and range. A
// vehicle without a known range is never filtered on range.
func Filter(vs []models.Vehicle, c models.Criteria, tripKm float64) []models.Vehicle {
	out := make([]models.Vehicle, 0, len(vs))
	for _, v := range vs {
		if v.Seats < c.Passengers || v.LuggageCapacity < c.LuggageLevel {
			continue
		}
		if v.RangeKm != nil && *v.RangeKm < tripKm {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Rank sorts by price per hour in place; equal prices keep their order.
func Rank(vs []models.Vehicle) []models.Vehicle {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].PricePerHour < vs[j].PricePerHour })
	return vs
}
