// Package rdw reads the Dutch vehicle authority's open datasets: registered
// vehicle specifications and parking garages.
package rdw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/mobility-matching/internal/config"
	"github.com/example/mobility-matching/internal/observability"
)

var (
	ErrNotFound = errors.New("rdw: no matching record")
	ErrUpstream = errors.New("rdw: upstream unavailable")
)

const (
	garageLimit  = 50
	garageUsage  = "GARAGEP"
	cacheSpecs   = "rdw_specs"
	cacheGarages = "rdw_garages"
)

// Specs describes a make/model as registered on Dutch roads.
type Specs struct {
	Make        string `json:"make"`
	Model       string `json:"model"`
	MassKg      int    `json:"mass_kg"`
	Color       string `json:"color"`
	Year        int    `json:"year"`
	Description string `json:"description"`
}

type Garage struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Type      string  `json:"type"`
	Capacity  int     `json:"capacity"`
}

type Client struct {
	cfg     config.RDWConfig
	http    *http.Client
	log     zerolog.Logger
	specs   *Cache[Specs]
	garages *Cache[[]Garage]
}

func NewClient(cfg config.RDWConfig, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
		specs:   NewCache[Specs](cfg.SpecsTTL),
		garages: NewCache[[]Garage](cfg.ParkingTTL),
	}
}

type vehicleRecord struct {
	Merk                 string `json:"merk"`
	Handelsbenaming      string `json:"handelsbenaming"`
	Inrichting           string `json:"inrichting"`
	MassaLedigVoertuig   string `json:"massa_ledig_voertuig"`
	EersteKleur          string `json:"eerste_kleur"`
	DatumEersteToelating string `json:"datum_eerste_toelating"`
}

func (r vehicleRecord) specs() Specs {
	mass, _ := strconv.Atoi(r.MassaLedigVoertuig)
	year := 0
	if len(r.DatumEersteToelating) >= 4 {
		year, _ = strconv.Atoi(r.DatumEersteToelating[:4])
	}
	return Specs{
		Make:        r.Merk,
		Model:       r.Handelsbenaming,
		MassKg:      mass,
		Color:       r.EersteKleur,
		Year:        year,
		Description: r.Inrichting,
	}
}

// Specs looks up the newest registration that exactly matches brand and
// model, falling back to a substring match on both.
func (c *Client) Specs(ctx context.Context, brand, model string) (Specs, error) {
	mk := strings.ToUpper(strings.TrimSpace(brand))
	md := strings.ToUpper(strings.TrimSpace(model))
	key := mk + "-" + md
	if s, ok := c.specs.Get(key); ok {
		observability.ProviderCache.WithLabelValues(cacheSpecs, "hit").Inc()
		return s, nil
	}
	observability.ProviderCache.WithLabelValues(cacheSpecs, "miss").Inc()

	exact := url.Values{}
	exact.Set("merk", mk)
	exact.Set("handelsbenaming", md)
	exact.Set("$limit", "1")
	exact.Set("$order", "datum_eerste_toelating DESC")
	var recs []vehicleRecord
	if err := c.get(ctx, c.cfg.SpecsURL, exact, &recs); err != nil {
		return Specs{}, err
	}
	if len(recs) == 0 {
		fuzzy := url.Values{}
		fuzzy.Set("$where", fmt.Sprintf("merk like '%%%s%%' AND handelsbenaming like '%%%s%%'", soqlEscape(mk), soqlEscape(md)))
		fuzzy.Set("$limit", "1")
		if err := c.get(ctx, c.cfg.SpecsURL, fuzzy, &recs); err != nil {
			return Specs{}, err
		}
	}
	if len(recs) == 0 {
		return Specs{}, ErrNotFound
	}
	s := recs[0].specs()
	c.specs.Set(key, s)
	return s, nil
}

type garageRecord struct {
	AreaID   string `json:"areaid"`
	AreaDesc string `json:"areadesc"`
	Location struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"location"`
}

type capacityRecord struct {
	AreaID   string `json:"areaid"`
	Capacity string `json:"capacity"`
}

// Garages lists parking garages within radiusKm of the point. Capacities
// come from a second dataset; when that lookup fails they stay 0.
func (c *Client) Garages(ctx context.Context, lat, lng, radiusKm float64) ([]Garage, error) {
	key := fmt.Sprintf("g_%.2f_%.2f_%g", lat, lng, radiusKm)
	if g, ok := c.garages.Get(key); ok {
		observability.ProviderCache.WithLabelValues(cacheGarages, "hit").Inc()
		return g, nil
	}
	observability.ProviderCache.WithLabelValues(cacheGarages, "miss").Inc()

	q := url.Values{}
	q.Set("$where", fmt.Sprintf("within_circle(location, %g, %g, %g) AND usageid = '%s'", lat, lng, radiusKm*1000, garageUsage))
	q.Set("$limit", strconv.Itoa(garageLimit))
	var recs []garageRecord
	if err := c.get(ctx, c.cfg.ParkingURL, q, &recs); err != nil {
		return nil, err
	}

	garages := make([]Garage, 0, len(recs))
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		la, errLa := strconv.ParseFloat(r.Location.Latitude, 64)
		lo, errLo := strconv.ParseFloat(r.Location.Longitude, 64)
		if errLa != nil || errLo != nil {
			continue
		}
		garages = append(garages, Garage{ID: r.AreaID, Name: r.AreaDesc, Latitude: la, Longitude: lo, Type: "Garage"})
		ids = append(ids, "'"+soqlEscape(r.AreaID)+"'")
	}

	if len(ids) > 0 {
		cq := url.Values{}
		cq.Set("$where", "areaid in ("+strings.Join(ids, ",")+")")
		var caps []capacityRecord
		if err := c.get(ctx, c.cfg.CapacityURL, cq, &caps); err != nil {
			c.log.Warn().Err(err).Msg("parking capacity lookup failed")
		} else {
			byID := make(map[string]int, len(caps))
			for _, cr := range caps {
				n, _ := strconv.Atoi(cr.Capacity)
				byID[cr.AreaID] = n
			}
			for i := range garages {
				garages[i].Capacity = byID[garages[i].ID]
			}
		}
	}

	c.garages.Set(key, garages)
	return garages, nil
}

func (c *Client) get(ctx context.Context, base string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	c.log.Debug().Str("url", base).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("rdw request")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: unexpected status code: %d, body: %s", ErrUpstream, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	return nil
}

// soqlEscape doubles single quotes inside a SoQL string literal.
func soqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
