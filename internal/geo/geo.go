package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/mobility-matching/internal/models"
)

// Geo indexes charging points by position.
type Geo interface {
	Upsert(ctx context.Context, p models.ChargingPoint) error
	Remove(ctx context.Context, id string) error
	// Nearby returns points within radiusKm, closest first, at most limit.
	Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]models.ChargingPoint, error)
}

type Index struct {
	mu     sync.RWMutex
	points map[string]models.ChargingPoint
}

func NewIndex() *Index {
	return &Index{points: make(map[string]models.ChargingPoint)}
}

func (g *Index) Upsert(_ context.Context, p models.ChargingPoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.DistanceKm = nil
	g.points[p.ID] = p
	return nil
}

func (g *Index) Remove(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, id)
	return nil
}

// naive scan; fine for the handful of points kept in memory
func (g *Index) Nearby(_ context.Context, lat, lon, radiusKm float64, limit int) ([]models.ChargingPoint, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.ChargingPoint
		dist float64
	}
	arr := make([]pair, 0, len(g.points))
	for _, p := range g.points {
		dist := HaversineKm(lat, lon, p.Latitude, p.Longitude)
		if dist > radiusKm {
			continue
		}
		arr = append(arr, pair{p, dist})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist == arr[j].dist {
			return arr[i].p.ID < arr[j].p.ID
		}
		return arr[i].dist < arr[j].dist
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.ChargingPoint, 0, len(arr))
	for _, a := range arr {
		a.p.DistanceKm = models.Float(a.dist)
		out = append(out, a.p)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2) / 1000
}
