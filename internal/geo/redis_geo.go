package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/mobility-matching/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands. Point metadata lives in
// a hash next to the sorted set.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func (r *RedisGeo) Upsert(ctx context.Context, p models.ChargingPoint) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Longitude, Latitude: p.Latitude, Name: p.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", p.ID, err)
	}
	return r.client.HSet(ctx, metaKey(p.ID), map[string]interface{}{
		"name":           p.Name,
		"connector_type": p.ConnectorType,
		"status":         string(p.Status),
		"updated":        time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.key, id)
	pipe.Del(ctx, metaKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]models.ChargingPoint, error) {
	q := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, q).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch: %w", err)
	}
	out := make([]models.ChargingPoint, 0, len(res))
	for _, g := range res {
		p := models.ChargingPoint{
			ID:         g.Name,
			Latitude:   g.Latitude,
			Longitude:  g.Longitude,
			Status:     models.ChargingUnknown,
			DistanceKm: models.Float(g.Dist),
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			p.Name = m["name"]
			p.ConnectorType = m["connector_type"]
			if s, ok := m["status"]; ok && s != "" {
				p.Status = models.ChargingPointStatus(s)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func metaKey(id string) string { return "charging:meta:" + id }
