package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands. Positions live in one sorted set,
// per-driver metadata in a hash under MetaKey.
type RedisGeo struct {
	client redis.UniversalClient
	key    string
}

func NewRedisGeo(client redis.UniversalClient, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

// MetaKey is the hash holding a driver's online flag, class and rating.
func MetaKey(id string) string { return "driver:meta:" + id }

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	pipe := r.client.TxPipeline()
	if !d.Loc.IsZero() {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID})
	}
	pipe.HSet(ctx, MetaKey(d.ID), map[string]interface{}{
		"rating":  strconv.FormatFloat(d.Rating, 'f', -1, 64),
		"online":  strconv.FormatBool(d.Online),
		"class":   string(d.Class),
		"updated": time.Now().UTC().Format(time.RFC3339),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert driver %s: %w", d.ID, err)
	}
	return nil
}

func (r *RedisGeo) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: driverID})
	pipe.HSet(ctx, MetaKey(driverID), "updated", time.Now().UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis update location %s: %w", driverID, err)
	}
	return nil
}

func (r *RedisGeo) SetOnline(ctx context.Context, driverID string, online bool) error {
	if err := r.client.HSet(ctx, MetaKey(driverID), "online", strconv.FormatBool(online)).Err(); err != nil {
		return fmt.Errorf("redis set online %s: %w", driverID, err)
	}
	return nil
}

func (r *RedisGeo) Get(ctx context.Context, driverID string) (models.Driver, bool, error) {
	d := models.Driver{ID: driverID}
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return d, false, fmt.Errorf("redis geopos %s: %w", driverID, err)
	}
	found := len(pos) == 1 && pos[0] != nil
	if found {
		d.Loc = models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	m, err := r.client.HGetAll(ctx, MetaKey(driverID)).Result()
	if err != nil {
		return d, false, fmt.Errorf("redis meta %s: %w", driverID, err)
	}
	if len(m) > 0 {
		found = true
		applyMeta(&d, m)
	}
	return d, found, nil
}

func (r *RedisGeo) Nearby(ctx context.Context, c models.Coord, radiusKm float64) ([]models.Driver, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  c.Lon,
			Latitude:   c.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		m, err := r.client.HGetAll(ctx, MetaKey(g.Name)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis meta %s: %w", g.Name, err)
		}
		applyMeta(&d, m)
		if !d.Online {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func applyMeta(d *models.Driver, m map[string]string) {
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Rating = f
		}
	}
	if v, ok := m["online"]; ok {
		d.Online = v == "true"
	}
	if v, ok := m["class"]; ok {
		d.Class = models.VehicleClass(v)
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			d.Updated = t
		}
	}
}
