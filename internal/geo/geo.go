package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Geo is the driver index consulted by the candidate search and updated by location reports.
type Geo interface {
	Upsert(ctx context.Context, d models.Driver) error
	UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error
	SetOnline(ctx context.Context, driverID string, online bool) error
	Get(ctx context.Context, driverID string) (models.Driver, bool, error)
	// Nearby returns online drivers within radiusKm of c. Backends may over-select.
	Nearby(ctx context.Context, c models.Coord, radiusKm float64) ([]models.Driver, error)
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	now     func() time.Time
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver), now: time.Now}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = g.now()
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) UpdateLocation(_ context.Context, driverID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		d = models.Driver{ID: driverID}
	}
	d.Loc = loc
	d.Updated = g.now()
	g.drivers[driverID] = d
	return nil
}

func (g *Index) SetOnline(_ context.Context, driverID string, online bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		d = models.Driver{ID: driverID}
	}
	d.Online = online
	d.Updated = g.now()
	g.drivers[driverID] = d
	return nil
}

func (g *Index) Get(_ context.Context, driverID string) (models.Driver, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	return d, ok, nil
}

// naive scan; the Redis backend serves larger fleets
func (g *Index) Nearby(_ context.Context, c models.Coord, radiusKm float64) ([]models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Driver, 0)
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		if HaversineKm(c, d.Loc) <= radiusKm {
			out = append(out, d)
		}
	}
	return out, nil
}

const earthRadiusMeters = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// HaversineKm is the great-circle distance between two coordinates in kilometres.
func HaversineKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
}
