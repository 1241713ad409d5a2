package geo

import (
	"context"
	"log/slog"
	"sort"

	"github.com/example/ride-dispatch/internal/models"
)

// BusyChecker reports whether a driver is attached to a non-terminal ride.
type BusyChecker interface {
	DriverBusy(ctx context.Context, driverID string) (bool, error)
}

type Candidate struct {
	DriverID   string  `json:"driver_id"`
	DistanceKm float64 `json:"distance_km"`
}

// Finder is the candidate search used to fan out new-ride offers.
type Finder struct {
	Geo    Geo
	Busy   BusyChecker
	Logger *slog.Logger
}

// FindNearby returns every online, idle driver whose great-circle distance from c is at
// most radiusKm, nearest first. An empty class matches every vehicle class.
func (f *Finder) FindNearby(ctx context.Context, c models.Coord, radiusKm float64, class models.VehicleClass) ([]Candidate, error) {
	if radiusKm <= 0 {
		return []Candidate{}, nil
	}
	drivers, err := f.Geo.Nearby(ctx, c, radiusKm)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Online {
			continue
		}
		if class != "" && d.Class != class {
			continue
		}
		// backends may round or over-select; the radius is enforced here
		dist := HaversineKm(c, d.Loc)
		if dist > radiusKm {
			continue
		}
		if f.Busy != nil {
			busy, err := f.Busy.DriverBusy(ctx, d.ID)
			if err != nil {
				f.logger().Warn("busy check failed, skipping driver", "driver_id", d.ID, "error", err)
				continue
			}
			if busy {
				continue
			}
		}
		out = append(out, Candidate{DriverID: d.ID, DistanceKm: dist})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (f *Finder) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
