// Package route estimates road distance and travel time between two coordinates.
package route

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// ErrNoRoute is returned when an estimator cannot connect the two points.
var ErrNoRoute = errors.New("no route")

type Leg struct {
	DistanceMeters  int64 `json:"distance_meters"`
	DurationSeconds int64 `json:"duration_seconds"`
}

type Estimator interface {
	Estimate(ctx context.Context, from, to models.Coord) (Leg, error)
}

// StraightLine estimates a leg from the great-circle distance at a fixed speed.
type StraightLine struct {
	SpeedMps float64
}

func (s StraightLine) Estimate(ctx context.Context, from, to models.Coord) (Leg, error) {
	if err := ctx.Err(); err != nil {
		return Leg{}, err
	}
	speed := s.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return Leg{DistanceMeters: int64(d + 0.5), DurationSeconds: int64(d/speed + 0.5)}, nil
}
