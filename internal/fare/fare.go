// Package fare prices a trip for a vehicle class from an estimated road leg.
package fare

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/route"
)

// ErrRouteUnresolvable is returned when no leg can be estimated between the two points.
var ErrRouteUnresolvable = errors.New("route unresolvable")

// Oracle is the pricing collaborator of the ride engine.
type Oracle interface {
	Quote(ctx context.Context, pickup, destination models.Coord, class models.VehicleClass) (models.Quote, error)
}

// Tariff prices are in whole currency units.
type Tariff struct {
	Base      float64
	PerKm     float64
	PerMinute float64
}

type Table map[models.VehicleClass]Tariff

func DefaultTable() Table {
	return Table{
		models.VehicleAuto: {Base: 30, PerKm: 10, PerMinute: 2},
		models.VehicleCar:  {Base: 50, PerKm: 15, PerMinute: 3},
		models.VehicleMoto: {Base: 20, PerKm: 8, PerMinute: 1.5},
	}
}

type Calculator struct {
	Route    route.Estimator
	Tariffs  Table
	Currency string
}

func NewCalculator(est route.Estimator, currency string) *Calculator {
	if currency == "" {
		currency = "INR"
	}
	return &Calculator{Route: est, Tariffs: DefaultTable(), Currency: currency}
}

func (c *Calculator) Quote(ctx context.Context, pickup, destination models.Coord, class models.VehicleClass) (models.Quote, error) {
	t, ok := c.Tariffs[class]
	if !ok {
		return models.Quote{}, fmt.Errorf("no tariff for vehicle class %q", class)
	}
	leg, err := c.Route.Estimate(ctx, pickup, destination)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", ErrRouteUnresolvable, err)
	}
	return models.Quote{
		Class:           class,
		DistanceMeters:  leg.DistanceMeters,
		DurationSeconds: leg.DurationSeconds,
		Fare:            models.Money{Amount: t.price(leg), Currency: c.Currency},
	}, nil
}

// QuoteAll prices every vehicle class over a single route estimate.
func (c *Calculator) QuoteAll(ctx context.Context, pickup, destination models.Coord) ([]models.Quote, error) {
	leg, err := c.Route.Estimate(ctx, pickup, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnresolvable, err)
	}
	out := make([]models.Quote, 0, len(models.VehicleClasses))
	for _, class := range models.VehicleClasses {
		t, ok := c.Tariffs[class]
		if !ok {
			continue
		}
		out = append(out, models.Quote{
			Class:           class,
			DistanceMeters:  leg.DistanceMeters,
			DurationSeconds: leg.DurationSeconds,
			Fare:            models.Money{Amount: t.price(leg), Currency: c.Currency},
		})
	}
	return out, nil
}

// price rounds to whole units and returns minor units.
func (t Tariff) price(leg route.Leg) int64 {
	km := float64(leg.DistanceMeters) / 1000
	minutes := float64(leg.DurationSeconds) / 60
	return int64(math.Round(t.Base+t.PerKm*km+t.PerMinute*minutes)) * 100
}
