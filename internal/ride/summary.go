package ride

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Summary is a driver's completed-trip tally.
type Summary struct {
	DriverID      string       `json:"driver_id"`
	TripsToday    int          `json:"trips_today"`
	EarningsToday models.Money `json:"earnings_today"`
	TripsTotal    int          `json:"trips_total"`
	EarningsTotal models.Money `json:"earnings_total"`
	Active        *models.Ride `json:"active,omitempty"`
}

// Summary counts completed rides of driverID; "today" is the calendar day of the
// engine clock in its own location.
func (e *Engine) Summary(ctx context.Context, driverID string) (Summary, error) {
	rides, err := e.store.ListRidesByDriver(ctx, driverID)
	if err != nil {
		return Summary{}, err
	}
	now := e.now()
	y, m, d := now.Date()
	s := Summary{DriverID: driverID}
	for i := range rides {
		r := rides[i]
		if r.Status.Active() && s.Active == nil {
			s.Active = &r
			continue
		}
		if r.Status != models.StatusCompleted {
			continue
		}
		if s.EarningsTotal.Currency == "" {
			s.EarningsTotal.Currency = r.Fare.Currency
			s.EarningsToday.Currency = r.Fare.Currency
		}
		s.TripsTotal++
		s.EarningsTotal.Amount += r.Fare.Amount
		if r.CompletedAt == nil {
			continue
		}
		cy, cm, cd := r.CompletedAt.In(now.Location()).Date()
		if cy == y && cm == m && cd == d {
			s.TripsToday++
			s.EarningsToday.Amount += r.Fare.Amount
		}
	}
	return s, nil
}
