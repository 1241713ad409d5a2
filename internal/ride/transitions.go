package ride

import (
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/otp"
)

// AllowedTransitions is the ride state flow as code.
var AllowedTransitions = map[models.RideStatus][]models.RideStatus{
	models.StatusRequested: {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:  {models.StatusOngoing, models.StatusCompleted, models.StatusCancelled},
	models.StatusOngoing:   {models.StatusCompleted},
}

func CanTransition(from, to models.RideStatus) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// A transition computes the next record from the current one. changed is false
// when the call is a no-op that must not be persisted or announced.
type transition func(cur models.Ride, now time.Time) (next models.Ride, changed bool, err error)

func acceptBy(driverID string) transition {
	return func(r models.Ride, now time.Time) (models.Ride, bool, error) {
		if r.DriverID != "" {
			return r, false, ErrAlreadyAccepted
		}
		if !CanTransition(r.Status, models.StatusAccepted) {
			return r, false, fmt.Errorf("%w: cannot accept a %s ride", ErrInvalidState, r.Status)
		}
		r.DriverID = driverID
		r.Status = models.StatusAccepted
		r.AcceptedAt = &now
		r.UpdatedAt = now
		return r, true, nil
	}
}

func startWith(driverID, code string) transition {
	return func(r models.Ride, now time.Time) (models.Ride, bool, error) {
		if r.DriverID == "" {
			return r, false, fmt.Errorf("%w: ride has no driver", ErrInvalidState)
		}
		if driverID != r.DriverID {
			return r, false, fmt.Errorf("%w: only the assigned driver can start the ride", ErrForbidden)
		}
		if !CanTransition(r.Status, models.StatusOngoing) {
			return r, false, fmt.Errorf("%w: cannot start a %s ride", ErrInvalidState, r.Status)
		}
		if !otp.Equal(r.StartCode, code) {
			return r, false, ErrInvalidCode
		}
		r.Status = models.StatusOngoing
		r.StartCode = ""
		r.StartedAt = &now
		r.UpdatedAt = now
		return r, true, nil
	}
}

func completeBy(actorID string) transition {
	return func(r models.Ride, now time.Time) (models.Ride, bool, error) {
		if !r.HasParty(actorID) {
			return r, false, fmt.Errorf("%w: not a party to the ride", ErrForbidden)
		}
		if r.Status == models.StatusCompleted {
			return r, false, nil
		}
		if !CanTransition(r.Status, models.StatusCompleted) {
			return r, false, fmt.Errorf("%w: cannot complete a %s ride", ErrInvalidState, r.Status)
		}
		r.Status = models.StatusCompleted
		r.StartCode = ""
		r.CompletedAt = &now
		r.UpdatedAt = now
		return r, true, nil
	}
}

func cancelBy(actorID, reason string) transition {
	return func(r models.Ride, now time.Time) (models.Ride, bool, error) {
		if !r.HasParty(actorID) {
			return r, false, fmt.Errorf("%w: not a party to the ride", ErrForbidden)
		}
		if !CanTransition(r.Status, models.StatusCancelled) {
			return r, false, fmt.Errorf("%w: cannot cancel a %s ride", ErrInvalidState, r.Status)
		}
		// a driver is attached only to accepted, ongoing or completed rides
		r.ReleasedDriverID = r.DriverID
		r.DriverID = ""
		r.Status = models.StatusCancelled
		r.StartCode = ""
		r.CancelledBy = actorID
		r.CancelReason = reason
		r.CancelledAt = &now
		r.UpdatedAt = now
		return r, true, nil
	}
}

func attachPayment(riderID, ref string) transition {
	return func(r models.Ride, now time.Time) (models.Ride, bool, error) {
		if riderID != r.RiderID {
			return r, false, fmt.Errorf("%w: only the rider can pay for the ride", ErrForbidden)
		}
		if r.Status == models.StatusCancelled {
			return r, false, fmt.Errorf("%w: ride is cancelled", ErrInvalidState)
		}
		if r.PaymentRef == ref {
			return r, false, nil
		}
		r.PaymentRef = ref
		r.UpdatedAt = now
		return r, true, nil
	}
}
