package models

import "time"

type RideStatus string

const (
	StatusNone      RideStatus = ""
	StatusRequested RideStatus = "requested"
	StatusAccepted  RideStatus = "accepted"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// Terminal reports whether no transition leaves s.
func (s RideStatus) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Active reports whether a driver attached to a ride in status s is busy.
func (s RideStatus) Active() bool { return s == StatusAccepted || s == StatusOngoing }

type Ride struct {
	ID               string       `json:"id"`
	RiderID          string       `json:"rider_id"`
	DriverID         string       `json:"driver_id,omitempty"`
	ReleasedDriverID string       `json:"released_driver_id,omitempty"`
	Pickup           Location     `json:"pickup"`
	Destination      Location     `json:"destination"`
	VehicleClass     VehicleClass `json:"vehicle_class"`
	Fare             Money        `json:"fare"`
	DistanceMeters   int64        `json:"distance_meters"`
	DurationSeconds  int64        `json:"duration_seconds"`
	StartCode        string       `json:"-"`
	Status           RideStatus   `json:"status"`
	Version          int          `json:"version"`
	PaymentRef       string       `json:"payment_ref,omitempty"`
	CancelledBy      string       `json:"cancelled_by,omitempty"`
	CancelReason     string       `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	AcceptedAt       *time.Time   `json:"accepted_at,omitempty"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	CancelledAt      *time.Time   `json:"cancelled_at,omitempty"`
}

// HasParty reports whether actorID is the rider or the assigned driver.
func (r Ride) HasParty(actorID string) bool {
	return actorID != "" && (actorID == r.RiderID || actorID == r.DriverID)
}

// Involves reports whether actorID is a party to the ride or the driver it was
// taken from by a cancellation.
func (r Ride) Involves(actorID string) bool {
	return r.HasParty(actorID) || (actorID != "" && actorID == r.ReleasedDriverID)
}

// Counterparty returns the other party of the ride relative to actorID.
func (r Ride) Counterparty(actorID string) string {
	if actorID == r.RiderID {
		return r.DriverID
	}
	return r.RiderID
}

// RideView is the serialisable form of a ride for one recipient.
type RideView struct {
	Ride
	StartCode string `json:"start_code,omitempty"`
}

// RiderView exposes the start code to the rider until it is consumed.
func (r Ride) RiderView() RideView {
	v := RideView{Ride: r}
	if r.Status == StatusRequested || r.Status == StatusAccepted {
		v.StartCode = r.StartCode
	}
	return v
}

// DriverView never carries the start code.
func (r Ride) DriverView() RideView { return RideView{Ride: r} }

// ViewFor picks the view matching the recipient's relation to the ride.
func (r Ride) ViewFor(actorID string) RideView {
	if actorID != "" && actorID == r.RiderID {
		return r.RiderView()
	}
	return r.DriverView()
}
