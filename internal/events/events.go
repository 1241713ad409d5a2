// Package events defines the closed set of messages pushed to a single actor's live connection.
package events

import (
	"encoding/json"

	"github.com/example/ride-dispatch/internal/models"
)

type Name string

const (
	NameNewRide       Name = "new-ride"
	NameRideConfirmed Name = "ride-confirmed"
	NameRideStarted   Name = "ride-started"
	NameRideEnded     Name = "ride-ended"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Name() Name
	sealed()
}

// NewRide offers a requested ride to a candidate driver. The ride is a driver view.
type NewRide struct {
	Ride               models.RideView      `json:"ride"`
	Rider              models.PublicProfile `json:"rider"`
	DistanceToPickupKm float64              `json:"distance_to_pickup_km"`
}

// RideConfirmed tells the rider which driver accepted.
type RideConfirmed struct {
	Ride   models.RideView      `json:"ride"`
	Driver models.PublicProfile `json:"driver"`
}

// RideStarted tells the rider the start code was accepted.
type RideStarted struct {
	Ride models.RideView `json:"ride"`
}

// RideEnded tells the party that did not complete the ride that it is over.
type RideEnded struct {
	Ride    models.RideView `json:"ride"`
	EndedBy string          `json:"ended_by"`
}

func (NewRide) Name() Name       { return NameNewRide }
func (RideConfirmed) Name() Name { return NameRideConfirmed }
func (RideStarted) Name() Name   { return NameRideStarted }
func (RideEnded) Name() Name     { return NameRideEnded }

func (NewRide) sealed()       {}
func (RideConfirmed) sealed() {}
func (RideStarted) sealed()   {}
func (RideEnded) sealed()     {}

type envelope struct {
	Event Name  `json:"event"`
	Data  Event `json:"data"`
}

// Encode renders ev in the wire envelope {"event": name, "data": payload}.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Event: ev.Name(), Data: ev})
}
