package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsZero reports whether c is the unset (0,0) coordinate.
func (c Coord) IsZero() bool { return c.Lat == 0 && c.Lon == 0 }

// Valid reports whether c lies within WGS84 latitude/longitude bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Location is a free-text address with an optional resolved coordinate.
type Location struct {
	Address string `json:"address"`
	Coord   *Coord `json:"coord,omitempty"`
}

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

func (r Role) Valid() bool { return r == RoleRider || r == RoleDriver }

type VehicleClass string

const (
	VehicleAuto VehicleClass = "auto"
	VehicleCar  VehicleClass = "car"
	VehicleMoto VehicleClass = "moto"
)

// VehicleClasses lists every class a ride can be requested for.
var VehicleClasses = []VehicleClass{VehicleAuto, VehicleCar, VehicleMoto}

func (v VehicleClass) Valid() bool {
	for _, c := range VehicleClasses {
		if v == c {
			return true
		}
	}
	return false
}

// Money is an amount in minor currency units (paise, cents).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Driver is the live dispatch state of a driver as held by the geo index.
type Driver struct {
	ID      string       `json:"id"`
	Loc     Coord        `json:"loc"`
	Class   VehicleClass `json:"vehicle_class,omitempty"`
	Rating  float64      `json:"rating"` // 0..5
	Online  bool         `json:"online"`
	Updated time.Time    `json:"updated"`
}

// DriverLocation is the payload of a periodic location report.
type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}

type Vehicle struct {
	Plate    string       `json:"plate"`
	Color    string       `json:"color"`
	Class    VehicleClass `json:"vehicle_class"`
	Capacity int          `json:"capacity"`
}

// Profile is the durable record of an actor.
type Profile struct {
	ActorID   string    `json:"actor_id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Rating    float64   `json:"rating"`
	Vehicle   *Vehicle  `json:"vehicle,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicProfile is the subset of a profile shown to the other party of a ride.
type PublicProfile struct {
	ActorID string   `json:"actor_id"`
	Name    string   `json:"name,omitempty"`
	Rating  float64  `json:"rating,omitempty"`
	Vehicle *Vehicle `json:"vehicle,omitempty"`
}

func (p Profile) Public() PublicProfile {
	return PublicProfile{ActorID: p.ActorID, Name: p.Name, Rating: p.Rating, Vehicle: p.Vehicle}
}

// Quote is the answer of the fare oracle for one vehicle class.
type Quote struct {
	Class           VehicleClass `json:"vehicle_class"`
	DistanceMeters  int64        `json:"distance_meters"`
	DurationSeconds int64        `json:"duration_seconds"`
	Fare            Money        `json:"fare"`
}

// Offer is the ephemeral set of candidates notified for a ride. It is never persisted.
type Offer struct {
	RideID     string   `json:"ride_id"`
	Candidates []string `json:"candidates"`
}
