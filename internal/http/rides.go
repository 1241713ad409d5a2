package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
)

type createRideRequest struct {
	Pickup       models.Location     `json:"pickup"`
	Destination  models.Location     `json:"destination"`
	VehicleClass models.VehicleClass `json:"vehicle_class"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, models.RoleRider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createRideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.Rides.RequestRide(r.Context(), ride.CreateRequest{
		RiderID:      id.ActorID,
		Pickup:       req.Pickup,
		Destination:  req.Destination,
		VehicleClass: req.VehicleClass,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created.RiderView())
}

// handleFare quotes every vehicle class. pickup and destination are either
// "lat,lon" pairs or addresses resolved through the geocoder.
func (s *Server) handleFare(w http.ResponseWriter, r *http.Request) {
	if _, err := caller(r, ""); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	pickup, err := s.point(r.Context(), "pickup", q.Get("pickup"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dest, err := s.point(r.Context(), "destination", q.Get("destination"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	quotes, err := s.Rides.QuoteAll(r.Context(), pickup, dest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	got, err := s.Rides.Engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !got.Involves(id.ActorID) {
		// requested rides are visible to drivers deciding on an offer
		if !(got.Status == models.StatusRequested && id.Role == models.RoleDriver) {
			s.writeError(w, r, fmt.Errorf("%w: not a party to ride %s", ride.ErrForbidden, got.ID))
			return
		}
		writeJSON(w, http.StatusOK, got.DriverView())
		return
	}
	writeJSON(w, http.StatusOK, got.ViewFor(id.ActorID))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, models.RoleDriver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted, err := s.Rides.AcceptOffer(r.Context(), mux.Vars(r)["id"], id.ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accepted.DriverView())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, models.RoleDriver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	started, err := s.Rides.StartOffer(r.Context(), mux.Vars(r)["id"], id.ActorID, body.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, started.DriverView())
}

// handleComplete ends a ride. A rider completing is the cash-payment path.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	done, err := s.Rides.CompleteOffer(r.Context(), mux.Vars(r)["id"], id.ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, done.ViewFor(id.ActorID))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	cancelled, err := s.Rides.CancelOffer(r.Context(), mux.Vars(r)["id"], id.ActorID, strings.TrimSpace(body.Reason))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cancelled.PaymentRef != "" && s.Payments != nil {
		// the ride is already cancelled; a stuck intent is only logged
		if err := s.Payments.CancelIntent(r.Context(), cancelled.PaymentRef); err != nil {
			s.logger.Warn("payment intent not cancelled", "ride_id", cancelled.ID, "intent_id", cancelled.PaymentRef, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, cancelled.ViewFor(id.ActorID))
}

func (s *Server) handleMyRides(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var rides []models.Ride
	if id.Role == models.RoleDriver {
		rides, err = s.Rides.Engine.ListForDriver(r.Context(), id.ActorID)
	} else {
		rides, err = s.Rides.Engine.ListForRider(r.Context(), id.ActorID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]models.RideView, 0, len(rides))
	for _, rd := range rides {
		out = append(out, rd.ViewFor(id.ActorID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": out})
}

// point parses "lat,lon" or resolves an address.
func (s *Server) point(ctx context.Context, field, v string) (models.Coord, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return models.Coord{}, fmt.Errorf("%w: %s is required", ride.ErrValidation, field)
	}
	if c, ok := parseLatLon(v); ok {
		if !c.Valid() {
			return models.Coord{}, fmt.Errorf("%w: %s out of range", ride.ErrValidation, field)
		}
		return c, nil
	}
	if s.Geocoder == nil {
		return models.Coord{}, fmt.Errorf("%w: %s must be \"lat,lon\" without a geocoder", ride.ErrValidation, field)
	}
	c, err := s.Geocoder.Resolve(ctx, v)
	if err != nil {
		return models.Coord{}, fmt.Errorf("%s: %w", field, err)
	}
	return c, nil
}

func parseLatLon(v string) (models.Coord, bool) {
	lat, lon, ok := strings.Cut(v, ",")
	if !ok {
		return models.Coord{}, false
	}
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	lo, err2 := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err1 != nil || err2 != nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: la, Lon: lo}, true
}
