package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/ride"
)

// handleDriverLocation is the raw ingest used by internal producers: the full
// driver record is upserted as online.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := decodeJSON(w, r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" || !d.Loc.Valid() || d.Loc.IsZero() {
		s.writeError(w, r, fmt.Errorf("%w: driver id and location are required", ride.ErrValidation))
		return
	}
	prev, found, _ := s.Geo.Get(r.Context(), d.ID)
	d.Online = true
	if err := s.Geo.Upsert(r.Context(), d); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found || !prev.Online {
		observability.DriversOnline.Inc()
	}
	s.publishLocation(r.Context(), models.DriverLocation{DriverID: d.ID, Loc: d.Loc, At: s.now().UTC()})
	observability.LocationUpdates.WithLabelValues("internal").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMyLocation(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, models.RoleDriver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var c models.Coord
	if err := decodeJSON(w, r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.updateLocation(r.Context(), id.ActorID, c, "http"); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateLocation moves a driver in the geo index and forwards the report.
func (s *Server) updateLocation(ctx context.Context, driverID string, c models.Coord, source string) error {
	if !c.Valid() || c.IsZero() {
		return fmt.Errorf("%w: invalid location %v,%v", ride.ErrValidation, c.Lat, c.Lon)
	}
	if err := s.Geo.UpdateLocation(ctx, driverID, c); err != nil {
		return err
	}
	s.publishLocation(ctx, models.DriverLocation{DriverID: driverID, Loc: c, At: s.now().UTC()})
	observability.LocationUpdates.WithLabelValues(source).Inc()
	return nil
}

func (s *Server) publishLocation(ctx context.Context, loc models.DriverLocation) {
	if s.Locations == nil {
		return
	}
	if err := s.Locations.PublishLocation(ctx, loc); err != nil {
		s.logger.Warn("location publish failed", "driver_id", loc.DriverID, "error", err)
	}
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, models.RoleDriver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Online *bool `json:"online"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Online == nil {
		s.writeError(w, r, fmt.Errorf("%w: online is required", ride.ErrValidation))
		return
	}
	prev, _, err := s.Geo.Get(r.Context(), id.ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Geo.SetOnline(r.Context(), id.ActorID, *body.Online); err != nil {
		s.writeError(w, r, err)
		return
	}
	switch {
	case *body.Online && !prev.Online:
		observability.DriversOnline.Inc()
	case !*body.Online && prev.Online:
		observability.DriversOnline.Dec()
	}
	writeJSON(w, http.StatusOK, map[string]any{"driver_id": id.ActorID, "online": *body.Online})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, models.RoleDriver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.Rides.Engine.Summary(r.Context(), id.ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Profiles.GetProfile(r.Context(), id.ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutProfile saves the caller's profile. A driver's vehicle class is
// copied to the geo index so candidate search can filter on it.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var p models.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.ActorID = id.ActorID
	p.Role = id.Role
	p.Name = strings.TrimSpace(p.Name)
	p.UpdatedAt = s.now().UTC()
	if p.Name == "" {
		s.writeError(w, r, fmt.Errorf("%w: name is required", ride.ErrValidation))
		return
	}
	if p.Role == models.RoleRider {
		p.Vehicle = nil
	}
	if p.Vehicle != nil && !p.Vehicle.Class.Valid() {
		s.writeError(w, r, fmt.Errorf("%w: unknown vehicle class %q", ride.ErrValidation, p.Vehicle.Class))
		return
	}
	if err := s.Profiles.SaveProfile(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.Vehicle != nil {
		d, _, err := s.Geo.Get(r.Context(), id.ActorID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		d.ID = id.ActorID
		d.Class = p.Vehicle.Class
		d.Rating = p.Rating
		if err := s.Geo.Upsert(r.Context(), d); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, p)
}
