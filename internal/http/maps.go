package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/example/ride-dispatch/internal/ride"
)

func (s *Server) handleCoordinates(w http.ResponseWriter, r *http.Request) {
	if _, err := caller(r, ""); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Geocoder == nil {
		s.writeError(w, r, fmt.Errorf("%w: geocoding is not configured", errUnavailable))
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		s.writeError(w, r, fmt.Errorf("%w: address is required", ride.ErrValidation))
		return
	}
	c, err := s.Geocoder.Resolve(r.Context(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDistanceTime(w http.ResponseWriter, r *http.Request) {
	if _, err := caller(r, ""); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	origin, err := s.point(r.Context(), "origin", q.Get("origin"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dest, err := s.point(r.Context(), "destination", q.Get("destination"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	leg, err := s.Route.Estimate(r.Context(), origin, dest)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", errUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"distance_meters":  leg.DistanceMeters,
		"duration_seconds": leg.DurationSeconds,
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if _, err := caller(r, ""); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Geocoder == nil {
		s.writeError(w, r, fmt.Errorf("%w: suggestions are not configured", errUnavailable))
		return
	}
	out, err := s.Geocoder.Suggest(r.Context(), r.URL.Query().Get("input"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": out})
}
