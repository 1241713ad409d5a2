package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/ride"
)

func (s *Server) handlePaymentIntent(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r, models.RoleRider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Payments == nil {
		s.writeError(w, r, payments.ErrNotConfigured)
		return
	}
	cur, err := s.Rides.Engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cur.RiderID != id.ActorID {
		s.writeError(w, r, fmt.Errorf("%w: only the rider pays for a ride", ride.ErrForbidden))
		return
	}
	if cur.Status == models.StatusCancelled {
		s.writeError(w, r, fmt.Errorf("%w: ride %s is cancelled", ride.ErrInvalidState, cur.ID))
		return
	}
	intent, err := s.Payments.CreateRideIntent(r.Context(), cur)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.Rides.Engine.AttachPayment(r.Context(), cur.ID, id.ActorID, intent.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

// handlePaymentWebhook completes a ride on behalf of its rider once Stripe
// confirms the payment. Rides that can no longer complete are acknowledged so
// Stripe stops retrying.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		s.writeError(w, r, payments.ErrNotConfigured)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", ride.ErrValidation, err))
		return
	}
	conf, ok, err := s.Payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrSignature) {
			s.writeError(w, r, fmt.Errorf("%w: %w", ride.ErrValidation, err))
			return
		}
		s.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, err = s.Rides.CompleteOffer(r.Context(), conf.RideID, conf.RiderID)
	switch {
	case err == nil:
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, ride.ErrInvalidState), errors.Is(err, ride.ErrForbidden):
		s.logger.Warn("payment confirmed for ride that cannot complete",
			"ride_id", conf.RideID, "payment_intent", conf.IntentID, "error", err)
	default:
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
