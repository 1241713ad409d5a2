package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

var errUnavailable = errors.New("service unavailable")

const retryAfterSeconds = "5"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps domain errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, ride.ErrValidation), errors.Is(err, maps.ErrAddressNotFound):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, ride.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ride.ErrAlreadyAccepted):
		return http.StatusConflict, "ride_unavailable"
	case errors.Is(err, ride.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, ride.ErrInvalidCode):
		return http.StatusUnprocessableEntity, "invalid_code"
	case errors.Is(err, ride.ErrPricingUnavailable), errors.Is(err, fare.ErrRouteUnresolvable):
		return http.StatusServiceUnavailable, "pricing_unavailable"
	case errors.Is(err, dispatch.ErrNoQuoter), errors.Is(err, payments.ErrNotConfigured), errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxBodyBytes = 1 << 16

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ride.ErrValidation, err)
	}
	return nil
}
