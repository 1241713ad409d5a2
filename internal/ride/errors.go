package ride

import "errors"

// Callers match these with errors.Is; detail is attached with %w.
var (
	ErrValidation         = errors.New("validation failed")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrAlreadyAccepted    = errors.New("ride already accepted")
	ErrInvalidCode        = errors.New("invalid start code")
	ErrPricingUnavailable = errors.New("pricing unavailable")
	ErrNotFound           = errors.New("ride not found")
)

// ErrDriverBusy is wrapped in ErrInvalidState when the accepting driver already serves a ride.
var ErrDriverBusy = errors.New("driver busy")
