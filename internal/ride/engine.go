// Package ride owns the ride lifecycle: creation, the accept race, code-gated start,
// completion and cancellation. It is the only writer of ride status and driver.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/otp"
	"github.com/example/ride-dispatch/internal/storage"
)

// Resolver turns a free-text address into a coordinate. A missing match is
// reported with an error wrapping maps.ErrAddressNotFound.
type Resolver interface {
	Resolve(ctx context.Context, address string) (models.Coord, error)
}

// Change describes one committed transition. Before is the zero Ride for a creation.
type Change struct {
	Before  models.Ride
	After   models.Ride
	ActorID string
}

// Hook runs after a transition commits, on the caller's goroutine and still under the
// ride's lock, so a ride's changes reach it in commit order. It must not block or call
// back into the engine for the same ride.
type Hook func(Change)

type CreateRequest struct {
	RiderID      string              `json:"rider_id"`
	Pickup       models.Location     `json:"pickup"`
	Destination  models.Location     `json:"destination"`
	VehicleClass models.VehicleClass `json:"vehicle_class"`
}

const maxCASAttempts = 3

type Engine struct {
	store    storage.TripStore
	oracle   fare.Oracle
	resolver Resolver
	codes    otp.Generator
	locks    *keyedMutex
	timeout  time.Duration
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	hookMu sync.RWMutex
	hooks  []Hook
}

type Option func(*Engine)

func WithResolver(r Resolver) Option { return func(e *Engine) { e.resolver = r } }

func WithCodes(g otp.Generator) Option { return func(e *Engine) { e.codes = g } }

// WithTimeout bounds every store call made inside a transition.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithIDs(newID func() string) Option { return func(e *Engine) { e.newID = newID } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func NewEngine(store storage.TripStore, oracle fare.Oracle, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		oracle:  oracle,
		codes:   otp.Numeric{Digits: 6},
		locks:   newKeyedMutex(),
		timeout: 3 * time.Second,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// OnCommit registers h for every committed status change.
func (e *Engine) OnCommit(h Hook) {
	e.hookMu.Lock()
	e.hooks = append(e.hooks, h)
	e.hookMu.Unlock()
}

func (e *Engine) fire(c Change) {
	e.hookMu.RLock()
	hooks := e.hooks
	e.hookMu.RUnlock()
	for _, h := range hooks {
		h(c)
	}
}

func (e *Engine) Create(ctx context.Context, req CreateRequest) (models.Ride, error) {
	req.RiderID = strings.TrimSpace(req.RiderID)
	req.Pickup.Address = strings.TrimSpace(req.Pickup.Address)
	req.Destination.Address = strings.TrimSpace(req.Destination.Address)
	if req.RiderID == "" {
		return models.Ride{}, fmt.Errorf("%w: rider is required", ErrValidation)
	}
	if !req.VehicleClass.Valid() {
		return models.Ride{}, fmt.Errorf("%w: unknown vehicle class %q", ErrValidation, req.VehicleClass)
	}
	pickup, err := e.locate(ctx, "pickup", req.Pickup)
	if err != nil {
		return models.Ride{}, err
	}
	dest, err := e.locate(ctx, "destination", req.Destination)
	if err != nil {
		return models.Ride{}, err
	}

	quote, err := e.oracle.Quote(ctx, *pickup.Coord, *dest.Coord, req.VehicleClass)
	if err != nil {
		return models.Ride{}, fmt.Errorf("%w: %w", ErrPricingUnavailable, err)
	}
	code, err := e.codes.Generate()
	if err != nil {
		return models.Ride{}, err
	}

	now := e.now()
	r := models.Ride{
		ID:              e.newID(),
		RiderID:         req.RiderID,
		Pickup:          pickup,
		Destination:     dest,
		VehicleClass:    req.VehicleClass,
		Fare:            quote.Fare,
		DistanceMeters:  quote.DistanceMeters,
		DurationSeconds: quote.DurationSeconds,
		StartCode:       code,
		Status:          models.StatusRequested,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.store.CreateRide(sctx, &r); err != nil {
		return models.Ride{}, fmt.Errorf("create ride: %w", err)
	}
	observability.RidesCreated.Inc()
	e.logger.Info("ride requested", "ride_id", r.ID, "rider_id", r.RiderID, "vehicle_class", r.VehicleClass, "fare", r.Fare.Amount)
	e.fire(Change{After: r, ActorID: r.RiderID})
	return r, nil
}

// locate fills in the coordinate of l, resolving the address when none was supplied.
func (e *Engine) locate(ctx context.Context, field string, l models.Location) (models.Location, error) {
	if l.Coord != nil {
		if !l.Coord.Valid() {
			return l, fmt.Errorf("%w: %s coordinate out of range", ErrValidation, field)
		}
		c := *l.Coord
		l.Coord = &c
		return l, nil
	}
	if l.Address == "" {
		return l, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if e.resolver == nil {
		return l, fmt.Errorf("%w: %s coordinate is required", ErrValidation, field)
	}
	c, err := e.resolver.Resolve(ctx, l.Address)
	if errors.Is(err, maps.ErrAddressNotFound) {
		return l, fmt.Errorf("%w: %s address not found", ErrValidation, field)
	}
	if err != nil {
		return l, fmt.Errorf("%w: resolve %s: %w", ErrPricingUnavailable, field, err)
	}
	l.Coord = &c
	return l, nil
}

// Accept assigns driverID to a requested ride. Of any number of concurrent calls for
// the same ride exactly one succeeds; the others get ErrAlreadyAccepted.
func (e *Engine) Accept(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	if strings.TrimSpace(driverID) == "" {
		return models.Ride{}, fmt.Errorf("%w: driver is required", ErrValidation)
	}
	r, err := e.apply(ctx, rideID, driverID, driverID, acceptBy(driverID))
	if errors.Is(err, ErrAlreadyAccepted) {
		observability.AcceptConflicts.Inc()
	}
	return r, err
}

// Start moves an accepted ride to ongoing when code matches the ride's start code.
func (e *Engine) Start(ctx context.Context, rideID, driverID, code string) (models.Ride, error) {
	return e.apply(ctx, rideID, driverID, "", startWith(driverID, code))
}

// Complete is idempotent: completing a completed ride returns it unchanged.
func (e *Engine) Complete(ctx context.Context, rideID, actorID string) (models.Ride, error) {
	return e.apply(ctx, rideID, actorID, "", completeBy(actorID))
}

func (e *Engine) Cancel(ctx context.Context, rideID, actorID, reason string) (models.Ride, error) {
	return e.apply(ctx, rideID, actorID, "", cancelBy(actorID, strings.TrimSpace(reason)))
}

// AttachPayment records the payment reference created for the ride's fare.
func (e *Engine) AttachPayment(ctx context.Context, rideID, riderID, ref string) (models.Ride, error) {
	return e.apply(ctx, rideID, riderID, "", attachPayment(riderID, ref))
}

// apply runs t under the ride's lock (and the driver's, when driverLock is set) and
// persists the result with a version check. Hooks fire before the ride lock is released.
func (e *Engine) apply(ctx context.Context, rideID, actorID, driverLock string, t transition) (models.Ride, error) {
	unlock := e.locks.Lock("ride:" + rideID)
	defer unlock()
	c, changed, err := e.commit(ctx, rideID, driverLock, t)
	if err != nil {
		return models.Ride{}, err
	}
	if !changed {
		return c.After, nil
	}
	c.ActorID = actorID
	if c.Before.Status != c.After.Status {
		observability.RideTransitions.WithLabelValues(string(c.After.Status)).Inc()
		e.logger.Info("ride transition", "ride_id", rideID, "from", c.Before.Status, "to", c.After.Status, "actor_id", actorID)
		e.fire(c)
	}
	return c.After, nil
}

// commit must be called with the ride lock held.
func (e *Engine) commit(ctx context.Context, rideID, driverLock string, t transition) (Change, bool, error) {
	if driverLock != "" {
		unlockDriver := e.locks.Lock("driver:" + driverLock)
		defer unlockDriver()
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if driverLock != "" {
		active, busy, err := e.store.ActiveRideForDriver(ctx, driverLock)
		if err != nil {
			return Change{}, false, fmt.Errorf("check driver: %w", err)
		}
		if busy && active != rideID {
			return Change{}, false, fmt.Errorf("%w: %w", ErrInvalidState, ErrDriverBusy)
		}
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := e.load(ctx, rideID)
		if err != nil {
			return Change{}, false, err
		}
		next, changed, err := t(cur, e.now())
		if err != nil || !changed {
			return Change{Before: cur, After: cur}, false, err
		}
		err = e.store.UpdateRide(ctx, &next, cur.Version)
		switch {
		case err == nil:
			return Change{Before: cur, After: next}, true, nil
		case errors.Is(err, storage.ErrConflict):
			// another process wrote first; re-evaluate against its record
			e.logger.Debug("ride version conflict", "ride_id", rideID, "version", cur.Version)
			continue
		case errors.Is(err, storage.ErrDriverBusy):
			return Change{}, false, fmt.Errorf("%w: %w", ErrInvalidState, ErrDriverBusy)
		case errors.Is(err, storage.ErrNotFound):
			return Change{}, false, ErrNotFound
		default:
			return Change{}, false, fmt.Errorf("update ride: %w", err)
		}
	}
	return Change{}, false, fmt.Errorf("%w: ride %s changed concurrently", ErrInvalidState, rideID)
}

func (e *Engine) load(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := e.store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Ride{}, ErrNotFound
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("get ride: %w", err)
	}
	return *r, nil
}

func (e *Engine) Get(ctx context.Context, rideID string) (models.Ride, error) {
	return e.load(ctx, rideID)
}

func (e *Engine) ListForRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	return e.store.ListRidesByRider(ctx, riderID)
}

func (e *Engine) ListForDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	return e.store.ListRidesByDriver(ctx, driverID)
}

// DriverBusy reports whether the driver holds an accepted or ongoing ride.
func (e *Engine) DriverBusy(ctx context.Context, driverID string) (bool, error) {
	_, busy, err := e.store.ActiveRideForDriver(ctx, driverID)
	return busy, err
}
