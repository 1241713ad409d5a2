// Package dispatch turns ride commits into pushes: new-ride offers to nearby idle
// drivers, and lifecycle events to the other party of a ride.
package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/ride"
)

type Finder interface {
	FindNearby(ctx context.Context, c models.Coord, radiusKm float64, class models.VehicleClass) ([]geo.Candidate, error)
}

type Pusher interface {
	Push(actorID string, ev events.Event) bool
}

type Quoter interface {
	Quote(ctx context.Context, pickup, destination models.Coord, class models.VehicleClass) (models.Quote, error)
	QuoteAll(ctx context.Context, pickup, destination models.Coord) ([]models.Quote, error)
}

type Profiles interface {
	GetProfile(ctx context.Context, actorID string) (models.Profile, error)
}

// EventPublisher receives ride events in commit order, batched.
type EventPublisher interface {
	PublishRideEvents(ctx context.Context, evs ...ingest.RideEvent) error
}

// Config sizes the coordinator. QueueSize is shared evenly between the workers.
type Config struct {
	RadiusKm    float64
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.RadiusKm <= 0 {
		c.RadiusKm = 2
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Second
	}
}

const maxPublishBatch = 100

// Coordinator is the entry point for ride operations. Pushes never run inside the
// engine's critical section: commits are queued and handled by a worker pool. Each
// ride is pinned to one worker, so its events are pushed in commit order.
type Coordinator struct {
	Engine    *ride.Engine
	Finder    Finder
	Push      Pusher
	Quotes    Quoter
	Profiles  Profiles
	Publisher EventPublisher
	Logger    *slog.Logger

	cfg       Config
	queues    []chan ride.Change
	published chan ingest.RideEvent
	done      chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
}

func NewCoordinator(engine *ride.Engine, finder Finder, push Pusher, quotes Quoter, cfg Config) *Coordinator {
	cfg.withDefaults()
	per := (cfg.QueueSize + cfg.Workers - 1) / cfg.Workers
	c := &Coordinator{
		Engine:    engine,
		Finder:    finder,
		Push:      push,
		Quotes:    quotes,
		Logger:    slog.Default(),
		cfg:       cfg,
		queues:    make([]chan ride.Change, cfg.Workers),
		published: make(chan ingest.RideEvent, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	for i := range c.queues {
		c.queues[i] = make(chan ride.Change, per)
	}
	engine.OnCommit(c.enqueue)
	return c
}

// Start launches the workers and, with a Publisher set, the event publisher.
// They stop when ctx ends or Close is called.
func (c *Coordinator) Start(ctx context.Context) {
	for _, q := range c.queues {
		c.wg.Add(1)
		go func(q chan ride.Change) {
			defer c.wg.Done()
			c.work(ctx, q)
		}(q)
	}
	if c.Publisher != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.publishLoop(ctx)
		}()
	}
}

// Close stops accepting tasks, lets workers finish what is queued and waits for them.
func (c *Coordinator) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Coordinator) queueFor(rideID string) chan ride.Change {
	h := fnv.New32a()
	_, _ = h.Write([]byte(rideID))
	return c.queues[h.Sum32()%uint32(len(c.queues))]
}

// queued reports the number of tasks waiting across all workers.
func (c *Coordinator) queued() int {
	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	return n
}

// enqueue runs under the engine's ride lock, so per ride it sees commits in order.
func (c *Coordinator) enqueue(ch ride.Change) {
	select {
	case <-c.done:
		observability.DispatchQueueDropped.Inc()
		return
	default:
	}
	if c.Publisher != nil {
		select {
		case c.published <- rideEvent(ch):
		default:
			observability.RideEventsDropped.Inc()
			c.Logger.Warn("ride event queue full, dropping event", "ride_id", ch.After.ID, "status", ch.After.Status)
		}
	}
	select {
	case c.queueFor(ch.After.ID) <- ch:
	default:
		observability.DispatchQueueDropped.Inc()
		c.Logger.Warn("dispatch queue full, dropping task", "ride_id", ch.After.ID, "status", ch.After.Status)
	}
}

func (c *Coordinator) work(ctx context.Context, q chan ride.Change) {
	for {
		select {
		case ch := <-q:
			c.handle(ctx, ch)
		case <-ctx.Done():
			return
		case <-c.done:
			for {
				select {
				case ch := <-q:
					c.handle(ctx, ch)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ch ride.Change) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()
	r := ch.After
	switch r.Status {
	case models.StatusRequested:
		c.fanOut(ctx, r)
	case models.StatusAccepted:
		c.Push.Push(r.RiderID, events.RideConfirmed{Ride: r.RiderView(), Driver: c.publicProfile(ctx, r.DriverID)})
	case models.StatusOngoing:
		c.Push.Push(r.RiderID, events.RideStarted{Ride: r.RiderView()})
	case models.StatusCompleted:
		to := r.Counterparty(ch.ActorID)
		if to != "" {
			c.Push.Push(to, events.RideEnded{Ride: r.ViewFor(to), EndedBy: ch.ActorID})
		}
	}
}

// fanOut offers a requested ride to every idle driver near the pickup.
func (c *Coordinator) fanOut(ctx context.Context, r models.Ride) {
	start := time.Now()
	defer func() { observability.FanoutLatency.Observe(time.Since(start).Seconds()) }()

	if cur, err := c.Engine.Get(ctx, r.ID); err == nil && cur.Status != models.StatusRequested {
		return
	}
	if r.Pickup.Coord == nil {
		c.Logger.Warn("ride without pickup coordinate, no offers sent", "ride_id", r.ID)
		return
	}
	cands, err := c.Finder.FindNearby(ctx, *r.Pickup.Coord, c.cfg.RadiusKm, r.VehicleClass)
	if err != nil {
		c.Logger.Error("candidate search failed", "ride_id", r.ID, "error", err)
		return
	}
	rider := c.publicProfile(ctx, r.RiderID)
	view := r.DriverView()
	offer := models.Offer{RideID: r.ID, Candidates: make([]string, 0, len(cands))}
	for _, cand := range cands {
		offer.Candidates = append(offer.Candidates, cand.DriverID)
		if c.Push.Push(cand.DriverID, events.NewRide{Ride: view, Rider: rider, DistanceToPickupKm: cand.DistanceKm}) {
			observability.OffersSent.Inc()
		} else {
			observability.OffersSkipped.Inc()
		}
	}
	c.Logger.Info("ride offered", "ride_id", offer.RideID, "candidates", offer.Candidates, "radius_km", c.cfg.RadiusKm)
}

func (c *Coordinator) publicProfile(ctx context.Context, actorID string) models.PublicProfile {
	if c.Profiles == nil {
		return models.PublicProfile{ActorID: actorID}
	}
	p, err := c.Profiles.GetProfile(ctx, actorID)
	if err != nil {
		return models.PublicProfile{ActorID: actorID}
	}
	return p.Public()
}

// publishLoop sends queued ride events in batches. A single loop keeps their order.
func (c *Coordinator) publishLoop(ctx context.Context) {
	for {
		select {
		case ev := <-c.published:
			c.publish(ctx, c.batch(ev))
		case <-ctx.Done():
			return
		case <-c.done:
			for {
				select {
				case ev := <-c.published:
					c.publish(ctx, c.batch(ev))
				default:
					return
				}
			}
		}
	}
}

// batch collects first and whatever else is already queued, up to maxPublishBatch.
func (c *Coordinator) batch(first ingest.RideEvent) []ingest.RideEvent {
	evs := []ingest.RideEvent{first}
	for len(evs) < maxPublishBatch {
		select {
		case ev := <-c.published:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
	return evs
}

func (c *Coordinator) publish(ctx context.Context, evs []ingest.RideEvent) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()
	if err := c.Publisher.PublishRideEvents(ctx, evs...); err != nil {
		observability.RideEventsFailed.Add(float64(len(evs)))
		c.Logger.Warn("ride event publish failed", "events", len(evs), "first_ride_id", evs[0].RideID, "error", err)
	}
}

func rideEvent(ch ride.Change) ingest.RideEvent {
	driver := ch.After.DriverID
	if driver == "" {
		driver = ch.After.ReleasedDriverID
	}
	return ingest.RideEvent{
		RideID:   ch.After.ID,
		RiderID:  ch.After.RiderID,
		DriverID: driver,
		From:     ch.Before.Status,
		To:       ch.After.Status,
		ActorID:  ch.ActorID,
		Fare:     ch.After.Fare,
		Version:  ch.After.Version,
		At:       ch.After.UpdatedAt,
	}
}

func (c *Coordinator) RequestRide(ctx context.Context, req ride.CreateRequest) (models.Ride, error) {
	return c.Engine.Create(ctx, req)
}

// AcceptOffer lets a driver claim a ride. Losers of the race get ride.ErrAlreadyAccepted
// and nothing is pushed to them.
func (c *Coordinator) AcceptOffer(ctx context.Context, rideID, driverID string) (models.Ride, error) {
	return c.Engine.Accept(ctx, rideID, driverID)
}

func (c *Coordinator) StartOffer(ctx context.Context, rideID, driverID, code string) (models.Ride, error) {
	return c.Engine.Start(ctx, rideID, driverID, code)
}

func (c *Coordinator) CompleteOffer(ctx context.Context, rideID, actorID string) (models.Ride, error) {
	return c.Engine.Complete(ctx, rideID, actorID)
}

func (c *Coordinator) CancelOffer(ctx context.Context, rideID, actorID, reason string) (models.Ride, error) {
	return c.Engine.Cancel(ctx, rideID, actorID, reason)
}

var ErrNoQuoter = errors.New("fare quotes not configured")

func (c *Coordinator) Quote(ctx context.Context, pickup, destination models.Coord, class models.VehicleClass) (models.Quote, error) {
	if c.Quotes == nil {
		return models.Quote{}, ErrNoQuoter
	}
	return c.Quotes.Quote(ctx, pickup, destination, class)
}

func (c *Coordinator) QuoteAll(ctx context.Context, pickup, destination models.Coord) ([]models.Quote, error) {
	if c.Quotes == nil {
		return nil, ErrNoQuoter
	}
	return c.Quotes.QuoteAll(ctx, pickup, destination)
}
