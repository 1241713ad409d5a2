package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/otp"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type flatOracle struct{}

func (flatOracle) Quote(_ context.Context, _, _ models.Coord, class models.VehicleClass) (models.Quote, error) {
	return models.Quote{Class: class, DistanceMeters: 3000, DurationSeconds: 600, Fare: models.Money{Amount: 9000, Currency: "INR"}}, nil
}

type inbox struct {
	mu  sync.Mutex
	got []events.Event
}

func (b *inbox) Send(ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, ev)
	return nil
}

func (b *inbox) Close() error { return nil }

func (b *inbox) events() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.got...)
}

type recordingPublisher struct {
	mu  sync.Mutex
	evs []ingest.RideEvent
}

func (p *recordingPublisher) PublishRideEvents(_ context.Context, evs ...ingest.RideEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, evs...)
	return nil
}

// statuses returns the published destination statuses for rideID, in publish order.
func (p *recordingPublisher) statuses(rideID string) []models.RideStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.RideStatus
	for _, ev := range p.evs {
		if ev.RideID == rideID {
			out = append(out, ev.To)
		}
	}
	return out
}

// stalledPublisher blocks every publish for delay, like a broker waiting to fill a batch.
type stalledPublisher struct {
	delay time.Duration
}

func (p stalledPublisher) PublishRideEvents(ctx context.Context, _ ...ingest.RideEvent) error {
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type slowProfiles struct {
	delay time.Duration
	next  Profiles
}

func (p slowProfiles) GetProfile(ctx context.Context, actorID string) (models.Profile, error) {
	time.Sleep(p.delay)
	return p.next.GetProfile(ctx, actorID)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.evs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// north returns a point km kilometres due north of c.
func north(c models.Coord, km float64) models.Coord {
	return models.Coord{Lat: c.Lat + km/111.19, Lon: c.Lon}
}

type harness struct {
	coord     *Coordinator
	index     *geo.Index
	dir       *directory.Directory
	inboxes   map[string]*inbox
	publisher *recordingPublisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	engine := ride.NewEngine(store, flatOracle{}, ride.WithCodes(otp.Fixed("482910")))
	index := geo.NewIndex()
	dir := directory.New()
	finder := &geo.Finder{Geo: index, Busy: engine}
	c := NewCoordinator(engine, finder, notify.NewNotifier(dir, nil), nil, cfg)
	c.Profiles = store
	pub := &recordingPublisher{}
	c.Publisher = pub
	return &harness{coord: c, index: index, dir: dir, inboxes: map[string]*inbox{}, publisher: pub}
}

func (h *harness) connect(actorID string, role models.Role) *inbox {
	b := &inbox{}
	h.inboxes[actorID] = b
	h.dir.Join(actorID, role, b)
	return b
}

func (h *harness) driver(t *testing.T, id string, loc models.Coord, online bool) *inbox {
	t.Helper()
	if err := h.index.Upsert(context.Background(), models.Driver{ID: id, Loc: loc, Class: models.VehicleCar, Online: online}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return h.connect(id, models.RoleDriver)
}

func TestDispatchScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, Config{RadiusKm: 2, Workers: 2})
	h.coord.Start(ctx)
	defer h.coord.Close()

	pickup := models.Coord{Lat: 28.70, Lon: 77.10}
	near := h.driver(t, "d-near", north(pickup, 1), true)
	far := h.driver(t, "d-far", north(pickup, 1.8), true)
	outside := h.driver(t, "d-out", north(pickup, 2.5), true)
	offline := h.driver(t, "d-off", north(pickup, 0.5), false)
	rider := h.connect("u1", models.RoleRider)

	r, err := h.coord.RequestRide(ctx, ride.CreateRequest{
		RiderID:      "u1",
		Pickup:       models.Location{Address: "Pitampura", Coord: &pickup},
		Destination:  models.Location{Address: "Rohini", Coord: &models.Coord{Lat: 28.74, Lon: 77.07}},
		VehicleClass: models.VehicleCar,
	})
	if err != nil {
		t.Fatalf("request ride: %v", err)
	}

	waitFor(t, "offers to both nearby drivers", func() bool {
		return len(near.events()) == 1 && len(far.events()) == 1
	})
	for _, b := range []*inbox{near, far} {
		offer, ok := b.events()[0].(events.NewRide)
		if !ok {
			t.Fatalf("expected new-ride, got %T", b.events()[0])
		}
		if offer.Ride.ID != r.ID || offer.Ride.StartCode != "" || offer.Rider.ActorID != "u1" {
			t.Fatalf("unexpected offer %+v", offer)
		}
	}
	if len(outside.events()) != 0 || len(offline.events()) != 0 {
		t.Fatalf("drivers outside the radius or offline must not be offered the ride")
	}

	if _, err := h.coord.AcceptOffer(ctx, r.ID, "d-far"); err != nil {
		t.Fatalf("accept by far driver: %v", err)
	}
	if _, err := h.coord.AcceptOffer(ctx, r.ID, "d-near"); !errors.Is(err, ride.ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted for the second driver, got %v", err)
	}
	waitFor(t, "ride-confirmed to rider", func() bool { return len(rider.events()) == 1 })
	confirmed, ok := rider.events()[0].(events.RideConfirmed)
	if !ok || confirmed.Driver.ActorID != "d-far" || confirmed.Ride.StartCode != "482910" {
		t.Fatalf("unexpected confirmation %+v", rider.events()[0])
	}

	if _, err := h.coord.StartOffer(ctx, r.ID, "d-far", "482910"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "ride-started to rider", func() bool { return len(rider.events()) == 2 })
	if _, ok := rider.events()[1].(events.RideStarted); !ok {
		t.Fatalf("expected ride-started, got %T", rider.events()[1])
	}

	if _, err := h.coord.CompleteOffer(ctx, r.ID, "d-far"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitFor(t, "ride-ended to rider", func() bool { return len(rider.events()) == 3 })
	ended, ok := rider.events()[2].(events.RideEnded)
	if !ok || ended.EndedBy != "d-far" {
		t.Fatalf("unexpected end event %+v", rider.events()[2])
	}
	if n := len(far.events()); n != 1 {
		t.Fatalf("completing driver must not be notified of its own completion, got %d events", n)
	}
	if n := len(near.events()); n != 1 {
		t.Fatalf("losing driver must receive nothing after its offer, got %d events", n)
	}
	waitFor(t, "ride events published", func() bool { return h.publisher.count() == 4 })
}

func TestBusyDriverIsNotOffered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, Config{})
	h.coord.Start(ctx)
	defer h.coord.Close()

	pickup := models.Coord{Lat: 28.70, Lon: 77.10}
	busy := h.driver(t, "d-busy", north(pickup, 0.3), true)
	idle := h.driver(t, "d-idle", north(pickup, 0.6), true)
	req := ride.CreateRequest{
		RiderID:      "u1",
		Pickup:       models.Location{Coord: &pickup},
		Destination:  models.Location{Coord: &models.Coord{Lat: 28.72, Lon: 77.12}},
		VehicleClass: models.VehicleCar,
	}
	first, err := h.coord.RequestRide(ctx, req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	waitFor(t, "first offers", func() bool { return len(busy.events()) == 1 && len(idle.events()) == 1 })
	if _, err := h.coord.AcceptOffer(ctx, first.ID, "d-busy"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	req.RiderID = "u2"
	if _, err := h.coord.RequestRide(ctx, req); err != nil {
		t.Fatalf("second request: %v", err)
	}
	waitFor(t, "second offer to idle driver", func() bool { return len(idle.events()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := len(busy.events()); n != 1 {
		t.Fatalf("busy driver got %d events, want only the first offer", n)
	}
}

func TestNoCandidatesIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, Config{})
	h.coord.Start(ctx)
	defer h.coord.Close()

	pickup := models.Coord{Lat: 28.70, Lon: 77.10}
	r, err := h.coord.RequestRide(ctx, ride.CreateRequest{
		RiderID:      "u1",
		Pickup:       models.Location{Coord: &pickup},
		Destination:  models.Location{Coord: &models.Coord{Lat: 28.72, Lon: 77.12}},
		VehicleClass: models.VehicleMoto,
	})
	if err != nil || r.Status != models.StatusRequested {
		t.Fatalf("expected requested ride with no drivers around, got %+v %v", r, err)
	}
}

func TestFullQueueNeverBlocksCommits(t *testing.T) {
	h := newHarness(t, Config{Workers: 1, QueueSize: 1})
	// workers are not started, so the queue fills after one task
	pickup := models.Coord{Lat: 28.70, Lon: 77.10}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_, _ = h.coord.RequestRide(context.Background(), ride.CreateRequest{
				RiderID:      "u1",
				Pickup:       models.Location{Coord: &pickup},
				Destination:  models.Location{Coord: &models.Coord{Lat: 28.72, Lon: 77.12}},
				VehicleClass: models.VehicleAuto,
			})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ride creation blocked on a full dispatch queue")
	}
	if n := h.coord.queued(); n != 1 {
		t.Fatalf("expected 1 queued task, got %d", n)
	}
}

func TestRiderCompletionNotifiesDriver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, Config{})
	h.coord.Start(ctx)
	defer h.coord.Close()

	pickup := models.Coord{Lat: 28.70, Lon: 77.10}
	drv := h.driver(t, "d1", north(pickup, 0.5), true)
	rider := h.connect("u1", models.RoleRider)
	r, err := h.coord.RequestRide(ctx, ride.CreateRequest{
		RiderID:      "u1",
		Pickup:       models.Location{Coord: &pickup},
		Destination:  models.Location{Coord: &models.Coord{Lat: 28.74, Lon: 77.10}},
		VehicleClass: models.VehicleCar,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	waitFor(t, "offer", func() bool { return len(drv.events()) == 1 })
	if _, err := h.coord.AcceptOffer(ctx, r.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.coord.StartOffer(ctx, r.ID, "d1", "482910"); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, err := h.coord.CompleteOffer(ctx, r.ID, "u1")
	if err != nil || got.Status != models.StatusCompleted {
		t.Fatalf("rider completion: %+v %v", got, err)
	}
	waitFor(t, "ride-ended to driver", func() bool { return len(drv.events()) == 2 })
	ended, ok := drv.events()[1].(events.RideEnded)
	if !ok || ended.EndedBy != "u1" {
		t.Fatalf("unexpected end event %+v", drv.events()[1])
	}

	again, err := h.coord.CompleteOffer(ctx, r.ID, "u1")
	if err != nil || again.Status != models.StatusCompleted {
		t.Fatalf("repeated completion must return the completed ride, got %+v %v", again, err)
	}
	waitFor(t, "rider confirmations", func() bool { return len(rider.events()) == 2 })
	for _, ev := range rider.events() {
		if _, ok := ev.(events.RideEnded); ok {
			t.Fatalf("completing rider must not be notified of its own completion")
		}
	}
}

func TestRideEventsReachRiderInCommitOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, Config{Workers: 4})
	h.coord.Profiles = slowProfiles{delay: 30 * time.Millisecond, next: h.coord.Profiles}
	h.coord.Start(ctx)
	defer h.coord.Close()

	pickup := models.Coord{Lat: 28.70, Lon: 77.10}
	for i := 0; i < 5; i++ {
		riderID := fmt.Sprintf("u%d", i)
		rider := h.connect(riderID, models.RoleRider)
		r, err := h.coord.RequestRide(ctx, ride.CreateRequest{
			RiderID:      riderID,
			Pickup:       models.Location{Coord: &pickup},
			Destination:  models.Location{Coord: &models.Coord{Lat: 28.72, Lon: 77.12}},
			VehicleClass: models.VehicleCar,
		})
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if _, err := h.coord.AcceptOffer(ctx, r.ID, "d1"); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := h.coord.StartOffer(ctx, r.ID, "d1", "482910"); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitFor(t, "rider events", func() bool { return len(rider.events()) == 2 })
		got := rider.events()
		if _, ok := got[0].(events.RideConfirmed); !ok {
			t.Fatalf("ride %d: first event %T, want ride-confirmed", i, got[0])
		}
		if _, ok := got[1].(events.RideStarted); !ok {
			t.Fatalf("ride %d: second event %T, want ride-started", i, got[1])
		}
		waitFor(t, "published events", func() bool { return len(h.publisher.statuses(r.ID)) == 3 })
		want := []models.RideStatus{models.StatusRequested, models.StatusAccepted, models.StatusOngoing}
		for j, st := range h.publisher.statuses(r.ID) {
			if st != want[j] {
				t.Fatalf("ride %d: published %v, want %v", i, h.publisher.statuses(r.ID), want)
			}
		}
		if _, err := h.coord.CompleteOffer(ctx, r.ID, "d1"); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
}

func TestSlowPublisherDoesNotDelayOffers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, Config{Workers: 1})
	h.coord.Publisher = stalledPublisher{delay: time.Second}
	h.coord.Start(ctx)
	defer h.coord.Close()
	defer cancel()

	pickup := models.Coord{Lat: 28.70, Lon: 77.10}
	drv := h.driver(t, "d1", north(pickup, 0.5), true)
	start := time.Now()
	if _, err := h.coord.RequestRide(ctx, ride.CreateRequest{
		RiderID:      "u1",
		Pickup:       models.Location{Coord: &pickup},
		Destination:  models.Location{Coord: &models.Coord{Lat: 28.72, Lon: 77.12}},
		VehicleClass: models.VehicleCar,
	}); err != nil {
		t.Fatalf("request: %v", err)
	}
	waitFor(t, "offer", func() bool { return len(drv.events()) == 1 })
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("offer waited %v on the event publisher", elapsed)
	}
}
