package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by UpdateRide when the stored version no longer matches.
	ErrConflict = errors.New("version conflict")
	// ErrDriverBusy is returned when a driver would hold two non-terminal rides.
	ErrDriverBusy = errors.New("driver already has an active ride")
)

// TripStore persists rides. UpdateRide is a compare-and-swap on the ride version:
// it writes r (with Version = expectedVersion+1) only if the stored row still has expectedVersion.
type TripStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride, expectedVersion int) error
	ListRidesByRider(ctx context.Context, riderID string) ([]models.Ride, error)
	ListRidesByDriver(ctx context.Context, driverID string) ([]models.Ride, error)
	ActiveRideForDriver(ctx context.Context, driverID string) (string, bool, error)
}

// ProfileStore persists actor profiles.
type ProfileStore interface {
	SaveProfile(ctx context.Context, p models.Profile) error
	GetProfile(ctx context.Context, actorID string) (models.Profile, error)
}

type Store interface {
	TripStore
	ProfileStore
	Close() error
}

type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]models.Ride
	active   map[string]string // driver id -> ride id
	profiles map[string]models.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]models.Ride),
		active:   make(map[string]string),
		profiles: make(map[string]models.Profile),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return ErrConflict
	}
	if r.DriverID != "" && r.Status.Active() {
		if _, busy := m.active[r.DriverID]; busy {
			return ErrDriverBusy
		}
		m.active[r.DriverID] = r.ID
	}
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	if r.DriverID != "" && r.Status.Active() {
		if other, busy := m.active[r.DriverID]; busy && other != r.ID {
			return ErrDriverBusy
		}
	}
	if cur.DriverID != "" && m.active[cur.DriverID] == cur.ID {
		delete(m.active, cur.DriverID)
	}
	if r.DriverID != "" && r.Status.Active() {
		m.active[r.DriverID] = r.ID
	}
	next := *r
	next.Version = expectedVersion + 1
	m.rides[r.ID] = next
	r.Version = next.Version
	return nil
}

func (m *MemoryStore) ListRidesByRider(_ context.Context, riderID string) ([]models.Ride, error) {
	return m.list(func(r models.Ride) bool { return r.RiderID == riderID }), nil
}

func (m *MemoryStore) ListRidesByDriver(_ context.Context, driverID string) ([]models.Ride, error) {
	return m.list(func(r models.Ride) bool { return r.DriverID == driverID || r.ReleasedDriverID == driverID }), nil
}

// newest first, like the SQL stores
func (m *MemoryStore) list(match func(models.Ride) bool) []models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) ActiveRideForDriver(_ context.Context, driverID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[driverID]
	return id, ok, nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ActorID] = p
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, actorID string) (models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[actorID]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) Close() error { return nil }
