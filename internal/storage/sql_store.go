package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLStore persists rides and profiles in Postgres or SQLite. Both share one schema;
// timestamps are stored as unix milliseconds.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func NewPostgresStore(ctx context.Context, dsn string, migrate bool) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if migrate {
		if err := s.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewSQLiteStore opens (creating if needed) a SQLite file and applies the embedded migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// q adapts $N placeholders to the dialect.
func (s *SQLStore) q(query string) string {
	if s.dialect == dialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		name := filepath.Base(f)
		var one int
		err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM schema_migrations WHERE name = $1`), name).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		body, err := fs.ReadFile(migrationFS, f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2)`), name, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

const rideColumns = `id, rider_id, driver_id, pickup_address, pickup_lat, pickup_lon,
dest_address, dest_lat, dest_lon, vehicle_class, fare_amount, fare_currency,
distance_meters, duration_seconds, start_code, status, version, payment_ref,
cancelled_by, cancel_reason, created_at, updated_at, accepted_at, started_at,
completed_at, cancelled_at, released_driver_id`

func (s *SQLStore) CreateRide(ctx context.Context, r *models.Ride) error {
	pLat, pLon := coordArgs(r.Pickup.Coord)
	dLat, dLon := coordArgs(r.Destination.Coord)
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO rides (`+rideColumns+`) VALUES
($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`),
		r.ID, r.RiderID, nullString(r.DriverID), r.Pickup.Address, pLat, pLon,
		r.Destination.Address, dLat, dLon, string(r.VehicleClass), r.Fare.Amount, r.Fare.Currency,
		r.DistanceMeters, r.DurationSeconds, r.StartCode, string(r.Status), r.Version, r.PaymentRef,
		r.CancelledBy, r.CancelReason, toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
		nullMillis(r.AcceptedAt), nullMillis(r.StartedAt), nullMillis(r.CompletedAt), nullMillis(r.CancelledAt), r.ReleasedDriverID)
	if err != nil {
		if s.isUniqueViolation(err) {
			if r.DriverID != "" && r.Status.Active() {
				return ErrDriverBusy
			}
			return ErrConflict
		}
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+rideColumns+` FROM rides WHERE id = $1`), id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ride: %w", err)
	}
	return &r, nil
}

func (s *SQLStore) UpdateRide(ctx context.Context, r *models.Ride, expectedVersion int) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE rides SET
driver_id = $1, status = $2, start_code = $3, payment_ref = $4, cancelled_by = $5,
cancel_reason = $6, updated_at = $7, accepted_at = $8, started_at = $9, completed_at = $10,
cancelled_at = $11, fare_amount = $12, fare_currency = $13, distance_meters = $14,
duration_seconds = $15, released_driver_id = $16, version = version + 1
WHERE id = $17 AND version = $18`),
		nullString(r.DriverID), string(r.Status), r.StartCode, r.PaymentRef, r.CancelledBy,
		r.CancelReason, toMillis(r.UpdatedAt), nullMillis(r.AcceptedAt), nullMillis(r.StartedAt), nullMillis(r.CompletedAt),
		nullMillis(r.CancelledAt), r.Fare.Amount, r.Fare.Currency, r.DistanceMeters,
		r.DurationSeconds, r.ReleasedDriverID, r.ID, expectedVersion)
	if err != nil {
		if s.isUniqueViolation(err) {
			return ErrDriverBusy
		}
		return fmt.Errorf("update ride: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ride rows affected: %w", err)
	}
	if n == 1 {
		r.Version = expectedVersion + 1
		return nil
	}
	var v int
	err = s.db.QueryRowContext(ctx, s.q(`SELECT version FROM rides WHERE id = $1`), r.ID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	return ErrConflict
}

func (s *SQLStore) ListRidesByRider(ctx context.Context, riderID string) ([]models.Ride, error) {
	return s.listRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE rider_id = $1 ORDER BY created_at DESC`, riderID)
}

func (s *SQLStore) ListRidesByDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	return s.listRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE driver_id = $1 OR released_driver_id = $1 ORDER BY created_at DESC`, driverID)
}

func (s *SQLStore) listRides(ctx context.Context, query string, arg string) ([]models.Ride, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), arg)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ActiveRideForDriver(ctx context.Context, driverID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id FROM rides WHERE driver_id = $1 AND status IN ('accepted', 'ongoing') LIMIT 1`), driverID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("active ride for driver: %w", err)
	}
	return id, true, nil
}

func (s *SQLStore) SaveProfile(ctx context.Context, p models.Profile) error {
	vehicle := ""
	if p.Vehicle != nil {
		b, err := json.Marshal(p.Vehicle)
		if err != nil {
			return fmt.Errorf("encode vehicle: %w", err)
		}
		vehicle = string(b)
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO profiles (actor_id, role, name, phone, rating, vehicle_json, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (actor_id) DO UPDATE SET role = excluded.role, name = excluded.name, phone = excluded.phone,
rating = excluded.rating, vehicle_json = excluded.vehicle_json, updated_at = excluded.updated_at`),
		p.ActorID, string(p.Role), p.Name, p.Phone, p.Rating, vehicle, toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *SQLStore) GetProfile(ctx context.Context, actorID string) (models.Profile, error) {
	var (
		p       models.Profile
		role    string
		vehicle string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT actor_id, role, name, phone, rating, vehicle_json, updated_at FROM profiles WHERE actor_id = $1`), actorID).
		Scan(&p.ActorID, &role, &p.Name, &p.Phone, &p.Rating, &vehicle, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.Role = models.Role(role)
	p.UpdatedAt = fromMillis(updated)
	if vehicle != "" {
		var v models.Vehicle
		if err := json.Unmarshal([]byte(vehicle), &v); err != nil {
			return models.Profile{}, fmt.Errorf("decode vehicle: %w", err)
		}
		p.Vehicle = &v
	}
	return p, nil
}

func (s *SQLStore) isUniqueViolation(err error) bool {
	switch s.dialect {
	case dialectPostgres:
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	case dialectSQLite:
		var sqliteErr *msqlite.Error
		if errors.As(err, &sqliteErr) {
			switch sqliteErr.Code() {
			case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
				return true
			}
		}
		return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (models.Ride, error) {
	var (
		r                                  models.Ride
		driverID                           sql.NullString
		pLat, pLon, dLat, dLon             sql.NullFloat64
		class, status                      string
		created, updated                   int64
		accepted, started, completed, canc sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.RiderID, &driverID, &r.Pickup.Address, &pLat, &pLon,
		&r.Destination.Address, &dLat, &dLon, &class, &r.Fare.Amount, &r.Fare.Currency,
		&r.DistanceMeters, &r.DurationSeconds, &r.StartCode, &status, &r.Version, &r.PaymentRef,
		&r.CancelledBy, &r.CancelReason, &created, &updated, &accepted, &started,
		&completed, &canc, &r.ReleasedDriverID)
	if err != nil {
		return models.Ride{}, err
	}
	r.DriverID = driverID.String
	r.Pickup.Coord = coordFrom(pLat, pLon)
	r.Destination.Coord = coordFrom(dLat, dLon)
	r.VehicleClass = models.VehicleClass(class)
	r.Status = models.RideStatus(status)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	r.AcceptedAt = timeFrom(accepted)
	r.StartedAt = timeFrom(started)
	r.CompletedAt = timeFrom(completed)
	r.CancelledAt = timeFrom(canc)
	return r, nil
}

func coordArgs(c *models.Coord) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lon
}

func coordFrom(lat, lon sql.NullFloat64) *models.Coord {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func timeFrom(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
