package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	_ "github.com/lib/pq"

	"github.com/example/mobility-matching/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies every embedded migration in name order. Statements are
// idempotent, so reruns are safe.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return names, nil
}

const bookingColumns = `id, user_id, vehicle_id, vehicle, start_location, end_location, start_time, end_time, status, total_price, note, cancellation_reason, created_at, cancelled_at`

func (p *PostgresStore) Create(ctx context.Context, b *models.Booking) error {
	vehicle, start, end, err := marshalBookingJSON(b)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO bookings(`+bookingColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.UserID, b.VehicleID, vehicle, start, end, b.StartTime, b.EndTime, string(b.Status), b.TotalPrice, b.Note, b.CancellationReason, b.CreatedAt, b.CancelledAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id=$1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, b *models.Booking) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET status=$1, end_time=$2, total_price=$3, note=$4, cancellation_reason=$5, cancelled_at=$6 WHERE id=$7`,
		string(b.Status), b.EndTime, b.TotalPrice, b.Note, b.CancellationReason, b.CancelledAt, b.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(r rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		status      string
		vehicle     []byte
		start, end  []byte
		endTime     sql.NullTime
		cancelledAt sql.NullTime
		totalPrice  sql.NullFloat64
	)
	if err := r.Scan(&b.ID, &b.UserID, &b.VehicleID, &vehicle, &start, &end, &b.StartTime, &endTime, &status, &totalPrice, &b.Note, &b.CancellationReason, &b.CreatedAt, &cancelledAt); err != nil {
		return nil, err
	}
	b.Status = models.BookingStatus(status)
	if len(vehicle) > 0 {
		b.Vehicle = &models.Vehicle{}
		if err := json.Unmarshal(vehicle, b.Vehicle); err != nil {
			return nil, fmt.Errorf("decode vehicle: %w", err)
		}
	}
	if err := json.Unmarshal(start, &b.Start); err != nil {
		return nil, fmt.Errorf("decode start_location: %w", err)
	}
	if err := json.Unmarshal(end, &b.End); err != nil {
		return nil, fmt.Errorf("decode end_location: %w", err)
	}
	if endTime.Valid {
		b.EndTime = &endTime.Time
	}
	if cancelledAt.Valid {
		b.CancelledAt = &cancelledAt.Time
	}
	if totalPrice.Valid {
		b.TotalPrice = &totalPrice.Float64
	}
	return &b, nil
}

// marshalBookingJSON encodes the JSONB columns as strings; lib/pq would
// send []byte as bytea.
func marshalBookingJSON(b *models.Booking) (vehicle any, start, end string, err error) {
	if b.Vehicle != nil {
		v, err := json.Marshal(b.Vehicle)
		if err != nil {
			return nil, "", "", err
		}
		vehicle = string(v)
	}
	s, err := json.Marshal(b.Start)
	if err != nil {
		return nil, "", "", err
	}
	e, err := json.Marshal(b.End)
	if err != nil {
		return nil, "", "", err
	}
	return vehicle, string(s), string(e), nil
}
