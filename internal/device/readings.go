package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/thermolink-core/internal/infrastructure/database"
)

// ReadingRepository stores and retrieves temperature readings.
//
// Readings are append-only; the only deletion is a full wipe per device.
type ReadingRepository interface {
	// Insert appends a reading and returns it with its assigned ID.
	Insert(ctx context.Context, deviceID string, value Temperature, at time.Time) (*Reading, error)

	// Range returns readings with from <= timestamp <= to, newest first.
	// A zero from or to leaves that side unbounded.
	Range(ctx context.Context, deviceID string, from, to time.Time) ([]Reading, error)

	// Latest returns the newest reading, or nil if the device has none.
	Latest(ctx context.Context, deviceID string) (*Reading, error)

	// Clear deletes every reading for the device and returns how many were removed.
	Clear(ctx context.Context, deviceID string) (int64, error)
}

// SQLiteReadingRepository implements ReadingRepository using SQLite.
type SQLiteReadingRepository struct {
	db *sql.DB
}

// NewSQLiteReadingRepository creates a new SQLite reading repository.
func NewSQLiteReadingRepository(db *sql.DB) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{db: db}
}

// Insert appends a reading.
func (r *SQLiteReadingRepository) Insert(ctx context.Context, deviceID string, value Temperature, at time.Time) (*Reading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	at = at.UTC()

	result, err := r.db.ExecContext(ctx,
		"INSERT INTO temperature_readings (device_id, value, recorded_at) VALUES (?, ?, ?)",
		deviceID, int64(value), database.FormatTime(at),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading insert id: %w", err)
	}

	return &Reading{ID: id, DeviceID: deviceID, Value: value, Timestamp: at}, nil
}

// Range returns readings within the inclusive bounds, newest first.
func (r *SQLiteReadingRepository) Range(ctx context.Context, deviceID string, from, to time.Time) ([]Reading, error) {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, from, to)
	}

	query := "SELECT id, device_id, value, recorded_at FROM temperature_readings WHERE device_id = ?"
	args := []any{deviceID}
	if !from.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, database.FormatTime(from))
	}
	if !to.IsZero() {
		query += " AND recorded_at <= ?"
		args = append(args, database.FormatTime(to))
	}
	query += " ORDER BY recorded_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// Latest returns the newest reading for the device.
func (r *SQLiteReadingRepository) Latest(ctx context.Context, deviceID string) (*Reading, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, device_id, value, recorded_at FROM temperature_readings
		 WHERE device_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		deviceID,
	)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reading, err
}

// Clear deletes all readings for the device.
func (r *SQLiteReadingRepository) Clear(ctx context.Context, deviceID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM temperature_readings WHERE device_id = ?", deviceID)
	if err != nil {
		return 0, fmt.Errorf("clearing readings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func scanReading(row rowScanner) (*Reading, error) {
	var (
		reading    Reading
		value      int64
		recordedAt string
	)
	if err := row.Scan(&reading.ID, &reading.DeviceID, &value, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning reading: %w", err)
	}
	reading.Value = Temperature(value)

	ts, err := database.ParseTime(recordedAt)
	if err != nil {
		return nil, err
	}
	reading.Timestamp = ts
	return &reading, nil
}
