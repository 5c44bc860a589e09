package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/thermolink-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence.
//
// The stored secret hash is write-only through this interface; comparison
// happens in the secret package.
type Repository interface {
	// Create inserts a device with the given secret hash.
	// Returns ErrDeviceExists if the MAC address is already registered.
	Create(ctx context.Context, device *Device, secretHash string) error

	// GetByID retrieves a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByMAC retrieves a device by MAC address.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByMAC(ctx context.Context, mac string) (*Device, error)

	// UpdateConfig applies a partial configuration update atomically and
	// returns the stored result.
	UpdateConfig(ctx context.Context, id string, update ConfigUpdate) (*Device, error)

	// ListByAccount returns the devices linked to an account, oldest first,
	// each with its latest reading.
	ListByAccount(ctx context.Context, accountID string) ([]Summary, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, mac_address, contrast, orientation, interval_ms,
	temp_threshold_high, temp_threshold_low, created_at, updated_at`

// Create inserts a new device. The ID is generated if empty and zero-valued
// configuration is replaced by the defaults.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device, secretHash string) error {
	if err := ValidateMAC(device.MACAddress); err != nil {
		return err
	}
	if secretHash == "" {
		return fmt.Errorf("device: secret hash is required")
	}
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.Config == (Config{}) {
		device.Config = DefaultConfig()
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, mac_address, secret_hash, contrast, orientation, interval_ms,
			temp_threshold_high, temp_threshold_low, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.MACAddress, secretHash,
		string(device.Contrast), database.BoolToInt(device.Orientation), device.Interval,
		int64(device.TempThresholdHigh), int64(device.TempThresholdLow),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, device.MACAddress)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetByID retrieves a device by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	return r.getOne(ctx, r.db, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
}

// GetByMAC retrieves a device by MAC address.
func (r *SQLiteRepository) GetByMAC(ctx context.Context, mac string) (*Device, error) {
	return r.getOne(ctx, r.db, "SELECT "+deviceColumns+" FROM devices WHERE mac_address = ?", mac)
}

// UpdateConfig reads, overlays and writes the configuration in one transaction.
func (r *SQLiteRepository) UpdateConfig(ctx context.Context, id string, update ConfigUpdate) (*Device, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	device, err := r.getOne(ctx, tx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	if err != nil {
		return nil, err
	}

	device.Config = update.Apply(device.Config)
	device.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE devices SET contrast = ?, orientation = ?, interval_ms = ?,
			temp_threshold_high = ?, temp_threshold_low = ?, updated_at = ?
		 WHERE id = ?`,
		string(device.Contrast), database.BoolToInt(device.Orientation), device.Interval,
		int64(device.TempThresholdHigh), int64(device.TempThresholdLow),
		database.FormatTime(device.UpdatedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating device config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing device config: %w", err)
	}
	return device, nil
}

// ListByAccount returns the account's devices with their latest readings.
func (r *SQLiteRepository) ListByAccount(ctx context.Context, accountID string) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.mac_address, d.contrast, d.orientation, d.interval_ms,
			d.temp_threshold_high, d.temp_threshold_low, d.created_at, d.updated_at,
			t.id, t.value, t.recorded_at
		 FROM devices d
		 JOIN device_accounts da ON da.device_id = d.id
		 LEFT JOIN temperature_readings t ON t.id = (
			SELECT id FROM temperature_readings
			WHERE device_id = d.id
			ORDER BY recorded_at DESC, id DESC
			LIMIT 1
		 )
		 WHERE da.account_id = ?
		 ORDER BY d.created_at ASC, d.id ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing devices for account: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			s          Summary
			readingID  sql.NullInt64
			value      sql.NullInt64
			recordedAt sql.NullString
		)
		device, err := scanDeviceRow(rows, &readingID, &value, &recordedAt)
		if err != nil {
			return nil, err
		}
		s.Device = *device
		if readingID.Valid {
			ts, err := database.ParseTime(recordedAt.String)
			if err != nil {
				return nil, err
			}
			s.LatestReading = &Reading{
				ID:        readingID.Int64,
				DeviceID:  device.ID,
				Value:     Temperature(value.Int64),
				Timestamp: ts,
			}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return summaries, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) getOne(ctx context.Context, q querier, query string, arg string) (*Device, error) {
	device, err := scanDeviceRow(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return device, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans the device columns followed by any extra destinations.
func scanDeviceRow(row rowScanner, extra ...any) (*Device, error) {
	var (
		d           Device
		contrast    string
		orientation int
		high, low   int64
		createdAt   string
		updatedAt   string
	)
	dest := append([]any{
		&d.ID, &d.MACAddress, &contrast, &orientation, &d.Interval,
		&high, &low, &createdAt, &updatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	d.Contrast = Contrast(contrast)
	d.Orientation = orientation != 0
	d.TempThresholdHigh = Temperature(high)
	d.TempThresholdLow = Temperature(low)

	var err error
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
