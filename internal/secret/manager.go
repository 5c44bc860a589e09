package secret

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/database"
)

var (
	// ErrEmptySecret is returned when hashing an empty code.
	ErrEmptySecret = errors.New("secret: code is empty")

	// ErrInvalidHash is returned when a stored hash cannot be parsed.
	ErrInvalidHash = errors.New("secret: invalid stored hash")
)

// Manager rotates and verifies device secret codes.
//
// The plaintext code exists only in the return value of Rotate. The
// database holds the Argon2id hash and there is no accessor for it.
type Manager struct {
	db *sql.DB
}

// NewManager creates a secret manager backed by the devices table.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Rotate replaces the device's secret with a fresh random code and returns
// the plaintext. Any device still presenting the previous code is rejected
// from then on.
func (m *Manager) Rotate(ctx context.Context, deviceID string) (string, error) {
	code, err := Generate()
	if err != nil {
		return "", err
	}
	hash, err := Hash(code)
	if err != nil {
		return "", err
	}

	result, err := m.db.ExecContext(ctx,
		"UPDATE devices SET secret_hash = ?, updated_at = ? WHERE id = ?",
		hash, database.FormatTime(time.Now()), deviceID,
	)
	if err != nil {
		return "", fmt.Errorf("storing rotated secret: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return "", device.ErrDeviceNotFound
	}
	return code, nil
}

// Verify reports whether candidate matches the device's current secret.
func (m *Manager) Verify(ctx context.Context, deviceID, candidate string) (bool, error) {
	var hash string
	err := m.db.QueryRowContext(ctx, "SELECT secret_hash FROM devices WHERE id = ?", deviceID).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, device.ErrDeviceNotFound
		}
		return false, fmt.Errorf("loading secret hash: %w", err)
	}
	return Compare(candidate, hash)
}
