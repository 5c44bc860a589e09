package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/thermolink-core/internal/account"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/database"
)

var (
	// ErrUnauthorized is returned when the account holds no link to the device.
	ErrUnauthorized = errors.New("access: account is not linked to device")

	// ErrLinkExists is returned by AddLink when the link is already present.
	ErrLinkExists = errors.New("access: link already exists")

	// ErrLinkNotFound is returned when removing a link that does not exist.
	ErrLinkNotFound = errors.New("access: link not found")

	// ErrLastLink is returned when a removal would leave the device with no
	// linked accounts. State is unchanged.
	ErrLastLink = errors.New("access: cannot remove the last linked account")

	// ErrNoLinks is returned by Owner for a device nobody is linked to yet.
	ErrNoLinks = errors.New("access: device has no linked accounts")
)

// Link is one device-to-account grant, joined with the account's details.
type Link struct {
	DeviceID    string    `json:"device_id"`
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	IsOwner     bool      `json:"is_owner"`
}

// Store manages device-account links.
//
// The owner of a device is the account holding its earliest link. Ties on
// created_at fall back to insertion order.
type Store struct {
	db       *sql.DB
	accounts account.Repository
}

// NewStore creates an access control store.
func NewStore(db *sql.DB, accounts account.Repository) *Store {
	return &Store{db: db, accounts: accounts}
}

// HasAccess reports whether the account is linked to the device.
func (s *Store) HasAccess(ctx context.Context, deviceID, accountID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM device_accounts WHERE device_id = ? AND account_id = ?",
		deviceID, accountID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking device access: %w", err)
	}
	return n > 0, nil
}

// Authorize returns ErrUnauthorized unless the account is linked to the device.
func (s *Store) Authorize(ctx context.Context, deviceID, accountID string) error {
	ok, err := s.HasAccess(ctx, deviceID, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// ListLinkedAccounts returns every link on the device, owner first.
func (s *Store) ListLinkedAccounts(ctx context.Context, deviceID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT da.device_id, da.account_id, a.email, a.display_name, da.created_at
		 FROM device_accounts da
		 JOIN accounts a ON a.id = da.account_id
		 WHERE da.device_id = ?
		 ORDER BY da.created_at ASC, da.rowid ASC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing linked accounts: %w", err)
	}
	defer rows.Close()

	links := []Link{}
	for rows.Next() {
		var (
			l         Link
			createdAt string
		)
		if err := rows.Scan(&l.DeviceID, &l.AccountID, &l.Email, &l.DisplayName, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		if l.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, err
		}
		l.IsOwner = len(links) == 0
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating links: %w", err)
	}
	return links, nil
}

// AddLink grants the account with the given email access to the device.
// Returns account.ErrAccountNotFound for an unknown email and ErrLinkExists
// if the account is already linked.
func (s *Store) AddLink(ctx context.Context, deviceID, email string) (*Link, error) {
	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	created, err := s.insertLink(ctx, deviceID, acct.ID)
	if err != nil {
		return nil, err
	}
	if created.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrLinkExists, email)
	}

	return &Link{
		DeviceID:    deviceID,
		AccountID:   acct.ID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		CreatedAt:   created,
	}, nil
}

// EnsureLink creates the link if it is missing. An existing link, including
// one inserted concurrently by another caller, is success.
// Reports whether this call created the link.
func (s *Store) EnsureLink(ctx context.Context, deviceID, accountID string) (bool, error) {
	created, err := s.insertLink(ctx, deviceID, accountID)
	if err != nil {
		return false, err
	}
	return !created.IsZero(), nil
}

// insertLink returns the zero time when the link already exists.
func (s *Store) insertLink(ctx context.Context, deviceID, accountID string) (time.Time, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO device_accounts (device_id, account_id, created_at) VALUES (?, ?, ?)",
		deviceID, accountID, database.FormatTime(now),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("inserting link: %w", err)
	}
	return now, nil
}

// RemoveLink revokes the account's access to the device.
// Returns ErrLinkNotFound if no such link exists and ErrLastLink if it is
// the device's only link.
func (s *Store) RemoveLink(ctx context.Context, deviceID, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var total, mine int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(account_id = ?), 0)
		 FROM device_accounts WHERE device_id = ?`,
		accountID, deviceID,
	).Scan(&total, &mine)
	if err != nil {
		return fmt.Errorf("counting links: %w", err)
	}
	if mine == 0 {
		return ErrLinkNotFound
	}
	if total <= 1 {
		return ErrLastLink
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM device_accounts WHERE device_id = ? AND account_id = ?",
		deviceID, accountID,
	); err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing link removal: %w", err)
	}
	return nil
}

// Owner returns the device's earliest link.
func (s *Store) Owner(ctx context.Context, deviceID string) (*Link, error) {
	var (
		l         Link
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT da.device_id, da.account_id, a.email, a.display_name, da.created_at
		 FROM device_accounts da
		 JOIN accounts a ON a.id = da.account_id
		 WHERE da.device_id = ?
		 ORDER BY da.created_at ASC, da.rowid ASC
		 LIMIT 1`,
		deviceID,
	).Scan(&l.DeviceID, &l.AccountID, &l.Email, &l.DisplayName, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoLinks
		}
		return nil, fmt.Errorf("querying owner: %w", err)
	}
	if l.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	l.IsOwner = true
	return &l, nil
}

// IsOwner reports whether the account holds the device's earliest link.
func (s *Store) IsOwner(ctx context.Context, deviceID, accountID string) (bool, error) {
	owner, err := s.Owner(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNoLinks) {
			return false, nil
		}
		return false, err
	}
	return owner.AccountID == accountID, nil
}
