package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/thermolink-core/internal/infrastructure/database"
)

var (
	// ErrAccountNotFound is returned when no account matches the lookup.
	ErrAccountNotFound = errors.New("account: not found")

	// ErrEmailExists is returned when creating an account with a taken email.
	ErrEmailExists = errors.New("account: email already exists")

	// ErrInvalidEmail is returned for an empty email or one that cannot be
	// used as an MQTT topic segment.
	ErrInvalidEmail = errors.New("account: invalid email")
)

// Account is a human account that can be linked to devices.
// Its email doubles as the routing key in device topics.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository provides account lookups.
type Repository interface {
	Create(ctx context.Context, acct *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed account repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an account. The ID is generated if empty.
// Accounts are normally created by the surrounding application; this exists
// for seeding and tests.
func (r *SQLiteRepository) Create(ctx context.Context, acct *Account) error {
	if err := ValidateEmail(acct.Email); err != nil {
		return err
	}
	if acct.ID == "" {
		acct.ID = "acc-" + uuid.NewString()[:8]
	}
	acct.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO accounts (id, email, display_name, created_at) VALUES (?, ?, ?, ?)",
		acct.ID, acct.Email, acct.DisplayName, database.FormatTime(acct.CreatedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.get(ctx, "SELECT id, email, display_name, created_at FROM accounts WHERE id = ?", id)
}

// GetByEmail retrieves an account by its exact email.
func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.get(ctx, "SELECT id, email, display_name, created_at FROM accounts WHERE email = ?", email)
}

func (r *SQLiteRepository) get(ctx context.Context, query string, arg string) (*Account, error) {
	var (
		acct      Account
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&acct.ID, &acct.Email, &acct.DisplayName, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("querying account: %w", err)
	}
	if acct.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &acct, nil
}

// ValidateEmail checks that email is usable as a topic routing key.
func ValidateEmail(email string) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if strings.ContainsAny(email, "/+#") {
		return fmt.Errorf("%w: %q contains a topic separator or wildcard", ErrInvalidEmail, email)
	}
	return nil
}
