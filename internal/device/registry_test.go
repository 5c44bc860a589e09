package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/thermolink-core/internal/account"
)

func newTestRegistry(t *testing.T) (*Registry, *account.SQLiteRepository) {
	t.Helper()

	db := setupTestDB(t)
	accounts := account.NewSQLiteRepository(db)
	return NewRegistry(NewSQLiteRepository(db), NewSQLiteReadingRepository(db), accounts), accounts
}

// countingRepository counts lookups so cache behaviour is observable.
type countingRepository struct {
	Repository
	byMAC int
	byID  int
}

func (c *countingRepository) GetByMAC(ctx context.Context, mac string) (*Device, error) {
	c.byMAC++
	return c.Repository.GetByMAC(ctx, mac)
}

func (c *countingRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	c.byID++
	return c.Repository.GetByID(ctx, id)
}

func TestRegistry_DeviceByMACUsesCache(t *testing.T) {
	db := setupTestDB(t)
	repo := &countingRepository{Repository: NewSQLiteRepository(db)}
	reg := NewRegistry(repo, NewSQLiteReadingRepository(db), account.NewSQLiteRepository(db))
	ctx := t.Context()

	registered, err := reg.RegisterDevice(ctx, "AA:BB:CC", testSecretHash)
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	for range 3 {
		got, err := reg.DeviceByMAC(ctx, "AA:BB:CC")
		if err != nil {
			t.Fatalf("DeviceByMAC() error = %v", err)
		}
		if got.ID != registered.ID {
			t.Errorf("DeviceByMAC().ID = %q, want %q", got.ID, registered.ID)
		}
	}
	if repo.byMAC != 0 {
		t.Errorf("GetByMAC called %d times, want 0 (cached by RegisterDevice)", repo.byMAC)
	}
	if repo.byID != 3 {
		t.Errorf("GetByID called %d times, want 3", repo.byID)
	}

	if _, err := reg.DeviceByMAC(ctx, "00:00:00"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeviceByMAC(unknown) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := t.Context()

	if _, err := reg.RegisterDevice(ctx, "AA:BB:CC", testSecretHash); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if _, err := reg.RegisterDevice(ctx, "AA:BB:CC", testSecretHash); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("second RegisterDevice() error = %v, want ErrDeviceExists", err)
	}
}

func TestRegistry_Readings(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := t.Context()

	dev, err := reg.RegisterDevice(ctx, "AA:BB:CC", testSecretHash)
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	before := time.Now().Add(-time.Second)
	reading, err := reg.RecordReading(ctx, dev.ID, 215, time.Time{})
	if err != nil {
		t.Fatalf("RecordReading() error = %v", err)
	}
	if reading.Timestamp.Before(before) {
		t.Errorf("zero timestamp should default to now, got %v", reading.Timestamp)
	}

	supplied := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if _, err := reg.RecordReading(ctx, dev.ID, 200, supplied); err != nil {
		t.Fatalf("RecordReading() error = %v", err)
	}

	all, err := reg.Readings(ctx, dev.ID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(all) != 2 || !all[1].Timestamp.Equal(supplied) {
		t.Errorf("Readings() = %+v", all)
	}

	latest, err := reg.LatestReading(ctx, dev.ID)
	if err != nil || latest == nil || latest.Value != 215 {
		t.Errorf("LatestReading() = %+v, %v", latest, err)
	}

	if n, err := reg.ClearReadings(ctx, dev.ID); err != nil || n != 2 {
		t.Errorf("ClearReadings() = %d, %v; want 2, nil", n, err)
	}
}

func TestRegistry_Accounts(t *testing.T) {
	reg, accounts := newTestRegistry(t)
	ctx := t.Context()

	acct := &account.Account{Email: "a@x.com"}
	if err := accounts.Create(ctx, acct); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	byEmail, err := reg.AccountByEmail(ctx, "a@x.com")
	if err != nil || byEmail.ID != acct.ID {
		t.Errorf("AccountByEmail() = %+v, %v", byEmail, err)
	}
	if _, err := reg.AccountByID(ctx, "acc-missing"); !errors.Is(err, account.ErrAccountNotFound) {
		t.Errorf("AccountByID(missing) error = %v, want ErrAccountNotFound", err)
	}
}
