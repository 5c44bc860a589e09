package device

import (
	"errors"
	"testing"
	"time"
)

func TestSQLiteReadingRepository_RangeInclusive(t *testing.T) {
	db := setupTestDB(t)
	devices := NewSQLiteRepository(db)
	repo := NewSQLiteReadingRepository(db)
	ctx := t.Context()

	dev := &Device{MACAddress: "AA:BB:CC"}
	if err := devices.Create(ctx, dev, testSecretHash); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		if _, err := repo.Insert(ctx, dev.ID, Temperature(200+i), base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		from, to  time.Time
		wantCount int
		wantFirst Temperature
	}{
		{"unbounded", time.Time{}, time.Time{}, 5, 204},
		{"inclusive both ends", base.Add(time.Hour), base.Add(3 * time.Hour), 3, 203},
		{"from only", base.Add(3 * time.Hour), time.Time{}, 2, 204},
		{"to only", time.Time{}, base, 1, 200},
		{"empty window", base.Add(10 * time.Hour), base.Add(11 * time.Hour), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Range(ctx, dev.ID, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Range() error = %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("Range() returned %d readings, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Value != tt.wantFirst {
				t.Errorf("Range()[0].Value = %v, want %v (newest first)", got[0].Value, tt.wantFirst)
			}
		})
	}

	if _, err := repo.Range(ctx, dev.ID, base.Add(time.Hour), base); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Range(from > to) error = %v, want ErrInvalidRange", err)
	}
}

func TestSQLiteReadingRepository_LatestAndClear(t *testing.T) {
	db := setupTestDB(t)
	devices := NewSQLiteRepository(db)
	repo := NewSQLiteReadingRepository(db)
	ctx := t.Context()

	dev := &Device{MACAddress: "AA:BB:CC"}
	if err := devices.Create(ctx, dev, testSecretHash); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	latest, err := repo.Latest(ctx, dev.ID)
	if err != nil || latest != nil {
		t.Fatalf("Latest() on empty history = %v, %v; want nil, nil", latest, err)
	}

	now := time.Now()
	if _, err := repo.Insert(ctx, dev.ID, 190, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	inserted, err := repo.Insert(ctx, dev.ID, 215, now)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	latest, err = repo.Latest(ctx, dev.ID)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID != inserted.ID || latest.Value != 215 {
		t.Errorf("Latest() = %+v, want %+v", latest, inserted)
	}

	removed, err := repo.Clear(ctx, dev.ID)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Clear() removed %d, want 2", removed)
	}

	remaining, err := repo.Range(ctx, dev.ID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("readings after Clear() = %d, want 0", len(remaining))
	}
}

func TestSQLiteReadingRepository_InsertUnknownDevice(t *testing.T) {
	repo := NewSQLiteReadingRepository(setupTestDB(t))

	if _, err := repo.Insert(t.Context(), "missing", 200, time.Now()); err == nil {
		t.Error("Insert() for a missing device should violate the foreign key")
	}
	if _, err := repo.Insert(t.Context(), "", 200, time.Now()); err == nil {
		t.Error("Insert() without device id should fail")
	}
}
