package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/thermolink-core/internal/account"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the data-access facade over devices, readings and accounts.
//
// MAC addresses and device IDs never change once assigned, so the
// MAC-to-ID mapping is cached; every read of mutable data goes to the store.
//
// All public methods are thread-safe.
type Registry struct {
	devices  Repository
	readings ReadingRepository
	accounts account.Repository

	macCache map[string]string // MAC address -> device ID
	cacheMu  sync.RWMutex
	logger   Logger
}

// NewRegistry creates a registry over the given repositories.
func NewRegistry(devices Repository, readings ReadingRepository, accounts account.Repository) *Registry {
	return &Registry{
		devices:  devices,
		readings: readings,
		accounts: accounts,
		macCache: make(map[string]string),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// DeviceByID retrieves a device by ID.
func (r *Registry) DeviceByID(ctx context.Context, id string) (*Device, error) {
	return r.devices.GetByID(ctx, id)
}

// DeviceByMAC retrieves a device by MAC address.
// Returns ErrDeviceNotFound if no device has that address.
func (r *Registry) DeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	r.cacheMu.RLock()
	id, ok := r.macCache[mac]
	r.cacheMu.RUnlock()

	if ok {
		device, err := r.devices.GetByID(ctx, id)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, ErrDeviceNotFound) {
			return nil, err
		}
		// Row removed out of band; drop the stale entry and retry by MAC.
		r.forget(mac)
	}

	device, err := r.devices.GetByMAC(ctx, mac)
	if err != nil {
		return nil, err
	}
	r.remember(device)
	return device, nil
}

// RegisterDevice creates a device with default configuration.
// Returns ErrDeviceExists if the MAC address is already registered.
func (r *Registry) RegisterDevice(ctx context.Context, mac, secretHash string) (*Device, error) {
	device := &Device{MACAddress: mac}
	if err := r.devices.Create(ctx, device, secretHash); err != nil {
		return nil, err
	}
	r.remember(device)
	r.logger.Info("device registered", "device_id", device.ID, "mac", mac)
	return device, nil
}

// UpdateConfig applies a partial configuration update and returns the stored device.
func (r *Registry) UpdateConfig(ctx context.Context, id string, update ConfigUpdate) (*Device, error) {
	device, err := r.devices.UpdateConfig(ctx, id, update)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("device config updated", "device_id", id)
	return device, nil
}

// DevicesForAccount lists the account's devices with their latest reading.
func (r *Registry) DevicesForAccount(ctx context.Context, accountID string) ([]Summary, error) {
	return r.devices.ListByAccount(ctx, accountID)
}

// RecordReading stores a reading. A zero at means now.
func (r *Registry) RecordReading(ctx context.Context, deviceID string, value Temperature, at time.Time) (*Reading, error) {
	if at.IsZero() {
		at = time.Now()
	}
	reading, err := r.readings.Insert(ctx, deviceID, value, at)
	if err != nil {
		return nil, fmt.Errorf("recording reading for %s: %w", deviceID, err)
	}
	return reading, nil
}

// Readings returns the device's readings within inclusive bounds, newest first.
func (r *Registry) Readings(ctx context.Context, deviceID string, from, to time.Time) ([]Reading, error) {
	return r.readings.Range(ctx, deviceID, from, to)
}

// LatestReading returns the newest reading or nil.
func (r *Registry) LatestReading(ctx context.Context, deviceID string) (*Reading, error) {
	return r.readings.Latest(ctx, deviceID)
}

// ClearReadings wipes the device's reading history.
func (r *Registry) ClearReadings(ctx context.Context, deviceID string) (int64, error) {
	n, err := r.readings.Clear(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	r.logger.Info("reading history cleared", "device_id", deviceID, "removed", n)
	return n, nil
}

// AccountByEmail resolves an account by email.
func (r *Registry) AccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	return r.accounts.GetByEmail(ctx, email)
}

// AccountByID resolves an account by ID.
func (r *Registry) AccountByID(ctx context.Context, id string) (*account.Account, error) {
	return r.accounts.GetByID(ctx, id)
}

func (r *Registry) remember(device *Device) {
	r.cacheMu.Lock()
	r.macCache[device.MACAddress] = device.ID
	r.cacheMu.Unlock()
}

func (r *Registry) forget(mac string) {
	r.cacheMu.Lock()
	delete(r.macCache, mac)
	r.cacheMu.Unlock()
}
