package management

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/thermolink-core/internal/access"
	"github.com/nerrad567/thermolink-core/internal/audit"
	"github.com/nerrad567/thermolink-core/internal/configpush"
	"github.com/nerrad567/thermolink-core/internal/device"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Devices is the subset of the device registry used by account operations.
type Devices interface {
	DeviceByID(ctx context.Context, id string) (*device.Device, error)
	UpdateConfig(ctx context.Context, id string, update device.ConfigUpdate) (*device.Device, error)
	DevicesForAccount(ctx context.Context, accountID string) ([]device.Summary, error)
	Readings(ctx context.Context, deviceID string, from, to time.Time) ([]device.Reading, error)
	ClearReadings(ctx context.Context, deviceID string) (int64, error)
}

// Access is the link store.
type Access interface {
	Authorize(ctx context.Context, deviceID, accountID string) error
	ListLinkedAccounts(ctx context.Context, deviceID string) ([]access.Link, error)
	AddLink(ctx context.Context, deviceID, email string) (*access.Link, error)
	RemoveLink(ctx context.Context, deviceID, accountID string) error
	Owner(ctx context.Context, deviceID string) (*access.Link, error)
}

// Secrets rotates device secret codes.
type Secrets interface {
	Rotate(ctx context.Context, deviceID string) (string, error)
}

// Publisher delivers a device's configuration to the broker.
type Publisher interface {
	Publish(ctx context.Context, dev *device.Device, routingKey string) error
}

// History stores and lists the audit trail. *audit.SQLiteRepository
// satisfies it.
type History interface {
	Create(ctx context.Context, entry *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Service implements the account-facing device operations. Every method
// takes the calling account's ID and fails with access.ErrUnauthorized
// unless that account is linked to the device.
type Service struct {
	devices   Devices
	access    Access
	secrets   Secrets
	publisher Publisher
	history   History
	logger    Logger
}

// NewService creates a management service.
func NewService(devices Devices, acl Access, secrets Secrets, publisher Publisher) *Service {
	return &Service{
		devices:   devices,
		access:    acl,
		secrets:   secrets,
		publisher: publisher,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetHistory enables the audit trail. Without it History returns an empty
// page and nothing is recorded.
func (s *Service) SetHistory(history History) {
	s.history = history
}

// record appends to the audit trail. The change it describes has already
// been committed, so a failure here is logged and otherwise ignored.
func (s *Service) record(ctx context.Context, action, accountID, deviceID string, details map[string]any) {
	if s.history == nil {
		return
	}
	entry := &audit.Entry{
		Action:    action,
		DeviceID:  deviceID,
		AccountID: accountID,
		Source:    audit.SourceAPI,
		Details:   details,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("audit entry not recorded", "action", action, "device_id", deviceID, "error", err)
	}
}

// History returns a page of the device's audit trail, newest first.
func (s *Service) History(ctx context.Context, accountID, deviceID string, filter audit.Filter) (*audit.ListResult, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return nil, err
	}
	filter.DeviceID = deviceID
	if s.history == nil {
		return &audit.ListResult{Entries: []audit.Entry{}, Limit: filter.Limit, Offset: filter.Offset}, nil
	}
	return s.history.List(ctx, filter)
}

// ListDevices returns the caller's devices with their latest reading.
func (s *Service) ListDevices(ctx context.Context, accountID string) ([]device.Summary, error) {
	return s.devices.DevicesForAccount(ctx, accountID)
}

// Device returns one device.
func (s *Service) Device(ctx context.Context, accountID, deviceID string) (*device.Device, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return nil, err
	}
	return s.devices.DeviceByID(ctx, deviceID)
}

// Readings returns the device's readings in the inclusive range, newest
// first. A zero bound is open.
func (s *Service) Readings(ctx context.Context, accountID, deviceID string, from, to time.Time) ([]device.Reading, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return nil, err
	}
	return s.devices.Readings(ctx, deviceID, from, to)
}

// ClearReadings deletes the device's whole reading history.
func (s *Service) ClearReadings(ctx context.Context, accountID, deviceID string) (int64, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return 0, err
	}
	n, err := s.devices.ClearReadings(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("readings cleared", "device_id", deviceID, "account_id", accountID, "removed", n)
	s.record(ctx, audit.ActionReadingsClear, accountID, deviceID, map[string]any{"removed": n})
	return n, nil
}

// UpdateConfig persists a partial configuration change and then publishes
// the full configuration to the device owner's topic.
//
// A persistence failure is returned as an error. A publish failure is not:
// the stored change stands and the Result reports Delivered false.
//
// The topic is keyed by the owner (earliest linked account) email only. A
// device that re-announced under another linked account's email listens on
// that account's topic and will not see the update until it announces under
// the owner's email again.
func (s *Service) UpdateConfig(ctx context.Context, accountID, deviceID string, update device.ConfigUpdate) (*configpush.Result, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return nil, err
	}

	dev, err := s.devices.UpdateConfig(ctx, deviceID, update)
	if err != nil {
		return nil, err
	}
	result := &configpush.Result{Device: dev}
	defer func() {
		details := updateDetails(update)
		details["delivered"] = result.Delivered
		s.record(ctx, audit.ActionConfigUpdate, accountID, deviceID, details)
	}()

	owner, err := s.access.Owner(ctx, deviceID)
	if err != nil {
		s.logger.Error("config stored but recipient unresolved", "device_id", deviceID, "error", err)
		result.DeliveryError = fmt.Sprintf("resolving recipient: %v", err)
		return result, nil
	}

	if err := s.publisher.Publish(ctx, dev, owner.Email); err != nil {
		result.DeliveryError = err.Error()
		return result, nil
	}
	result.Delivered = true
	return result, nil
}

// updateDetails lists the fields an update set.
func updateDetails(u device.ConfigUpdate) map[string]any {
	d := map[string]any{}
	if u.Contrast != nil {
		d["contrast"] = *u.Contrast
	}
	if u.Orientation != nil {
		d["orientation"] = *u.Orientation
	}
	if u.Interval != nil {
		d["interval"] = *u.Interval
	}
	if u.TempThresholdHigh != nil {
		d["temp_threshold_high"] = u.TempThresholdHigh.String()
	}
	if u.TempThresholdLow != nil {
		d["temp_threshold_low"] = u.TempThresholdLow.String()
	}
	return d
}

// LinkedAccounts lists every account linked to the device, owner first.
func (s *Service) LinkedAccounts(ctx context.Context, accountID, deviceID string) ([]access.Link, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return nil, err
	}
	return s.access.ListLinkedAccounts(ctx, deviceID)
}

// AddLink shares the device with the account registered under email.
func (s *Service) AddLink(ctx context.Context, accountID, deviceID, email string) (*access.Link, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return nil, err
	}
	link, err := s.access.AddLink(ctx, deviceID, email)
	if err != nil {
		return nil, err
	}
	s.logger.Info("device shared", "device_id", deviceID, "by", accountID, "with", link.AccountID)
	s.record(ctx, audit.ActionLinkAdd, accountID, deviceID, map[string]any{"account_id": link.AccountID})
	return link, nil
}

// RemoveLink unlinks target from the device. Any linked account may remove
// any link, including its own, as long as one link remains.
func (s *Service) RemoveLink(ctx context.Context, accountID, deviceID, target string) error {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return err
	}
	if err := s.access.RemoveLink(ctx, deviceID, target); err != nil {
		return err
	}
	s.logger.Info("device link removed", "device_id", deviceID, "by", accountID, "removed", target)
	s.record(ctx, audit.ActionLinkRemove, accountID, deviceID, map[string]any{"account_id": target})
	return nil
}

// RotateSecret replaces the device's secret code and returns the new
// plaintext. It cannot be retrieved again.
func (s *Service) RotateSecret(ctx context.Context, accountID, deviceID string) (string, error) {
	if err := s.access.Authorize(ctx, deviceID, accountID); err != nil {
		return "", err
	}
	code, err := s.secrets.Rotate(ctx, deviceID)
	if err != nil {
		return "", err
	}
	s.logger.Info("device secret rotated", "device_id", deviceID, "account_id", accountID)
	s.record(ctx, audit.ActionSecretRotate, accountID, deviceID, nil)
	return code, nil
}
