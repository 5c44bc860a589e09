package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/thermolink-core/internal/account"
	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/config"
)

// ErrSecretMismatch is returned when the announced secret does not match the
// stored one. The error deliberately carries no detail.
var ErrSecretMismatch = errors.New("provisioning: credentials rejected")

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

// Outcome labels reported to the Observer.
const (
	OutcomeRegistered = "registered"
	OutcomeLinked     = "linked"
	OutcomeUnchanged  = "unchanged"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
)

// Observer receives one outcome per handled announcement.
type Observer interface {
	ProvisioningOutcome(outcome string)
}

type noopObserver struct{}

func (noopObserver) ProvisioningOutcome(string) {}

// Devices is the subset of the device registry used for provisioning.
type Devices interface {
	DeviceByMAC(ctx context.Context, mac string) (*device.Device, error)
	RegisterDevice(ctx context.Context, mac, secretHash string) (*device.Device, error)
	AccountByEmail(ctx context.Context, email string) (*account.Account, error)
}

// Secrets verifies and hashes device secret codes.
type Secrets interface {
	Verify(ctx context.Context, deviceID, candidate string) (bool, error)
}

// Links creates device-account links idempotently.
type Links interface {
	EnsureLink(ctx context.Context, deviceID, accountID string) (bool, error)
}

// HashFunc hashes a plaintext secret code for storage.
type HashFunc func(code string) (string, error)

// Request is one device announcement.
type Request struct {
	MACAddress   string
	SecretCode   string
	AccountEmail string
}

// Result describes what an accepted announcement changed.
type Result struct {
	Device     *device.Device
	Account    *account.Account
	Registered bool // device row created by this call
	Linked     bool // link created by this call
}

// Service links devices to accounts using the shared secret.
type Service struct {
	devices  Devices
	secrets  Secrets
	links    Links
	hash     HashFunc
	policy   string
	logger   Logger
	observer Observer
}

// NewService creates a provisioning service. policy is one of
// config.PolicyFirstContact or config.PolicyPreregistered.
func NewService(devices Devices, secrets Secrets, links Links, hash HashFunc, policy string) *Service {
	if policy == "" {
		policy = config.PolicyFirstContact
	}
	return &Service{
		devices:  devices,
		secrets:  secrets,
		links:    links,
		hash:     hash,
		policy:   policy,
		logger:   noopLogger{},
		observer: noopObserver{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetObserver sets the outcome observer.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Handle processes a device announcement.
//
// Unknown devices are registered with the announced secret under the
// first_contact policy and rejected under preregistered. Known devices must
// present their current secret. The account is never created implicitly.
// A link that already exists is success.
func (s *Service) Handle(ctx context.Context, req Request) (*Result, error) {
	result, err := s.handle(ctx, req)
	switch {
	case err == nil && result.Registered:
		s.observer.ProvisioningOutcome(OutcomeRegistered)
	case err == nil && result.Linked:
		s.observer.ProvisioningOutcome(OutcomeLinked)
	case err == nil:
		s.observer.ProvisioningOutcome(OutcomeUnchanged)
	case isRejection(err):
		s.observer.ProvisioningOutcome(OutcomeRejected)
	default:
		s.observer.ProvisioningOutcome(OutcomeFailed)
	}
	return result, err
}

func (s *Service) handle(ctx context.Context, req Request) (*Result, error) {
	if req.SecretCode == "" {
		s.reject(req, "empty secret")
		return nil, ErrSecretMismatch
	}

	result := &Result{}

	dev, err := s.devices.DeviceByMAC(ctx, req.MACAddress)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		if s.policy == config.PolicyPreregistered {
			s.reject(req, "device not registered")
			return nil, err
		}
		dev, result.Registered, err = s.register(ctx, req)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("looking up device %s: %w", req.MACAddress, err)
	default:
		if err := s.verify(ctx, dev, req); err != nil {
			return nil, err
		}
	}
	result.Device = dev

	acct, err := s.devices.AccountByEmail(ctx, req.AccountEmail)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			s.reject(req, "unknown account")
		}
		return nil, err
	}
	result.Account = acct

	result.Linked, err = s.links.EnsureLink(ctx, dev.ID, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("linking device %s: %w", dev.ID, err)
	}

	s.logger.Info("device provisioned",
		"device_id", dev.ID,
		"mac", dev.MACAddress,
		"account_id", acct.ID,
		"registered", result.Registered,
		"linked", result.Linked,
	)
	return result, nil
}

// register creates the device on first contact. A concurrent announcement
// may win the insert; the loser then verifies against the stored secret.
func (s *Service) register(ctx context.Context, req Request) (*device.Device, bool, error) {
	hash, err := s.hash(req.SecretCode)
	if err != nil {
		return nil, false, fmt.Errorf("hashing secret: %w", err)
	}

	dev, err := s.devices.RegisterDevice(ctx, req.MACAddress, hash)
	if err == nil {
		return dev, true, nil
	}
	if !errors.Is(err, device.ErrDeviceExists) {
		return nil, false, fmt.Errorf("registering device %s: %w", req.MACAddress, err)
	}

	dev, err = s.devices.DeviceByMAC(ctx, req.MACAddress)
	if err != nil {
		return nil, false, fmt.Errorf("looking up device %s: %w", req.MACAddress, err)
	}
	if err := s.verify(ctx, dev, req); err != nil {
		return nil, false, err
	}
	return dev, false, nil
}

func (s *Service) verify(ctx context.Context, dev *device.Device, req Request) error {
	ok, err := s.secrets.Verify(ctx, dev.ID, req.SecretCode)
	if err != nil {
		return fmt.Errorf("verifying secret for %s: %w", dev.ID, err)
	}
	if !ok {
		s.reject(req, "secret mismatch")
		return ErrSecretMismatch
	}
	return nil
}

// reject logs the same warning for every cause; the reason is debug only.
func (s *Service) reject(req Request, reason string) {
	s.logger.Warn("provisioning rejected", "mac", req.MACAddress)
	s.logger.Debug("provisioning rejection reason", "mac", req.MACAddress, "reason", reason)
}

func isRejection(err error) bool {
	return errors.Is(err, ErrSecretMismatch) ||
		errors.Is(err, device.ErrDeviceNotFound) ||
		errors.Is(err, account.ErrAccountNotFound)
}
