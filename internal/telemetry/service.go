package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Store is the subset of the device registry used for ingestion.
type Store interface {
	DeviceByMAC(ctx context.Context, mac string) (*device.Device, error)
	RecordReading(ctx context.Context, deviceID string, value device.Temperature, at time.Time) (*device.Reading, error)
}

// Sink receives every reading after it has been stored.
// Implementations must not block for long; they run on the ingest worker.
type Sink interface {
	ReadingStored(ctx context.Context, dev *device.Device, reading *device.Reading)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, dev *device.Device, reading *device.Reading)

// ReadingStored calls f.
func (f SinkFunc) ReadingStored(ctx context.Context, dev *device.Device, reading *device.Reading) {
	f(ctx, dev, reading)
}

// Report is one temperature message from a device.
type Report struct {
	MACAddress string
	Value      device.Temperature
	Timestamp  time.Time // zero means ingestion time
}

// Service stores temperature reports.
type Service struct {
	store  Store
	sinks  []Sink
	logger Logger
}

// NewService creates an ingest service. Sinks are called in order after
// each successful insert.
func NewService(store Store, sinks ...Sink) *Service {
	return &Service{
		store:  store,
		sinks:  sinks,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Handle stores the report. A report for an unknown MAC is dropped and
// returns nil, nil; it must not stall the messages behind it.
func (s *Service) Handle(ctx context.Context, report Report) (*device.Reading, error) {
	dev, err := s.store.DeviceByMAC(ctx, report.MACAddress)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			s.logger.Warn("temperature report for unknown device dropped", "mac", report.MACAddress)
			return nil, nil
		}
		return nil, fmt.Errorf("looking up device %s: %w", report.MACAddress, err)
	}

	reading, err := s.store.RecordReading(ctx, dev.ID, report.Value, report.Timestamp)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("temperature stored",
		"device_id", dev.ID,
		"value", reading.Value.String(),
		"timestamp", reading.Timestamp,
	)

	for _, sink := range s.sinks {
		sink.ReadingStored(ctx, dev, reading)
	}
	return reading, nil
}
