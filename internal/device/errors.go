package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device matches an ID or MAC address.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a MAC address that is already known.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidMAC is returned for an empty MAC address or one that cannot
	// be used as an MQTT topic segment.
	ErrInvalidMAC = errors.New("device: invalid mac address")

	// ErrInvalidConfig is returned when a configuration update fails validation.
	ErrInvalidConfig = errors.New("device: invalid configuration")

	// ErrEmptyUpdate is returned when a configuration update sets no fields.
	ErrEmptyUpdate = errors.New("device: configuration update has no fields")

	// ErrInvalidTemperature is returned when a temperature cannot be represented.
	ErrInvalidTemperature = errors.New("device: invalid temperature")

	// ErrInvalidRange is returned when a reading query has from after to.
	ErrInvalidRange = errors.New("device: invalid time range")
)
