package device

import "time"

// Contrast is the display contrast setting of a sensor.
type Contrast string

// Contrast values accepted by device firmware.
const (
	ContrastLow    Contrast = "low"
	ContrastMedium Contrast = "medium"
	ContrastHigh   Contrast = "high"
)

// AllContrasts returns every valid contrast value.
func AllContrasts() []Contrast {
	return []Contrast{ContrastLow, ContrastMedium, ContrastHigh}
}

// Reporting interval bounds in milliseconds.
const (
	MinInterval = 1000
	MaxInterval = 60000
)

// Defaults applied to a freshly registered device.
const (
	DefaultContrast          = ContrastMedium
	DefaultOrientation       = false
	DefaultInterval          = 4000
	DefaultTempThresholdHigh = Temperature(230)
	DefaultTempThresholdLow  = Temperature(190)
)

// Device is a temperature sensor identified by its MAC address.
//
// The shared secret is deliberately absent: it is only ever written and
// compared, never read back into application memory.
type Device struct {
	ID         string `json:"id"`
	MACAddress string `json:"mac_address"`

	Config

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config is the user-adjustable configuration pushed to a device.
type Config struct {
	Contrast          Contrast    `json:"contrast"`
	Orientation       bool        `json:"orientation"`
	Interval          int         `json:"interval"`
	TempThresholdHigh Temperature `json:"temp_threshold_high"`
	TempThresholdLow  Temperature `json:"temp_threshold_low"`
}

// DefaultConfig returns the configuration given to new devices.
func DefaultConfig() Config {
	return Config{
		Contrast:          DefaultContrast,
		Orientation:       DefaultOrientation,
		Interval:          DefaultInterval,
		TempThresholdHigh: DefaultTempThresholdHigh,
		TempThresholdLow:  DefaultTempThresholdLow,
	}
}

// Reading is one stored temperature report. Readings are immutable.
type Reading struct {
	ID        int64       `json:"id"`
	DeviceID  string      `json:"device_id"`
	Value     Temperature `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// Summary is a device together with its most recent reading, if any.
type Summary struct {
	Device
	LatestReading *Reading `json:"latest_reading"`
}
