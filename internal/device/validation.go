package device

import (
	"fmt"
	"strings"

	z "github.com/Oudwins/zog"
)

// ConfigUpdate is a partial configuration change. Nil fields are left as stored.
type ConfigUpdate struct {
	Contrast          *string      `json:"contrast,omitempty"`
	Orientation       *bool        `json:"orientation,omitempty"`
	Interval          *int         `json:"interval,omitempty"`
	TempThresholdHigh *Temperature `json:"temp_threshold_high,omitempty"`
	TempThresholdLow  *Temperature `json:"temp_threshold_low,omitempty"`
}

var configUpdateSchema = z.Struct(z.Shape{
	"Contrast": z.Ptr(z.String().OneOf(
		[]string{string(ContrastLow), string(ContrastMedium), string(ContrastHigh)},
		z.Message("contrast must be low, medium or high"),
	)),
	"Interval": z.Ptr(z.Int().
		GTE(MinInterval, z.Message(fmt.Sprintf("interval must be at least %d ms", MinInterval))).
		LTE(MaxInterval, z.Message(fmt.Sprintf("interval must be at most %d ms", MaxInterval)))),
})

// IsEmpty reports whether the update sets no fields.
func (u *ConfigUpdate) IsEmpty() bool {
	return u.Contrast == nil && u.Orientation == nil && u.Interval == nil &&
		u.TempThresholdHigh == nil && u.TempThresholdLow == nil
}

// Validate checks every field that is set.
func (u *ConfigUpdate) Validate() error {
	if u.IsEmpty() {
		return ErrEmptyUpdate
	}
	if issues := configUpdateSchema.Validate(u); len(issues) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, issues)
	}
	return nil
}

// Apply returns cfg with the update's set fields overlaid.
func (u *ConfigUpdate) Apply(cfg Config) Config {
	if u.Contrast != nil {
		cfg.Contrast = Contrast(*u.Contrast)
	}
	if u.Orientation != nil {
		cfg.Orientation = *u.Orientation
	}
	if u.Interval != nil {
		cfg.Interval = *u.Interval
	}
	if u.TempThresholdHigh != nil {
		cfg.TempThresholdHigh = *u.TempThresholdHigh
	}
	if u.TempThresholdLow != nil {
		cfg.TempThresholdLow = *u.TempThresholdLow
	}
	return cfg
}

// ValidateMAC checks that mac is usable as an MQTT topic segment.
// The hardware format is not enforced; firmware reports it as it likes.
func ValidateMAC(mac string) error {
	if strings.TrimSpace(mac) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMAC)
	}
	if strings.ContainsAny(mac, "/+#") {
		return fmt.Errorf("%w: %q contains a topic separator or wildcard", ErrInvalidMAC, mac)
	}
	return nil
}
