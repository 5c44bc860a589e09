package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Temperature is a decimal value with exactly one fractional digit,
// held as an integer count of tenths. 21.5 is Temperature(215).
//
// It marshals to a JSON number that always carries the fractional digit
// (25.0, not 25) and unmarshals from either a number or a decimal string.
type Temperature int64

// maxAbsTenths keeps values within four significant digits (-999.9..999.9).
const maxAbsTenths = 9999

// TemperatureFromFloat rounds f half away from zero to one fractional digit.
func TemperatureFromFloat(f float64) (Temperature, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTemperature, f)
	}
	tenths := math.Round(f * 10)
	if math.Abs(tenths) > maxAbsTenths {
		return 0, fmt.Errorf("%w: %v out of range", ErrInvalidTemperature, f)
	}
	return Temperature(tenths), nil
}

// ParseTemperature parses a decimal string such as "25.0", "-3" or "19.25".
// Extra fractional digits are rounded.
func ParseTemperature(s string) (Temperature, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTemperature)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTemperature, s)
	}
	return TemperatureFromFloat(f)
}

// Float64 returns the value in degrees.
func (t Temperature) Float64() float64 {
	return float64(t) / 10
}

// String renders the value with one fractional digit.
func (t Temperature) String() string {
	return strconv.FormatFloat(t.Float64(), 'f', 1, 64)
}

// MarshalJSON encodes the value as a number with one fractional digit.
func (t Temperature) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalJSON accepts 21.5 or "21.5".
func (t *Temperature) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTemperature, data)
	}

	var (
		parsed Temperature
		err    error
	)
	switch v := raw.(type) {
	case float64:
		parsed, err = TemperatureFromFloat(v)
	case string:
		parsed, err = ParseTemperature(v)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidTemperature, data)
	}
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
