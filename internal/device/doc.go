// Package device is the data-access layer for temperature sensors.
//
// It owns three things:
//
//   - Device records: MAC address identity plus the configuration pushed
//     to the sensor (contrast, orientation, interval, thresholds)
//   - Temperature readings: append-only, cleared only in bulk per device
//   - The Registry facade that other packages use, which also resolves
//     accounts through the account package
//
// Temperatures are fixed-point values with one fractional digit
// (see Temperature) and are stored as integer tenths.
//
// A device's shared secret is stored as a hash alongside the device row but
// is never read back by this package.
package device
