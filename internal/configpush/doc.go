// Package configpush publishes a device's stored configuration to its
// config topic after every successful configuration change.
//
// The payload always carries all five fields, taken from the stored state
// rather than from the change that triggered the push.
package configpush
