// Package management implements the operations an account performs on its
// devices: listing, reading history, configuration changes, sharing and
// secret rotation. Each operation checks the caller's link first.
package management
