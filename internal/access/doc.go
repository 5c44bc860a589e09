// Package access is the single authorization gate for device operations.
//
// An account may read or change a device only while it holds a link in the
// device_accounts table. Links carry no roles: every linked account has the
// same read/write access, and the earliest link marks the owner, who is the
// recipient of configuration pushes.
//
// The store never lets a device drop to zero links through RemoveLink.
// Concurrent duplicate inserts are resolved by the composite primary key;
// EnsureLink treats the resulting constraint violation as success so device
// re-announcements stay idempotent without any in-process locking.
package access
