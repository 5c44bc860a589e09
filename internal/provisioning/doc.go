// Package provisioning handles device announcements on the
// initial_configuration topic.
//
// An announcement carries the device MAC address, its shared secret and the
// email of the account it should be linked to. Two registration policies are
// supported:
//
//   - first_contact: an unknown MAC is registered with the announced secret.
//   - preregistered: the device must already exist; unknown MACs are rejected.
//
// Either way a known device must present its current secret, and the account
// must already exist. Rejections are logged and reported to the caller but
// never say which credential failed, since the device has no reply channel
// and the log may be visible to others.
//
// No lock serializes announcements. Duplicate registrations and links are
// caught by the database uniqueness constraints and treated as success.
package provisioning
