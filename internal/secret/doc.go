// Package secret issues and checks the per-device shared secret used when a
// device announces itself on the initial_configuration topic.
//
// Codes carry 128 bits of entropy and are hex encoded. They are stored as
// Argon2id hashes in PHC format, so a leaked database does not let anyone
// re-provision a device onto their own account.
package secret
