// Package auth verifies account bearer tokens and rate-limits callers.
//
// Accounts authenticate with the surrounding application, which issues
// HS256 JWTs whose subject is the account ID. This service only verifies
// them with the shared secret from security.jwt.secret.
package auth
