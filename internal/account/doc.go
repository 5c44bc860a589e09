// Package account provides read access to the accounts that devices are
// linked to. Accounts are owned by the surrounding application.
package account
