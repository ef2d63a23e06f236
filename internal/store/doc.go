// Package store implements billing persistence: entitlements and the user
// directory on PostgreSQL, and the processed webhook event ledger on Redis.
package store
