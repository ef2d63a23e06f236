// Package pg connects to PostgreSQL through pgxpool and applies goose
// migrations from an embedded filesystem.
package pg
