// Package storage persists booking records. Two backends implement the
// booking.Store contract: a JSON file (default, last-write-wins per id) and
// Postgres. Neither offers transactions; the booking service serializes
// writes per id.
package storage

import "github.com/example/courtsched/internal/booking"

var (
	_ booking.Store = (*FileStore)(nil)
	_ booking.Store = (*PGStore)(nil)
)
