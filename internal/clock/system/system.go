// Package system provides the wall clock used by services and stores.
package system

import "time"

// Clock implements domain.Clock.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// of Postgres timestamptz, so row timestamps read back equal to what was
// written and ordering in memory matches ordering in the database.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
