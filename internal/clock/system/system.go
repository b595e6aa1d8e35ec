// Package system provides the wall clock used to stamp staging runs.
package system

import "time"

// Clock implements stager.Clock using time.Now, always in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// the run ledgers store.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
