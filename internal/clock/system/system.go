// Package system provides a real clock implementation.
package system

import "time"

// Clock reports wall time in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting in loc, or UTC when loc is nil.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
