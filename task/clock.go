package task

import "time"

// Clock returns the current instant. Every entry point in this package
// that needs the current time accepts an optional Clock override so
// tests can freeze time; a nil
// Clock falls back to time.Now. Nothing in this package reads the wall
// clock directly outside of this indirection.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c != nil {
		return c
	}
	return time.Now
}

func (c Clock) now() time.Time {
	return c.orDefault()()
}
