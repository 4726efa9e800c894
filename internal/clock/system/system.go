// Package system provides the wall-clock implementation of ingest.Clock.
package system

import "time"

// Clock returns the current UTC time.
type Clock struct{}

// Now implements ingest.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
