package reminder

import "time"

// Clock supplies wall-clock time to the storage layer.
//
// Backends never call time.Now directly so that eviction ages, overdue
// promotion and timestamps can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
