// Package ratelimit provides per-client sliding-window admission control for
// Signal Hub.
package ratelimit

import "time"

// Backend is the storage surface behind the limiter. The in-memory backend
// below is the default; a distributed implementation (Redis-shaped) can slot
// in behind the same operations, using a script or conditional increment to
// keep TryAcquire atomic.
type Backend interface {
	// TryAcquire checks usage for key within the trailing window and records
	// cost units when usage+cost stays within limit, as a single atomic step.
	// It returns whether the request was admitted, the usage counted before
	// this call, and when the oldest counted event leaves the window. A zero
	// reset time means the window is empty.
	TryAcquire(key string, cost, limit int, window time.Duration) (admitted bool, usage int, reset time.Time, err error)

	// GetUsage returns the admitted cost for key within the trailing window
	// and when the oldest counted event leaves the window.
	GetUsage(key string, window time.Duration) (int, time.Time, error)

	// Reset clears all usage for key.
	Reset(key string) error
}
