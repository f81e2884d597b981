package executor

import "time"

// NextWindow returns the next interval boundary after t: minutes rounded up
// to the following multiple of interval, seconds zeroed. A t exactly on a
// boundary maps to the boundary after it, matching the venue's convention
// that a market settles at the window it is named for.
func NextWindow(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	truncated := t.Truncate(interval)
	return truncated.Add(interval)
}
