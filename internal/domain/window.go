package domain

import "time"

// DefaultLookbackYears is the sync window horizon used when none is configured.
const DefaultLookbackYears = 5

// WindowStart returns the lower bound of the sync window: the start of the UTC day
// lookbackYears before now. Local activities older than the bound are never
// candidates for deletion.
func WindowStart(now time.Time, lookbackYears int) time.Time {
	if lookbackYears <= 0 {
		lookbackYears = DefaultLookbackYears
	}
	shifted := now.UTC().AddDate(-lookbackYears, 0, 0)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
}
