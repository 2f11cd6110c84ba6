package domain

import "time"

// RunActivityType is the only activity classification that is persisted.
const RunActivityType = "Run"

// Activity represents a running session stored locally. ID is the upstream activity id.
type Activity struct {
	ID         int64
	RunnerID   int64
	Distance   float64
	MovingTime int64
	StartDate  time.Time
	Type       string
}

// IsRun reports whether the activity qualifies for persistence.
func (a Activity) IsRun() bool {
	return a.Type == RunActivityType
}

// SameContent reports whether two records would persist identically.
func (a Activity) SameContent(other Activity) bool {
	return a.ID == other.ID &&
		a.RunnerID == other.RunnerID &&
		a.Distance == other.Distance &&
		a.MovingTime == other.MovingTime &&
		a.StartDate.Equal(other.StartDate) &&
		a.Type == other.Type
}

// ActivityListing is one listing call against the upstream API.
// Truncated is set when the page budget was exhausted on a full page, meaning
// more activities may exist inside the window than were returned.
type ActivityListing struct {
	Activities []Activity
	Truncated  bool
}

// FilterRuns keeps the activities classified as runs.
func FilterRuns(activities []Activity) []Activity {
	runs := make([]Activity, 0, len(activities))
	for _, activity := range activities {
		if activity.IsRun() {
			runs = append(runs, activity)
		}
	}
	return runs
}
