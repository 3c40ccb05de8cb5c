package progress

import (
	"math"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// Derive computes overall progress and course status from unit states and
// the record's current status. Only required units count toward the
// percentage. It has no side effects.
func Derive(rec *Record, course catalog.Course) (int, Status) {
	if rec == nil {
		return 0, StatusNotStarted
	}

	overall := 0
	required := course.RequiredUnits()
	if len(rec.Units) > 0 && len(required) > 0 {
		completed := 0
		for _, u := range required {
			if rec.UnitStatus(u.ID) == StatusCompleted {
				completed++
			}
		}
		overall = int(math.Round(100 * float64(completed) / float64(len(required))))
		// Large courses can round 199/200 up to 100; only a full set is 100.
		if overall == 100 && completed < len(required) {
			overall = 99
		}
	}

	switch {
	case overall == 100:
		return overall, StatusCompleted
	case overall == 0 && !everTouched(rec):
		return overall, StatusNotStarted
	default:
		return overall, StatusInProgress
	}
}

// everTouched reports whether the learner has interacted with any unit. Once
// the course has left not-started it stays touched, even if every unit is
// later reset.
func everTouched(rec *Record) bool {
	if rec.Status != "" && rec.Status != StatusNotStarted {
		return true
	}
	for _, u := range rec.Units {
		if u.Touched() {
			return true
		}
	}
	return false
}
