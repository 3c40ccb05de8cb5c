package progress

import "github.com/p-n-ai/pai-progress/internal/catalog"

// Recommend returns the IDs of units that are not yet completed and whose
// prerequisites are all completed, in catalog order. A nil record is
// treated as a learner who has completed nothing.
func Recommend(course catalog.Course, rec *Record) []string {
	known := make(map[string]bool, len(course.Units))
	for _, u := range course.Units {
		known[u.ID] = true
	}

	next := []string{}
	for _, u := range course.OrderedUnits() {
		if rec.UnitStatus(u.ID) == StatusCompleted {
			continue
		}
		if prerequisitesMet(u, rec, known) {
			next = append(next, u.ID)
		}
	}
	return next
}

func prerequisitesMet(u catalog.Unit, rec *Record, known map[string]bool) bool {
	for _, p := range u.Prerequisites {
		if !known[p] || rec.UnitStatus(p) != StatusCompleted {
			return false
		}
	}
	return true
}
