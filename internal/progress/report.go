package progress

import (
	"sort"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// Report summarises a progress record for display.
type Report struct {
	LearnerID              string        `json:"learner_id"`
	CourseID               string        `json:"course_id"`
	CourseTitle            string        `json:"course_title,omitempty"`
	Status                 Status        `json:"status"`
	OverallProgress        int           `json:"overall_progress"`
	TimeSpent              int           `json:"time_spent"` // minutes
	CompletedUnits         int           `json:"completed_units"`
	TotalUnits             int           `json:"total_units"`
	AverageQuizScore       float64       `json:"average_quiz_score"`
	AverageAssignmentScore float64       `json:"average_assignment_score"`
	Certificates           []Certificate `json:"certificates"`
	LastAccessedAt         time.Time     `json:"last_accessed_at"`
}

// BuildReport aggregates rec against the course's units. Averages are 0 when
// there is nothing to average.
func BuildReport(course catalog.Course, rec *Record) Report {
	r := Report{
		LearnerID:       rec.LearnerID,
		CourseID:        rec.CourseID,
		CourseTitle:     course.Title,
		Status:          rec.Status,
		OverallProgress: rec.OverallProgress,
		TotalUnits:      len(course.Units),
		Certificates:    append([]Certificate{}, rec.Certificates...),
		LastAccessedAt:  rec.LastAccessedAt,
	}

	for _, u := range rec.Units {
		r.TimeSpent += u.TimeSpent
	}
	for _, u := range course.Units {
		if rec.UnitStatus(u.ID) == StatusCompleted {
			r.CompletedUnits++
		}
	}

	quizScores := make([]float64, 0, len(rec.Quizzes))
	for _, id := range sortedKeys(rec.Quizzes) {
		quizScores = append(quizScores, rec.Quizzes[id].Score)
	}
	r.AverageQuizScore = mean(quizScores)

	assignmentScores := make([]float64, 0, len(rec.Assignments))
	for _, id := range sortedKeys(rec.Assignments) {
		assignmentScores = append(assignmentScores, rec.Assignments[id].Score)
	}
	r.AverageAssignmentScore = mean(assignmentScores)

	return r
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sortedKeys fixes summation order so repeated reports are bit-identical.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
