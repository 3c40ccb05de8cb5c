// Package progress tracks a learner's completion state through a course:
// per-unit progress, quiz and assignment scores, derived course status,
// certificates, next-unit recommendations and summary reports.
package progress

import "time"

// PassingScore is the fixed quiz pass mark, in percent.
const PassingScore = 70.0

// Status is the lifecycle stage of a unit or a whole course.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// GradingStatus is the grading state of an assignment submission.
type GradingStatus string

const (
	GradingPending  GradingStatus = "pending"
	GradingGraded   GradingStatus = "graded"
	GradingResubmit GradingStatus = "resubmit"
)

// CertificateKind distinguishes course completion from achievements.
type CertificateKind string

const (
	CertificateCompletion  CertificateKind = "completion"
	CertificateAchievement CertificateKind = "achievement"
)

// Key identifies a progress record.
type Key struct {
	LearnerID string
	CourseID  string
}

func (k Key) String() string {
	return k.LearnerID + "/" + k.CourseID
}

// UnitProgress is a learner's state within one unit.
type UnitProgress struct {
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TimeSpent   int        `json:"time_spent"` // minutes
	Score       *float64   `json:"score,omitempty"`
	Attempts    int        `json:"attempts"`
}

// Touched reports whether the learner has interacted with the unit at all.
func (u UnitProgress) Touched() bool {
	return (u.Status != "" && u.Status != StatusNotStarted) ||
		u.TimeSpent > 0 || u.Attempts > 0 || u.Score != nil
}

// QuizScore holds the latest attempt at a quiz. Earlier attempt scores are not kept.
type QuizScore struct {
	Score       float64   `json:"score"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	Passed      bool      `json:"passed"`
}

// AssignmentScore holds the graded submission of an assignment.
type AssignmentScore struct {
	Score       float64       `json:"score"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Feedback    string        `json:"feedback,omitempty"`
	Status      GradingStatus `json:"status"`
}

// Certificate is an issued proof of completion or achievement. Never mutated.
type Certificate struct {
	ID            string          `json:"id"`
	IssuedAt      time.Time       `json:"issued_at"`
	Kind          CertificateKind `json:"kind"`
	AchievementID string          `json:"achievement_id,omitempty"`
}

// Record is the progress aggregate for one (learner, course) pair.
type Record struct {
	LearnerID       string                     `json:"learner_id"`
	CourseID        string                     `json:"course_id"`
	Revision        int64                      `json:"revision"`
	EnrolledAt      time.Time                  `json:"enrolled_at"`
	LastAccessedAt  time.Time                  `json:"last_accessed_at"`
	Status          Status                     `json:"status"`
	OverallProgress int                        `json:"overall_progress"`
	Units           map[string]UnitProgress    `json:"units"`
	Quizzes         map[string]QuizScore       `json:"quizzes"`
	Assignments     map[string]AssignmentScore `json:"assignments"`
	Certificates    []Certificate              `json:"certificates"`
}

// NewRecord returns an empty, not-started record enrolled at now.
func NewRecord(learnerID, courseID string, now time.Time) *Record {
	return &Record{
		LearnerID:      learnerID,
		CourseID:       courseID,
		EnrolledAt:     now,
		LastAccessedAt: now,
		Status:         StatusNotStarted,
		Units:          map[string]UnitProgress{},
		Quizzes:        map[string]QuizScore{},
		Assignments:    map[string]AssignmentScore{},
		Certificates:   []Certificate{},
	}
}

// Key returns the record's composite key.
func (r *Record) Key() Key {
	return Key{LearnerID: r.LearnerID, CourseID: r.CourseID}
}

// UnitStatus returns the status of a unit, not-started when untracked.
func (r *Record) UnitStatus(unitID string) Status {
	if r == nil {
		return StatusNotStarted
	}
	u, ok := r.Units[unitID]
	if !ok || u.Status == "" {
		return StatusNotStarted
	}
	return u.Status
}

// Clone returns a deep copy so callers never share maps or pointers with a store.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r

	c.Units = make(map[string]UnitProgress, len(r.Units))
	for id, u := range r.Units {
		if u.CompletedAt != nil {
			t := *u.CompletedAt
			u.CompletedAt = &t
		}
		if u.Score != nil {
			s := *u.Score
			u.Score = &s
		}
		c.Units[id] = u
	}

	c.Quizzes = make(map[string]QuizScore, len(r.Quizzes))
	for id, q := range r.Quizzes {
		c.Quizzes[id] = q
	}

	c.Assignments = make(map[string]AssignmentScore, len(r.Assignments))
	for id, a := range r.Assignments {
		c.Assignments[id] = a
	}

	c.Certificates = append([]Certificate{}, r.Certificates...)
	return &c
}

// normalize fills nil collections left by decoding older or partial documents.
func (r *Record) normalize() {
	if r.Units == nil {
		r.Units = map[string]UnitProgress{}
	}
	if r.Quizzes == nil {
		r.Quizzes = map[string]QuizScore{}
	}
	if r.Assignments == nil {
		r.Assignments = map[string]AssignmentScore{}
	}
	if r.Certificates == nil {
		r.Certificates = []Certificate{}
	}
	if r.Status == "" {
		r.Status = StatusNotStarted
	}
}
