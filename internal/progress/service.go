package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

var tracer = otel.Tracer("github.com/p-n-ai/pai-progress/internal/progress")

// errUnchanged aborts a mutation without writing; the current record is returned.
var errUnchanged = errors.New("record unchanged")

// Catalog is the read-only course catalog the service validates against.
type Catalog interface {
	GetCourse(id string) (catalog.Course, bool)
}

// ServiceConfig holds dependencies for the progress service.
type ServiceConfig struct {
	Store   Store
	Catalog Catalog
	Locker  KeyLocker
	Events  EventLogger
	Now     func() time.Time
	NewID   func() string
}

// Service applies progress mutations and serves derived views. It holds no
// record state of its own; everything goes through the Store.
type Service struct {
	store   Store
	catalog Catalog
	locker  KeyLocker
	events  EventLogger
	now     func() time.Time
	newID   func() string
}

// UnitUpdate is a partial update to one unit. Nil fields are left untouched;
// TimeSpent is added to the unit's cumulative total.
type UnitUpdate struct {
	Status    *Status
	TimeSpent int // minutes
	Score     *float64
	Attempts  *int
}

// NewService creates a progress service. Missing dependencies fall back to
// in-memory, in-process defaults.
func NewService(cfg ServiceConfig) *Service {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	cat := cfg.Catalog
	if cat == nil {
		cat, _ = catalog.FromCourses()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		store:   store,
		catalog: cat,
		locker:  locker,
		events:  events,
		now:     now,
		newID:   newID,
	}
}

// GetCourseProgress returns the learner's record for a course.
func (s *Service) GetCourseProgress(ctx context.Context, learnerID, courseID string) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "GetCourseProgress", learnerID, courseID)
	defer func() { endSpan(span, err) }()

	if _, err := s.course(courseID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, Key{LearnerID: learnerID, CourseID: courseID})
}

// UpdateUnit merges upd into the unit's progress, re-derives course status
// and persists. The record is created on the first unit update.
// Completing a unit never changes its dependents.
func (s *Service) UpdateUnit(ctx context.Context, learnerID, courseID, unitID string, upd UnitUpdate) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "UpdateUnit", learnerID, courseID)
	span.SetAttributes(attribute.String("unit_id", unitID))
	defer func() { endSpan(span, err) }()

	course, err := s.course(courseID)
	if err != nil {
		return nil, err
	}
	if _, ok := course.Unit(unitID); !ok {
		return nil, fmt.Errorf("unit %s in course %s: %w", unitID, courseID, ErrInvalidReference)
	}
	if err := upd.validate(); err != nil {
		return nil, err
	}

	return s.mutate(ctx, course, learnerID, true, func(rec *Record, now time.Time) ([]Event, error) {
		up, ok := rec.Units[unitID]
		if !ok || up.Status == "" {
			up.Status = StatusNotStarted
		}

		if upd.Status != nil {
			switch {
			case *upd.Status == StatusCompleted && up.Status != StatusCompleted:
				completedAt := now
				up.CompletedAt = &completedAt
			case *upd.Status != StatusCompleted:
				up.CompletedAt = nil
			}
			up.Status = *upd.Status
		}
		up.TimeSpent += upd.TimeSpent
		if upd.Score != nil {
			score := *upd.Score
			up.Score = &score
		}
		if upd.Attempts != nil {
			up.Attempts = *upd.Attempts
		}

		rec.Units[unitID] = up
		touch(rec, now)

		return []Event{{
			EventType: EventUnitUpdated,
			Data: map[string]any{
				"unit_id":    unitID,
				"status":     string(up.Status),
				"time_spent": up.TimeSpent,
			},
		}}, nil
	})
}

// RecordQuizScore stores score as the quiz's latest result. Only the most
// recent attempt's score is kept; attempts counts every call.
// Unit status and overall progress are not affected.
func (s *Service) RecordQuizScore(ctx context.Context, learnerID, courseID, quizID string, score float64) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "RecordQuizScore", learnerID, courseID)
	span.SetAttributes(attribute.String("quiz_id", quizID), attribute.Float64("score", score))
	defer func() { endSpan(span, err) }()

	course, err := s.course(courseID)
	if err != nil {
		return nil, err
	}
	if _, ok := course.Quiz(quizID); !ok {
		return nil, fmt.Errorf("quiz %s in course %s: %w", quizID, courseID, ErrInvalidReference)
	}
	if !inRange(score, 100) {
		return nil, fmt.Errorf("quiz score %v outside 0-100: %w", score, ErrInvalidScore)
	}

	return s.mutate(ctx, course, learnerID, false, func(rec *Record, now time.Time) ([]Event, error) {
		q := rec.Quizzes[quizID]
		q.Score = score
		q.Attempts++
		q.LastAttempt = now
		q.Passed = score >= PassingScore
		rec.Quizzes[quizID] = q
		touch(rec, now)

		return []Event{{
			EventType: EventQuizScored,
			Data: map[string]any{
				"quiz_id":  quizID,
				"score":    score,
				"attempts": q.Attempts,
				"passed":   q.Passed,
			},
		}}, nil
	})
}

// RecordAssignmentScore stores a graded assignment result. Unit status and
// overall progress are not affected.
func (s *Service) RecordAssignmentScore(ctx context.Context, learnerID, courseID, assignmentID string, score float64, feedback string) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "RecordAssignmentScore", learnerID, courseID)
	span.SetAttributes(attribute.String("assignment_id", assignmentID), attribute.Float64("score", score))
	defer func() { endSpan(span, err) }()

	course, err := s.course(courseID)
	if err != nil {
		return nil, err
	}
	assignment, ok := course.Assignment(assignmentID)
	if !ok {
		return nil, fmt.Errorf("assignment %s in course %s: %w", assignmentID, courseID, ErrInvalidReference)
	}
	maxScore := float64(assignment.Points)
	if maxScore <= 0 {
		maxScore = 100
	}
	if !inRange(score, maxScore) {
		return nil, fmt.Errorf("assignment score %v outside 0-%v: %w", score, maxScore, ErrInvalidScore)
	}

	return s.mutate(ctx, course, learnerID, false, func(rec *Record, now time.Time) ([]Event, error) {
		rec.Assignments[assignmentID] = AssignmentScore{
			Score:       score,
			SubmittedAt: now,
			Feedback:    feedback,
			Status:      GradingGraded,
		}
		touch(rec, now)

		return []Event{{
			EventType: EventAssignmentGraded,
			Data: map[string]any{
				"assignment_id": assignmentID,
				"score":         score,
			},
		}}, nil
	})
}

// IssueAchievement appends an achievement certificate. Issuing the same
// achievement twice returns the record unchanged.
func (s *Service) IssueAchievement(ctx context.Context, learnerID, courseID, achievementID string) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "IssueAchievement", learnerID, courseID)
	span.SetAttributes(attribute.String("achievement_id", achievementID))
	defer func() { endSpan(span, err) }()

	if achievementID == "" {
		return nil, fmt.Errorf("achievement id is required: %w", ErrInvalidUpdate)
	}
	course, err := s.course(courseID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, course, learnerID, false, func(rec *Record, now time.Time) ([]Event, error) {
		for _, c := range rec.Certificates {
			if c.Kind == CertificateAchievement && c.AchievementID == achievementID {
				return nil, errUnchanged
			}
		}
		cert := Certificate{
			ID:            s.newID(),
			IssuedAt:      now,
			Kind:          CertificateAchievement,
			AchievementID: achievementID,
		}
		rec.Certificates = append(rec.Certificates, cert)
		touch(rec, now)
		return []Event{certificateEvent(cert)}, nil
	})
}

// RecommendNext returns the units the learner can take next, in catalog
// order. A learner without a record gets the units that have no
// prerequisites; no record is created.
func (s *Service) RecommendNext(ctx context.Context, learnerID, courseID string) (ids []string, err error) {
	ctx, span := startSpan(ctx, "RecommendNext", learnerID, courseID)
	defer func() { endSpan(span, err) }()

	course, err := s.course(courseID)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, Key{LearnerID: learnerID, CourseID: courseID})
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	return Recommend(course, rec), nil
}

// GenerateReport aggregates the learner's record into a Report.
func (s *Service) GenerateReport(ctx context.Context, learnerID, courseID string) (r Report, err error) {
	ctx, span := startSpan(ctx, "GenerateReport", learnerID, courseID)
	defer func() { endSpan(span, err) }()

	course, err := s.course(courseID)
	if err != nil {
		return Report{}, err
	}
	rec, err := s.store.Get(ctx, Key{LearnerID: learnerID, CourseID: courseID})
	if err != nil {
		return Report{}, err
	}
	return BuildReport(course, rec), nil
}

func (s *Service) course(courseID string) (catalog.Course, error) {
	course, ok := s.catalog.GetCourse(courseID)
	if !ok {
		return catalog.Course{}, fmt.Errorf("course %s: %w", courseID, ErrInvalidReference)
	}
	return course, nil
}

// mutate runs one locked read-modify-write on a record: apply fn, re-derive
// status, issue a completion certificate on the transition into completed,
// persist, then emit events.
func (s *Service) mutate(
	ctx context.Context,
	course catalog.Course,
	learnerID string,
	create bool,
	fn func(rec *Record, now time.Time) ([]Event, error),
) (*Record, error) {
	key := Key{LearnerID: learnerID, CourseID: course.ID}

	unlock, err := s.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	var events []Event

	rec, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, ErrRecordNotFound) && create:
		rec = NewRecord(learnerID, course.ID, now)
		events = append(events, Event{EventType: EventRecordCreated})
	default:
		return nil, err
	}

	previous := rec.Status
	applied, err := fn(rec, now)
	if errors.Is(err, errUnchanged) {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	events = append(events, applied...)

	rec.OverallProgress, rec.Status = Derive(rec, course)
	if rec.Status == StatusCompleted && previous != StatusCompleted {
		cert := Certificate{
			ID:       s.newID(),
			IssuedAt: now,
			Kind:     CertificateCompletion,
		}
		rec.Certificates = append(rec.Certificates, cert)
		events = append(events, certificateEvent(cert))
	}

	saved, err := s.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		e.LearnerID = learnerID
		e.CourseID = course.ID
		e.CreatedAt = now
		if err := s.events.LogEvent(ctx, e); err != nil {
			slog.Warn("failed to log progress event",
				"type", e.EventType,
				"learner_id", learnerID,
				"course_id", course.ID,
				"error", err,
			)
		}
	}

	slog.Debug("progress record saved",
		"learner_id", learnerID,
		"course_id", course.ID,
		"revision", saved.Revision,
		"overall_progress", saved.OverallProgress,
		"status", saved.Status,
	)
	return saved, nil
}

func (u UnitUpdate) validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("unit status %q: %w", *u.Status, ErrInvalidUpdate)
	}
	if u.TimeSpent < 0 {
		return fmt.Errorf("time spent %d is negative: %w", u.TimeSpent, ErrInvalidUpdate)
	}
	if u.Attempts != nil && *u.Attempts < 0 {
		return fmt.Errorf("attempts %d is negative: %w", *u.Attempts, ErrInvalidUpdate)
	}
	if u.Score != nil && !inRange(*u.Score, 100) {
		return fmt.Errorf("unit score %v outside 0-100: %w", *u.Score, ErrInvalidScore)
	}
	return nil
}

// touch advances last-accessed; it never moves backwards.
func touch(rec *Record, now time.Time) {
	if now.After(rec.LastAccessedAt) {
		rec.LastAccessedAt = now
	}
}

func inRange(score, max float64) bool {
	return !math.IsNaN(score) && score >= 0 && score <= max
}

func certificateEvent(c Certificate) Event {
	data := map[string]any{
		"certificate_id": c.ID,
		"kind":           string(c.Kind),
	}
	if c.AchievementID != "" {
		data["achievement_id"] = c.AchievementID
	}
	return Event{EventType: EventCertificateIssued, Data: data}
}

func startSpan(ctx context.Context, op, learnerID, courseID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "progress."+op, trace.WithAttributes(
		attribute.String("learner_id", learnerID),
		attribute.String("course_id", courseID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
