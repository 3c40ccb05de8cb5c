package progress_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

func TestService_FourUnitCourse(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	completed := statusPtr(progress.StatusCompleted)

	rec, err := env.svc.UpdateUnit(ctx, "learner-1", "go-101", "a", progress.UnitUpdate{Status: completed, TimeSpent: 10})
	if err != nil {
		t.Fatalf("UpdateUnit(a) error = %v", err)
	}
	if rec.OverallProgress != 25 || rec.Status != progress.StatusInProgress {
		t.Fatalf("after a = (%d, %q), want (25, in-progress)", rec.OverallProgress, rec.Status)
	}
	if len(rec.Certificates) != 0 {
		t.Fatalf("certificates = %d, want 0", len(rec.Certificates))
	}

	for _, unit := range []string{"b", "c", "d"} {
		rec, err = env.svc.UpdateUnit(ctx, "learner-1", "go-101", unit, progress.UnitUpdate{Status: completed})
		if err != nil {
			t.Fatalf("UpdateUnit(%s) error = %v", unit, err)
		}
	}
	if rec.OverallProgress != 100 || rec.Status != progress.StatusCompleted {
		t.Fatalf("after all = (%d, %q), want (100, completed)", rec.OverallProgress, rec.Status)
	}
	if len(rec.Certificates) != 1 || rec.Certificates[0].Kind != progress.CertificateCompletion {
		t.Fatalf("certificates = %+v, want one completion certificate", rec.Certificates)
	}
	if rec.Certificates[0].ID != "cert-1" {
		t.Errorf("certificate ID = %q, want cert-1", rec.Certificates[0].ID)
	}
	if rec.Revision != 4 {
		t.Errorf("Revision = %d, want 4", rec.Revision)
	}
}

func TestService_UpdateUnit_Merges(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{
		Status:    statusPtr(progress.StatusInProgress),
		TimeSpent: 15,
		Attempts:  intPtr(1),
	}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	rec, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 20, Score: floatPtr(80)})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}

	u := rec.Units["a"]
	if u.Status != progress.StatusInProgress {
		t.Errorf("Status = %q, want in-progress (untouched by nil field)", u.Status)
	}
	if u.TimeSpent != 35 {
		t.Errorf("TimeSpent = %d, want 35", u.TimeSpent)
	}
	if u.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", u.Attempts)
	}
	if u.Score == nil || *u.Score != 80 {
		t.Errorf("Score = %v, want 80", u.Score)
	}
	if u.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", u.CompletedAt)
	}
}

func TestService_CompletedAt(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	rec, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusCompleted)})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	first := rec.Units["a"].CompletedAt
	if first == nil {
		t.Fatal("CompletedAt should be set on completion")
	}

	// Completing again keeps the original timestamp.
	rec, err = env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusCompleted)})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	if got := rec.Units["a"].CompletedAt; got == nil || !got.Equal(*first) {
		t.Errorf("CompletedAt = %v, want %v", got, first)
	}

	rec, err = env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusInProgress)})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	if rec.Units["a"].CompletedAt != nil {
		t.Error("CompletedAt should be cleared when a unit leaves completed")
	}
	if rec.OverallProgress != 0 || rec.Status != progress.StatusInProgress {
		t.Errorf("derived = (%d, %q), want (0, in-progress)", rec.OverallProgress, rec.Status)
	}
}

func TestService_ResetUnitKeepsCourseStarted(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	rec, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusInProgress)})
	if err != nil {
		t.Fatalf("UpdateUnit(in-progress) error = %v", err)
	}
	if rec.Status != progress.StatusInProgress {
		t.Fatalf("Status = %q, want in-progress", rec.Status)
	}

	rec, err = env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusNotStarted)})
	if err != nil {
		t.Fatalf("UpdateUnit(not-started) error = %v", err)
	}
	if rec.OverallProgress != 0 || rec.Status != progress.StatusInProgress {
		t.Errorf("after reset = (%d, %q), want (0, in-progress)", rec.OverallProgress, rec.Status)
	}
}

func TestService_CompletingUnitDoesNotTouchDependents(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.svc.UpdateUnit(t.Context(), "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusCompleted)})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	if _, ok := rec.Units["b"]; ok {
		t.Errorf("unit b should stay untracked, got %+v", rec.Units["b"])
	}
}

func TestService_CompletionCertificatePerTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	completed := statusPtr(progress.StatusCompleted)

	var certs []int
	track := func(rec *progress.Record) {
		if n := len(certs); n > 0 && len(rec.Certificates) < certs[n-1] {
			t.Fatalf("certificates shrank from %d to %d", certs[n-1], len(rec.Certificates))
		}
		certs = append(certs, len(rec.Certificates))
	}

	for _, unit := range []string{"a", "b", "c", "d"} {
		rec, err := env.svc.UpdateUnit(ctx, "l", "go-101", unit, progress.UnitUpdate{Status: completed})
		if err != nil {
			t.Fatalf("UpdateUnit(%s) error = %v", unit, err)
		}
		track(rec)
	}

	// Further updates while completed issue nothing new.
	rec, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 5})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	track(rec)
	if len(rec.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(rec.Certificates))
	}

	// Leaving and re-entering completed is a new transition.
	rec, err = env.svc.UpdateUnit(ctx, "l", "go-101", "d", progress.UnitUpdate{Status: statusPtr(progress.StatusInProgress)})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	track(rec)
	if rec.Status != progress.StatusInProgress || rec.OverallProgress != 75 {
		t.Fatalf("derived = (%d, %q), want (75, in-progress)", rec.OverallProgress, rec.Status)
	}

	rec, err = env.svc.UpdateUnit(ctx, "l", "go-101", "d", progress.UnitUpdate{Status: completed})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	track(rec)
	if len(rec.Certificates) != 2 {
		t.Errorf("certificates = %d, want 2", len(rec.Certificates))
	}
}

func TestService_RecordQuizScore(t *testing.T) {
	tests := []struct {
		name       string
		scores     []float64
		wantScore  float64
		wantTries  int
		wantPassed bool
	}{
		{"exactly passing", []float64{70}, 70, 1, true},
		{"just below", []float64{69.9}, 69.9, 1, false},
		{"retake improves", []float64{55, 90}, 90, 2, true},
		{"latest overwrites best", []float64{90, 55}, 55, 2, false},
		{"zero", []float64{0}, 0, 1, false},
		{"perfect", []float64{100}, 100, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := t.Context()
			if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "c", progress.UnitUpdate{Status: statusPtr(progress.StatusInProgress)}); err != nil {
				t.Fatalf("UpdateUnit() error = %v", err)
			}

			var rec *progress.Record
			var err error
			for _, s := range tt.scores {
				rec, err = env.svc.RecordQuizScore(ctx, "l", "go-101", "quiz-1", s)
				if err != nil {
					t.Fatalf("RecordQuizScore(%v) error = %v", s, err)
				}
			}

			q := rec.Quizzes["quiz-1"]
			if q.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", q.Score, tt.wantScore)
			}
			if q.Attempts != tt.wantTries {
				t.Errorf("Attempts = %d, want %d", q.Attempts, tt.wantTries)
			}
			if q.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", q.Passed, tt.wantPassed)
			}
			if q.LastAttempt.IsZero() {
				t.Error("LastAttempt should be set")
			}
			if rec.Units["c"].Status != progress.StatusInProgress || rec.OverallProgress != 0 {
				t.Error("quiz scores should not change unit status or overall progress")
			}
		})
	}
}

func TestService_RecordAssignmentScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 1}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}

	rec, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-1", 42, "good structure")
	if err != nil {
		t.Fatalf("RecordAssignmentScore() error = %v", err)
	}
	a := rec.Assignments["hw-1"]
	if a.Score != 42 || a.Feedback != "good structure" || a.Status != progress.GradingGraded {
		t.Errorf("hw-1 = %+v, want graded 42 with feedback", a)
	}
	if a.SubmittedAt.IsZero() {
		t.Error("SubmittedAt should be set")
	}

	// Assignments without points are scored out of 100.
	if _, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-open", 95, ""); err != nil {
		t.Errorf("RecordAssignmentScore(hw-open, 95) error = %v", err)
	}
}

func TestService_ScoresRequireRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	if _, err := env.svc.RecordQuizScore(ctx, "new", "go-101", "quiz-1", 80); !errors.Is(err, progress.ErrRecordNotFound) {
		t.Errorf("RecordQuizScore() error = %v, want ErrRecordNotFound", err)
	}
	if _, err := env.svc.RecordAssignmentScore(ctx, "new", "go-101", "hw-1", 10, ""); !errors.Is(err, progress.ErrRecordNotFound) {
		t.Errorf("RecordAssignmentScore() error = %v, want ErrRecordNotFound", err)
	}
	if _, err := env.svc.IssueAchievement(ctx, "new", "go-101", "fast-learner"); !errors.Is(err, progress.ErrRecordNotFound) {
		t.Errorf("IssueAchievement() error = %v, want ErrRecordNotFound", err)
	}
	if env.store.Len() != 0 {
		t.Errorf("store has %d records, want 0", env.store.Len())
	}
}

func TestService_ReadsOfMissingRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	if _, err := env.svc.GetCourseProgress(ctx, "new", "go-101"); !errors.Is(err, progress.ErrRecordNotFound) {
		t.Errorf("GetCourseProgress() error = %v, want ErrRecordNotFound", err)
	}
	if _, err := env.svc.GenerateReport(ctx, "new", "go-101"); !errors.Is(err, progress.ErrRecordNotFound) {
		t.Errorf("GenerateReport() error = %v, want ErrRecordNotFound", err)
	}

	next, err := env.svc.RecommendNext(ctx, "new", "go-101")
	if err != nil {
		t.Fatalf("RecommendNext() error = %v", err)
	}
	if len(next) != 2 || next[0] != "a" || next[1] != "extra" {
		t.Errorf("RecommendNext() = %v, want [a extra]", next)
	}
	if env.store.Len() != 0 {
		t.Errorf("reads created %d records, want 0", env.store.Len())
	}
}

func TestService_LazyCreation(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	rec, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusNotStarted)})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	if rec.Revision != 1 {
		t.Errorf("Revision = %d, want 1", rec.Revision)
	}
	if rec.Status != progress.StatusNotStarted {
		t.Errorf("Status = %q, want not-started", rec.Status)
	}
	if rec.EnrolledAt.IsZero() || !rec.EnrolledAt.Equal(rec.LastAccessedAt) {
		t.Errorf("EnrolledAt = %v, LastAccessedAt = %v, want equal and set", rec.EnrolledAt, rec.LastAccessedAt)
	}

	got, err := env.svc.GetCourseProgress(ctx, "l", "go-101")
	if err != nil {
		t.Fatalf("GetCourseProgress() error = %v", err)
	}
	if got.Revision != rec.Revision {
		t.Errorf("stored revision = %d, want %d", got.Revision, rec.Revision)
	}
}

func TestService_InvalidReferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 1}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"unknown course on update", func() error {
			_, err := env.svc.UpdateUnit(ctx, "l", "rust-101", "a", progress.UnitUpdate{})
			return err
		}},
		{"unknown unit", func() error {
			_, err := env.svc.UpdateUnit(ctx, "l", "go-101", "zzz", progress.UnitUpdate{})
			return err
		}},
		{"unknown quiz", func() error {
			_, err := env.svc.RecordQuizScore(ctx, "l", "go-101", "quiz-9", 50)
			return err
		}},
		{"unknown assignment", func() error {
			_, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-9", 5, "")
			return err
		}},
		{"unknown course on read", func() error {
			_, err := env.svc.GetCourseProgress(ctx, "l", "rust-101")
			return err
		}},
		{"unknown course on recommend", func() error {
			_, err := env.svc.RecommendNext(ctx, "l", "rust-101")
			return err
		}},
		{"unknown course on report", func() error {
			_, err := env.svc.GenerateReport(ctx, "l", "rust-101")
			return err
		}},
		{"unknown course on achievement", func() error {
			_, err := env.svc.IssueAchievement(ctx, "l", "rust-101", "x")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, progress.ErrInvalidReference) {
				t.Errorf("error = %v, want ErrInvalidReference", err)
			}
		})
	}
}

func TestService_InvalidScores(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 1}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}

	for _, score := range []float64{-1, 100.5, math.NaN(), math.Inf(1)} {
		if _, err := env.svc.RecordQuizScore(ctx, "l", "go-101", "quiz-1", score); !errors.Is(err, progress.ErrInvalidScore) {
			t.Errorf("RecordQuizScore(%v) error = %v, want ErrInvalidScore", score, err)
		}
	}
	if _, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-1", 51, ""); !errors.Is(err, progress.ErrInvalidScore) {
		t.Errorf("RecordAssignmentScore(hw-1, 51) error = %v, want ErrInvalidScore", err)
	}
	if _, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-open", 101, ""); !errors.Is(err, progress.ErrInvalidScore) {
		t.Errorf("RecordAssignmentScore(hw-open, 101) error = %v, want ErrInvalidScore", err)
	}
	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Score: floatPtr(120)}); !errors.Is(err, progress.ErrInvalidScore) {
		t.Errorf("UpdateUnit(score 120) error = %v, want ErrInvalidScore", err)
	}

	rec, err := env.svc.GetCourseProgress(ctx, "l", "go-101")
	if err != nil {
		t.Fatalf("GetCourseProgress() error = %v", err)
	}
	if len(rec.Quizzes) != 0 || len(rec.Assignments) != 0 {
		t.Errorf("rejected scores were stored: %+v %+v", rec.Quizzes, rec.Assignments)
	}
}

func TestService_InvalidUpdates(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	tests := []struct {
		name string
		upd  progress.UnitUpdate
	}{
		{"negative time", progress.UnitUpdate{TimeSpent: -5}},
		{"unknown status", progress.UnitUpdate{Status: statusPtr("done")}},
		{"negative attempts", progress.UnitUpdate{Attempts: intPtr(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", tt.upd); !errors.Is(err, progress.ErrInvalidUpdate) {
				t.Errorf("UpdateUnit() error = %v, want ErrInvalidUpdate", err)
			}
		})
	}

	if _, err := env.svc.IssueAchievement(ctx, "l", "go-101", ""); !errors.Is(err, progress.ErrInvalidUpdate) {
		t.Errorf("IssueAchievement(\"\") error = %v, want ErrInvalidUpdate", err)
	}
	if env.store.Len() != 0 {
		t.Errorf("rejected updates created %d records", env.store.Len())
	}
}

func TestService_LastAccessedMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	rec, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 1})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	last := rec.LastAccessedAt

	steps := []func() (*progress.Record, error){
		func() (*progress.Record, error) {
			return env.svc.RecordQuizScore(ctx, "l", "go-101", "quiz-1", 80)
		},
		func() (*progress.Record, error) {
			return env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-1", 40, "")
		},
		func() (*progress.Record, error) {
			return env.svc.UpdateUnit(ctx, "l", "go-101", "b", progress.UnitUpdate{TimeSpent: 3})
		},
		func() (*progress.Record, error) {
			return env.svc.IssueAchievement(ctx, "l", "go-101", "night-owl")
		},
	}
	for i, step := range steps {
		rec, err := step()
		if err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
		if !rec.LastAccessedAt.After(last) {
			t.Errorf("step %d: LastAccessedAt %v not after %v", i, rec.LastAccessedAt, last)
		}
		last = rec.LastAccessedAt
	}
}

func TestService_IssueAchievement(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 1}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}

	first, err := env.svc.IssueAchievement(ctx, "l", "go-101", "fast-learner")
	if err != nil {
		t.Fatalf("IssueAchievement() error = %v", err)
	}
	second, err := env.svc.IssueAchievement(ctx, "l", "go-101", "fast-learner")
	if err != nil {
		t.Fatalf("IssueAchievement() again error = %v", err)
	}

	if len(second.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(second.Certificates))
	}
	c := second.Certificates[0]
	if c.Kind != progress.CertificateAchievement || c.AchievementID != "fast-learner" {
		t.Errorf("certificate = %+v, want achievement fast-learner", c)
	}
	if second.Revision != first.Revision {
		t.Errorf("repeat issue wrote revision %d, want %d", second.Revision, first.Revision)
	}
	if first.Status != progress.StatusInProgress {
		t.Errorf("Status = %q, achievements must not change status", first.Status)
	}
}

func TestService_RecommendNext(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusCompleted)}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	next, err := env.svc.RecommendNext(ctx, "l", "go-101")
	if err != nil {
		t.Fatalf("RecommendNext() error = %v", err)
	}
	if len(next) != 2 || next[0] != "b" || next[1] != "extra" {
		t.Errorf("RecommendNext() = %v, want [b extra]", next)
	}
}

func TestService_GenerateReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{Status: statusPtr(progress.StatusCompleted), TimeSpent: 50}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	r, err := env.svc.GenerateReport(ctx, "l", "go-101")
	if err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	if r.AverageQuizScore != 0 || r.AverageAssignmentScore != 0 {
		t.Errorf("averages = (%v, %v), want zero with no scores", r.AverageQuizScore, r.AverageAssignmentScore)
	}

	if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "extra", progress.UnitUpdate{TimeSpent: 25}); err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	if _, err := env.svc.RecordQuizScore(ctx, "l", "go-101", "quiz-1", 80); err != nil {
		t.Fatalf("RecordQuizScore() error = %v", err)
	}
	if _, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-1", 30, ""); err != nil {
		t.Fatalf("RecordAssignmentScore() error = %v", err)
	}
	if _, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-open", 90, ""); err != nil {
		t.Fatalf("RecordAssignmentScore() error = %v", err)
	}

	r, err = env.svc.GenerateReport(ctx, "l", "go-101")
	if err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	if r.TimeSpent != 75 {
		t.Errorf("TimeSpent = %d, want 75", r.TimeSpent)
	}
	if r.CompletedUnits != 1 || r.TotalUnits != 5 {
		t.Errorf("units = %d/%d, want 1/5", r.CompletedUnits, r.TotalUnits)
	}
	if r.AverageQuizScore != 80 {
		t.Errorf("AverageQuizScore = %v, want 80", r.AverageQuizScore)
	}
	if r.AverageAssignmentScore != 60 {
		t.Errorf("AverageAssignmentScore = %v, want 60", r.AverageAssignmentScore)
	}
	if r.OverallProgress != 25 || r.Status != progress.StatusInProgress {
		t.Errorf("derived = (%d, %q), want (25, in-progress)", r.OverallProgress, r.Status)
	}
	if r.CourseTitle != "Go Fundamentals" {
		t.Errorf("CourseTitle = %q, want Go Fundamentals", r.CourseTitle)
	}
}

func TestService_Events(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	completed := statusPtr(progress.StatusCompleted)

	for _, unit := range []string{"a", "b", "c", "d"} {
		if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", unit, progress.UnitUpdate{Status: completed}); err != nil {
			t.Fatalf("UpdateUnit(%s) error = %v", unit, err)
		}
	}
	if _, err := env.svc.RecordQuizScore(ctx, "l", "go-101", "quiz-1", 75); err != nil {
		t.Fatalf("RecordQuizScore() error = %v", err)
	}
	if _, err := env.svc.RecordAssignmentScore(ctx, "l", "go-101", "hw-1", 45, ""); err != nil {
		t.Fatalf("RecordAssignmentScore() error = %v", err)
	}

	var types []string
	for _, e := range env.events.Events() {
		if e.LearnerID != "l" || e.CourseID != "go-101" {
			t.Errorf("event %s has key %s/%s", e.EventType, e.LearnerID, e.CourseID)
		}
		types = append(types, e.EventType)
	}
	want := []string{
		progress.EventRecordCreated,
		progress.EventUnitUpdated,
		progress.EventUnitUpdated,
		progress.EventUnitUpdated,
		progress.EventUnitUpdated,
		progress.EventCertificateIssued,
		progress.EventQuizScored,
		progress.EventAssignmentGraded,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

type failingEvents struct{}

func (failingEvents) LogEvent(context.Context, progress.Event) error { return errors.New("sink down") }

func TestService_EventFailureDoesNotFailWrite(t *testing.T) {
	svc := progress.NewService(progress.ServiceConfig{
		Catalog: mustCatalog(t),
		Events:  failingEvents{},
	})

	rec, err := svc.UpdateUnit(t.Context(), "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 5})
	if err != nil {
		t.Fatalf("UpdateUnit() error = %v", err)
	}
	if rec.Revision != 1 {
		t.Errorf("Revision = %d, want 1", rec.Revision)
	}
}

// conflictStore simulates another writer bumping the revision between read and write.
type conflictStore struct {
	*progress.MemoryStore
}

func (s conflictStore) Upsert(ctx context.Context, rec *progress.Record) (*progress.Record, error) {
	return nil, progress.ErrConflict
}

func TestService_ConflictSurfaced(t *testing.T) {
	svc := progress.NewService(progress.ServiceConfig{
		Store:   conflictStore{progress.NewMemoryStore()},
		Catalog: mustCatalog(t),
	})

	_, err := svc.UpdateUnit(t.Context(), "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 5})
	if !errors.Is(err, progress.ErrConflict) {
		t.Fatalf("UpdateUnit() error = %v, want ErrConflict", err)
	}
}

func TestService_ConcurrentUpdates(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	const writers = 50

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 1}); err != nil {
				errs <- err
			}
		}()
		// A second learner proceeds independently.
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.UpdateUnit(ctx, "other", "go-101", "b", progress.UnitUpdate{TimeSpent: 2}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent UpdateUnit() error = %v", err)
	}

	rec, err := env.svc.GetCourseProgress(ctx, "l", "go-101")
	if err != nil {
		t.Fatalf("GetCourseProgress() error = %v", err)
	}
	if rec.Units["a"].TimeSpent != writers {
		t.Errorf("TimeSpent = %d, want %d (lost updates)", rec.Units["a"].TimeSpent, writers)
	}
	if rec.Revision != writers {
		t.Errorf("Revision = %d, want %d", rec.Revision, writers)
	}

	other, err := env.svc.GetCourseProgress(ctx, "other", "go-101")
	if err != nil {
		t.Fatalf("GetCourseProgress(other) error = %v", err)
	}
	if other.Units["b"].TimeSpent != 2*writers {
		t.Errorf("other TimeSpent = %d, want %d", other.Units["b"].TimeSpent, 2*writers)
	}
}

func TestService_CanceledContext(t *testing.T) {
	locker := progress.NewLocalLocker()
	svc := progress.NewService(progress.ServiceConfig{
		Catalog: mustCatalog(t),
		Locker:  locker,
	})

	unlock, err := locker.Lock(t.Context(), progress.Key{LearnerID: "l", CourseID: "go-101"}.String())
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := svc.UpdateUnit(ctx, "l", "go-101", "a", progress.UnitUpdate{TimeSpent: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("UpdateUnit() error = %v, want context.Canceled", err)
	}
}
