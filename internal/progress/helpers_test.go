package progress_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

// fourUnitCourse has four required units in a chain a <- b <- c <- d, one
// optional unit, one quiz and one assignment.
func fourUnitCourse() catalog.Course {
	return catalog.Course{
		ID:    "go-101",
		Title: "Go Fundamentals",
		Units: []catalog.Unit{
			{ID: "a", Title: "Intro", Type: catalog.UnitVideo, Position: 1, Required: true},
			{ID: "b", Title: "Syntax", Type: catalog.UnitReading, Position: 2, Required: true, Prerequisites: []string{"a"}},
			{ID: "c", Title: "Quiz", Type: catalog.UnitQuiz, Position: 3, Required: true, Prerequisites: []string{"b"}},
			{ID: "d", Title: "Project", Type: catalog.UnitAssignment, Position: 4, Required: true, Prerequisites: []string{"c"}},
			{ID: "extra", Title: "Further reading", Type: catalog.UnitReading, Position: 5},
		},
		Quizzes: []catalog.Quiz{
			{ID: "quiz-1", UnitID: "c", PassingScore: 70, Questions: []catalog.Question{{ID: "q1", Points: 10}}},
		},
		Assignments: []catalog.Assignment{
			{ID: "hw-1", UnitID: "d", Points: 50, SubmissionType: "link"},
			{ID: "hw-open", UnitID: "d"},
		},
	}
}

// fakeClock returns strictly increasing times one minute apart.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("cert-%d", n)
	}
}

type testEnv struct {
	svc    *progress.Service
	store  *progress.MemoryStore
	events *progress.MemoryEventLogger
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cat, err := catalog.FromCourses(fourUnitCourse())
	if err != nil {
		t.Fatalf("FromCourses() error = %v", err)
	}
	store := progress.NewMemoryStore()
	events := progress.NewMemoryEventLogger()
	svc := progress.NewService(progress.ServiceConfig{
		Store:   store,
		Catalog: cat,
		Events:  events,
		Now:     newFakeClock().Now,
		NewID:   sequentialIDs(),
	})
	return testEnv{svc: svc, store: store, events: events}
}

func statusPtr(s progress.Status) *progress.Status { return &s }

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }

func mustCatalog(t *testing.T) *catalog.Loader {
	t.Helper()
	cat, err := catalog.FromCourses(fourUnitCourse())
	if err != nil {
		t.Fatalf("FromCourses() error = %v", err)
	}
	return cat
}
