// Package catalog provides the read-only course catalog view: ordered units,
// their prerequisites, and the quizzes and assignments attached to them.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed course.schema.json
var courseSchemaJSON string

var courseSchema = mustCompileSchema(courseSchemaJSON)

func mustCompileSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile course schema: %v", err))
	}
	return schema
}

// Loader loads and caches course definitions from the filesystem.
type Loader struct {
	rootDir string
	courses map[string]Course
	mu      sync.RWMutex
}

// NewLoader creates a new catalog loader and loads all course files under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]Course),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	slog.Info("catalog loaded", "courses", len(l.courses))
	return l, nil
}

// FromCourses builds a catalog from in-memory course definitions.
func FromCourses(courses ...Course) (*Loader, error) {
	l := &Loader{courses: make(map[string]Course, len(courses))}
	for _, c := range courses {
		if err := Validate(c); err != nil {
			return nil, err
		}
		l.courses[c.ID] = c
	}
	return l, nil
}

// GetCourse returns a course by ID.
func (l *Loader) GetCourse(id string) (Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[id]
	return c, ok
}

// AllCourses returns all loaded courses sorted by ID.
func (l *Loader) AllCourses() []Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
	return courses
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadCourse(path)
		}
		return nil
	})
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return nil
	}
	if id, _ := doc["id"].(string); id == "" {
		return nil // Not a course file
	}

	result, err := courseSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		slog.Warn("skipping course YAML", "path", path, "error", err)
		return nil
	}
	if !result.Valid() {
		slog.Warn("skipping course that does not match schema",
			"path", path,
			"errors", schemaErrors(result),
		)
		return nil
	}

	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return nil
	}
	if err := Validate(course); err != nil {
		slog.Warn("skipping inconsistent course", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	if _, dup := l.courses[course.ID]; dup {
		slog.Warn("duplicate course id, later file wins", "course_id", course.ID, "path", path)
	}
	l.courses[course.ID] = course
	l.mu.Unlock()

	return nil
}

func schemaErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the cross-references a schema cannot express: unique IDs,
// prerequisites and owning units that exist, and an acyclic prerequisite graph.
func Validate(c Course) error {
	if c.ID == "" {
		return fmt.Errorf("course id is required")
	}

	units := make(map[string]Unit, len(c.Units))
	for _, u := range c.Units {
		if u.ID == "" {
			return fmt.Errorf("course %s: unit id is required", c.ID)
		}
		if _, dup := units[u.ID]; dup {
			return fmt.Errorf("course %s: duplicate unit %s", c.ID, u.ID)
		}
		units[u.ID] = u
	}

	for _, u := range c.Units {
		for _, p := range u.Prerequisites {
			if p == u.ID {
				return fmt.Errorf("course %s: unit %s lists itself as a prerequisite", c.ID, u.ID)
			}
			if _, ok := units[p]; !ok {
				return fmt.Errorf("course %s: unit %s has unknown prerequisite %s", c.ID, u.ID, p)
			}
		}
	}
	if cycle := findCycle(c.Units); cycle != "" {
		return fmt.Errorf("course %s: prerequisite cycle through unit %s", c.ID, cycle)
	}

	quizzes := make(map[string]bool, len(c.Quizzes))
	for _, q := range c.Quizzes {
		if quizzes[q.ID] {
			return fmt.Errorf("course %s: duplicate quiz %s", c.ID, q.ID)
		}
		quizzes[q.ID] = true
		if _, ok := units[q.UnitID]; !ok {
			return fmt.Errorf("course %s: quiz %s belongs to unknown unit %s", c.ID, q.ID, q.UnitID)
		}
	}

	assignments := make(map[string]bool, len(c.Assignments))
	for _, a := range c.Assignments {
		if assignments[a.ID] {
			return fmt.Errorf("course %s: duplicate assignment %s", c.ID, a.ID)
		}
		assignments[a.ID] = true
		if _, ok := units[a.UnitID]; !ok {
			return fmt.Errorf("course %s: assignment %s belongs to unknown unit %s", c.ID, a.ID, a.UnitID)
		}
	}

	return nil
}

// findCycle returns the ID of a unit on a prerequisite cycle, or "".
func findCycle(units []Unit) string {
	const (
		unvisited = iota
		visiting
		done
	)
	edges := make(map[string][]string, len(units))
	for _, u := range units {
		edges[u.ID] = u.Prerequisites
	}

	state := make(map[string]int, len(units))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, p := range edges[id] {
			if c := visit(p); c != "" {
				return c
			}
		}
		state[id] = done
		return ""
	}

	for _, u := range units {
		if c := visit(u.ID); c != "" {
			return c
		}
	}
	return ""
}
