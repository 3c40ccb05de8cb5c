package catalog

import "sort"

// UnitType classifies a unit's content.
type UnitType string

const (
	UnitVideo      UnitType = "video"
	UnitReading    UnitType = "reading"
	UnitQuiz       UnitType = "quiz"
	UnitAssignment UnitType = "assignment"
)

// Course is the read-only view of one course and its ordered units.
type Course struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	Units       []Unit       `yaml:"units"`
	Quizzes     []Quiz       `yaml:"quizzes"`
	Assignments []Assignment `yaml:"assignments"`
}

// Unit is one addressable piece of course content.
type Unit struct {
	ID            string   `yaml:"id"`
	Title         string   `yaml:"title"`
	Description   string   `yaml:"description"`
	Type          UnitType `yaml:"type"`
	Position      int      `yaml:"position"`
	Required      bool     `yaml:"required"`
	Duration      int      `yaml:"duration"` // minutes
	Prerequisites []string `yaml:"prerequisites"`
}

// Quiz belongs to a unit of type quiz.
type Quiz struct {
	ID           string     `yaml:"id"`
	UnitID       string     `yaml:"unit_id"`
	PassingScore int        `yaml:"passing_score"`
	Questions    []Question `yaml:"questions"`
}

// Question is a single quiz question with its point value.
type Question struct {
	ID     string `yaml:"id"`
	Text   string `yaml:"text"`
	Points int    `yaml:"points"`
}

// Assignment belongs to a unit of type assignment.
type Assignment struct {
	ID             string `yaml:"id"`
	UnitID         string `yaml:"unit_id"`
	Title          string `yaml:"title"`
	Points         int    `yaml:"points"`
	SubmissionType string `yaml:"submission_type"` // file, text or link
}

// Unit returns the unit with the given ID.
func (c Course) Unit(id string) (Unit, bool) {
	for _, u := range c.Units {
		if u.ID == id {
			return u, true
		}
	}
	return Unit{}, false
}

// Quiz returns the quiz with the given ID.
func (c Course) Quiz(id string) (Quiz, bool) {
	for _, q := range c.Quizzes {
		if q.ID == id {
			return q, true
		}
	}
	return Quiz{}, false
}

// Assignment returns the assignment with the given ID.
func (c Course) Assignment(id string) (Assignment, bool) {
	for _, a := range c.Assignments {
		if a.ID == id {
			return a, true
		}
	}
	return Assignment{}, false
}

// RequiredUnits returns the units that count toward overall progress.
func (c Course) RequiredUnits() []Unit {
	var required []Unit
	for _, u := range c.Units {
		if u.Required {
			required = append(required, u)
		}
	}
	return required
}

// OrderedUnits returns a copy of the units sorted by position, then ID.
func (c Course) OrderedUnits() []Unit {
	units := append([]Unit(nil), c.Units...)
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Position != units[j].Position {
			return units[i].Position < units[j].Position
		}
		return units[i].ID < units[j].ID
	})
	return units
}
