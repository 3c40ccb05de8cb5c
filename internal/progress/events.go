package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types emitted after a successful write.
const (
	EventRecordCreated     = "record_created"
	EventUnitUpdated       = "unit_updated"
	EventQuizScored        = "quiz_scored"
	EventAssignmentGraded  = "assignment_graded"
	EventCertificateIssued = "certificate_issued"
)

// Event is an audit entry for a change to a progress record.
type Event struct {
	LearnerID string
	CourseID  string
	EventType string
	Data      map[string]any
	CreatedAt time.Time
}

// EventLogger records progress events. Callers treat failures as non-fatal.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// check verifies the fields every persisted event needs and stamps CreatedAt.
func (e *Event) check() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.LearnerID == "" || e.CourseID == "" {
		return fmt.Errorf("learner_id and course_id are required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return nil
}

func (e Event) payload() (string, error) {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}
	return string(b), nil
}

// NopEventLogger discards events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error { return nil }

// MemoryEventLogger keeps events in order; used by tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{events: []Event{}}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	if err := event.check(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of everything logged so far.
func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger appends events to the progress_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if err := event.check(); err != nil {
		return err
	}
	data, err := event.payload()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO progress_events (learner_id, course_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.LearnerID, event.CourseID, event.EventType, data, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged", "type", event.EventType, "learner_id", event.LearnerID, "course_id", event.CourseID)
	return nil
}

// SQLiteEventLogger appends events to the embedded database's
// progress_events table. created_at is stored as Unix milliseconds.
type SQLiteEventLogger struct {
	db *sql.DB
}

func NewSQLiteEventLogger(db *sql.DB) *SQLiteEventLogger {
	return &SQLiteEventLogger{db: db}
}

func (l *SQLiteEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("event logger db is nil")
	}
	if err := event.check(); err != nil {
		return err
	}
	data, err := event.payload()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO progress_events (learner_id, course_id, event_type, data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.LearnerID, event.CourseID, event.EventType, data, event.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged", "type", event.EventType, "learner_id", event.LearnerID, "course_id", event.CourseID)
	return nil
}
