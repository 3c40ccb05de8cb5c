package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore is a Store over an SQLite database opened with
// database.OpenSQLite. Records are stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates an SQLite-backed progress store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var revision int64
	var document string
	err := s.db.QueryRowContext(ctx, `
		SELECT revision, document
		FROM progress_records WHERE learner_id = ? AND course_id = ?
	`, key.LearnerID, key.CourseID).Scan(&revision, &document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
		}
		return nil, fmt.Errorf("get progress record: %w", err)
	}

	return decodeRecord([]byte(document), revision)
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	next := rec.Clone()
	next.Revision = rec.Revision + 1
	document, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal progress record: %w", err)
	}
	now := time.Now().UnixMilli()

	var res sql.Result
	if rec.Revision == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO progress_records (learner_id, course_id, revision, status, overall_progress, document, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (learner_id, course_id) DO NOTHING
		`, next.LearnerID, next.CourseID, next.Revision, string(next.Status), next.OverallProgress, string(document), now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE progress_records
			SET revision = ?, status = ?, overall_progress = ?, document = ?, updated_at = ?
			WHERE learner_id = ? AND course_id = ? AND revision = ?
		`, next.Revision, string(next.Status), next.OverallProgress, string(document), now,
			next.LearnerID, next.CourseID, rec.Revision)
	}
	if err != nil {
		return nil, fmt.Errorf("write progress record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("write progress record: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s at revision %d", ErrConflict, rec.Key(), rec.Revision)
	}
	return next, nil
}
