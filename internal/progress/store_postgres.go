package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store. The record document lives in a
// JSONB column; status and overall progress are copied out for querying.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var revision int64
	var document []byte
	err := s.pool.QueryRow(ctx,
		`SELECT revision, document
		 FROM progress_records
		 WHERE learner_id = $1 AND course_id = $2`,
		key.LearnerID,
		key.CourseID,
	).Scan(&revision, &document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
		}
		return nil, fmt.Errorf("get progress record: %w", err)
	}

	return decodeRecord(document, revision)
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *Record) (*Record, error) {
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

	var affected int64
	if rec.Revision == 0 {
		cmd, err := s.pool.Exec(ctx,
			`INSERT INTO progress_records
			   (learner_id, course_id, revision, status, overall_progress, last_accessed_at, document)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
			 ON CONFLICT (learner_id, course_id) DO NOTHING`,
			next.LearnerID,
			next.CourseID,
			next.Revision,
			string(next.Status),
			next.OverallProgress,
			next.LastAccessedAt,
			string(document),
		)
		if err != nil {
			return nil, fmt.Errorf("insert progress record: %w", err)
		}
		affected = cmd.RowsAffected()
	} else {
		cmd, err := s.pool.Exec(ctx,
			`UPDATE progress_records
			 SET revision = $4,
			     status = $5,
			     overall_progress = $6,
			     last_accessed_at = $7,
			     document = $8::jsonb,
			     updated_at = NOW()
			 WHERE learner_id = $1 AND course_id = $2 AND revision = $3`,
			next.LearnerID,
			next.CourseID,
			rec.Revision,
			next.Revision,
			string(next.Status),
			next.OverallProgress,
			next.LastAccessedAt,
			string(document),
		)
		if err != nil {
			return nil, fmt.Errorf("update progress record: %w", err)
		}
		affected = cmd.RowsAffected()
	}

	if affected == 0 {
		return nil, fmt.Errorf("%w: %s at revision %d", ErrConflict, rec.Key(), rec.Revision)
	}
	return next, nil
}

func decodeRecord(document []byte, revision int64) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(document, &rec); err != nil {
		return nil, fmt.Errorf("decode progress record: %w", err)
	}
	rec.Revision = revision
	rec.normalize()
	return &rec, nil
}
