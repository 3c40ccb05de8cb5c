package database

const postgresSchema = `
CREATE TABLE IF NOT EXISTS progress_records (
    learner_id       TEXT        NOT NULL,
    course_id        TEXT        NOT NULL,
    revision         BIGINT      NOT NULL,
    status           TEXT        NOT NULL,
    overall_progress INTEGER     NOT NULL,
    last_accessed_at TIMESTAMPTZ NOT NULL,
    document         JSONB       NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (learner_id, course_id)
);

CREATE INDEX IF NOT EXISTS idx_progress_records_course_status
    ON progress_records (course_id, status);

CREATE TABLE IF NOT EXISTS progress_events (
    id         BIGSERIAL   PRIMARY KEY,
    learner_id TEXT        NOT NULL,
    course_id  TEXT        NOT NULL,
    event_type TEXT        NOT NULL,
    data       JSONB       NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_progress_events_record
    ON progress_events (learner_id, course_id, created_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS progress_records (
    learner_id       TEXT    NOT NULL,
    course_id        TEXT    NOT NULL,
    revision         INTEGER NOT NULL,
    status           TEXT    NOT NULL,
    overall_progress INTEGER NOT NULL,
    document         TEXT    NOT NULL,
    updated_at       INTEGER NOT NULL,
    PRIMARY KEY (learner_id, course_id)
);

CREATE TABLE IF NOT EXISTS progress_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    learner_id TEXT    NOT NULL,
    course_id  TEXT    NOT NULL,
    event_type TEXT    NOT NULL,
    data       TEXT    NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_progress_events_record
    ON progress_events (learner_id, course_id, created_at);
`
