package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/execd/internal/events"
	"github.com/fyrsmithlabs/execd/internal/jobs"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_specs (
    job_id          TEXT PRIMARY KEY,
    idempotency_key TEXT UNIQUE,
    spec            TEXT NOT NULL,
    created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_status (
    job_id     TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    progress   INTEGER NOT NULL DEFAULT 0,
    result     TEXT,
    error      TEXT,
    metadata   TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_events (
    job_id     TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    title      TEXT,
    message    TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (job_id, seq)
);
`

// Compile-time interface satisfaction checks.
var (
	_ Store            = (*SQLiteStore)(nil)
	_ jobs.StatusStore = (*SQLiteStore)(nil)
	_ events.Log       = (*SQLiteStore)(nil)
)

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSpec records a job spec verbatim. Specs are immutable.
func (s *SQLiteStore) SaveSpec(ctx context.Context, jobID string, spec jobs.JobSpec) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_specs (job_id, spec, created_at) VALUES (?, ?, ?)`,
		jobID, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert spec: %w", err)
	}
	return nil
}

// CreateOrGetJob records a spec under an idempotency key. When the key is
// new the spec is inserted as jobID and (jobID, true) is returned. When the
// key was seen before, the insert is a no-op and the originally assigned job
// id is returned with created=false.
func (s *SQLiteStore) CreateOrGetJob(ctx context.Context, idempotencyKey, jobID string, spec jobs.JobSpec) (string, bool, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return "", false, fmt.Errorf("encode spec: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_specs (job_id, idempotency_key, spec, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		jobID, idempotencyKey, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return "", false, fmt.Errorf("insert spec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert spec: %w", err)
	}
	if affected > 0 {
		return jobID, true, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT job_id FROM job_specs WHERE idempotency_key = ?`, idempotencyKey,
	).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("query existing job: %w", err)
	}
	return existing, false, nil
}

// LoadSpec returns the persisted spec for jobID.
func (s *SQLiteStore) LoadSpec(ctx context.Context, jobID string) (jobs.JobSpec, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT spec FROM job_specs WHERE job_id = ?`, jobID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.JobSpec{}, jobs.ErrStatusNotFound
	}
	if err != nil {
		return jobs.JobSpec{}, fmt.Errorf("query spec: %w", err)
	}

	var spec jobs.JobSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return jobs.JobSpec{}, fmt.Errorf("decode spec: %w", err)
	}
	return spec, nil
}

// LoadStatus returns the status for jobID, or jobs.ErrStatusNotFound.
func (s *SQLiteStore) LoadStatus(ctx context.Context, jobID string) (*jobs.JobStatus, error) {
	var (
		status   jobs.JobStatus
		state    string
		result   sql.NullString
		errMsg   sql.NullString
		metadata sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, progress, result, error, metadata, created_at, updated_at
		 FROM job_status WHERE job_id = ?`, jobID,
	).Scan(&state, &status.Progress, &result, &errMsg, &metadata, &status.CreatedAt, &status.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}

	status.ID = jobID
	status.State = jobs.State(state)
	status.Error = errMsg.String
	if result.Valid && result.String != "" {
		var payload any
		if err := json.Unmarshal([]byte(result.String), &payload); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		status.Result = payload
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &status.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &status, nil
}

// UpdateStatus replaces the status record for jobID.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, jobID string, status *jobs.JobStatus) error {
	var result sql.NullString
	if status.Result != nil {
		raw, err := json.Marshal(status.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
	}
	var metadata sql.NullString
	if len(status.Metadata) > 0 {
		raw, err := json.Marshal(status.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_status (job_id, state, progress, result, error, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		     state = excluded.state,
		     progress = excluded.progress,
		     result = excluded.result,
		     error = excluded.error,
		     metadata = excluded.metadata,
		     updated_at = excluded.updated_at`,
		jobID, string(status.State), status.Progress, result,
		sql.NullString{String: status.Error, Valid: status.Error != ""},
		metadata, status.CreatedAt, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

// AppendEvent persists one output event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event events.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (job_id, seq, kind, title, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.JobID, event.Seq, event.Kind,
		sql.NullString{String: event.Title, Valid: event.Title != ""},
		event.Message, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// LastEventSeq returns the highest persisted sequence for jobID, or 0.
func (s *SQLiteStore) LastEventSeq(ctx context.Context, jobID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM job_events WHERE job_id = ?`, jobID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// ListEvents returns events with seq > since in sequence order.
func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string, since int64) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, title, message, created_at
		 FROM job_events WHERE job_id = ? AND seq > ? ORDER BY seq`,
		jobID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev    events.Event
			title sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &ev.Kind, &title, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.JobID = jobID
		ev.Title = title.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
