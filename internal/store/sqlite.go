package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	status              TEXT NOT NULL,
	source_url          TEXT NOT NULL DEFAULT '',
	source_file_id      TEXT NOT NULL DEFAULT '',
	source_access_token TEXT NOT NULL DEFAULT '',
	model               TEXT NOT NULL DEFAULT '',
	cached_source_text  TEXT NOT NULL DEFAULT '',
	accumulated_output  TEXT NOT NULL DEFAULT '',
	error_message       TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);
`

// SQLiteStore persists jobs in an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB

	// now is swappable for tests.
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the jobs table exists. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between the worker and the API surface.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, source_url, source_file_id, source_access_token,
			model, cached_source_text, accumulated_output, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.Source.URL, job.Source.FileID, job.Source.AccessToken,
		job.Model, job.CachedSourceText, job.AccumulatedOutput, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, source_url, source_file_id, source_access_token,
			model, cached_source_text, accumulated_output, error_message, created_at, updated_at
		FROM jobs WHERE id = ?`, id)

	var j Job
	var status string
	err := row.Scan(&j.ID, &status, &j.Source.URL, &j.Source.FileID, &j.Source.AccessToken,
		&j.Model, &j.CachedSourceText, &j.AccumulatedOutput, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	j.Status = Status(status)
	return &j, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, upd Update) (*Job, error) {
	return s.update(ctx, id, nil, upd)
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, expect Status, upd Update) (*Job, error) {
	return s.update(ctx, id, &expect, upd)
}

func (s *SQLiteStore) update(ctx context.Context, id string, expect *Status, upd Update) (*Job, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.now().UTC()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Source != nil {
		sets = append(sets, "source_url = ?", "source_file_id = ?", "source_access_token = ?")
		args = append(args, upd.Source.URL, upd.Source.FileID, upd.Source.AccessToken)
	}
	if upd.CachedSourceText != nil {
		sets = append(sets, "cached_source_text = ?")
		args = append(args, *upd.CachedSourceText)
	}
	if upd.AccumulatedOutput != nil {
		sets = append(sets, "accumulated_output = ?")
		args = append(args, *upd.AccumulatedOutput)
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if expect != nil {
		query += " AND status = ?"
		args = append(args, string(*expect))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		// Either the job is missing or the status guard failed;
		// distinguish for the caller.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}

	return s.Get(ctx, id)
}

// Verify interface
var _ Store = (*SQLiteStore)(nil)
