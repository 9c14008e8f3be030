// Package store keeps the history of crawl passes of a job in a sqlite file
// next to its settings.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const FileName = "_status.db"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Run struct {
	UUID          string
	Started       time.Time
	Finished      *time.Time
	Indexed       int
	Failed        int
	Success       *bool
	FailureReason *string
}

func (r Run) InProgress() bool {
	return r.Finished == nil
}

func (r Run) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, started: %s", r.UUID, r.Started.Format(time.RFC3339))
	if r.Finished != nil {
		fmt.Fprintf(&sb, ", finished: %s", r.Finished.Format(time.RFC3339))
	} else {
		sb.WriteString(", finished: nil")
	}
	fmt.Fprintf(&sb, ", indexed: %d, failed: %d", r.Indexed, r.Failed)
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	if r.FailureReason != nil {
		fmt.Fprintf(&sb, ", failure_reason: %q", *r.FailureReason)
	}
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			started TEXT NOT NULL,
			finished TEXT DEFAULT NULL,
			indexed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			success BOOLEAN DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Store records crawl passes. It implements crawler.Recorder.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database at dbPath unless it exists.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := InitDB(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening run history %s: %w", dbPath, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun persists a new pass in progress and returns its uuid.
func (s *Store) StartRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (uuid, started) VALUES (?,?);`, id, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("executing sql insert failed: %w", err)
	}
	return id, nil
}

// FinishRun stores the result of the pass identified by id. A nil runErr
// marks it successful. ErrNotFound is returned for unknown passes and
// ErrAlreadyFinished when it has already finished.
func (s *Store) FinishRun(ctx context.Context, id string, indexed, failed int, runErr error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, id)

	var finished sql.NullString
	row := tx.QueryRowContext(ctx,
		`SELECT finished FROM runs WHERE uuid=?`, id,
	)
	err = row.Scan(&finished)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	case finished.Valid:
		return ErrAlreadyFinished
	}

	var reason *string
	if runErr != nil {
		r := runErr.Error()
		reason = &r
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs
		 SET
			finished = ?,
			indexed = ?,
			failed = ?,
			success = ?,
			failure_reason = ?
		WHERE uuid = ?;
		`, s.now().UTC().Format(time.RFC3339Nano), indexed, failed, runErr == nil, reason, id,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns the pass identified by id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	return s.scan(s.db.QueryRowContext(ctx, selectRun+` WHERE uuid=?`, id))
}

// LastRun returns the most recently started pass or ErrNotFound.
func (s *Store) LastRun(ctx context.Context) (Run, error) {
	return s.scan(s.db.QueryRowContext(ctx, selectRun+` ORDER BY id DESC LIMIT 1`))
}

const selectRun = `SELECT uuid, started, finished, indexed, failed, success, failure_reason FROM runs`

func (s *Store) scan(row *sql.Row) (Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
		success  sql.NullBool
		reason   sql.NullString
	)
	err := row.Scan(&run.UUID, &started, &finished, &run.Indexed, &run.Failed, &success, &reason)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Run{}, ErrNotFound
	case err != nil:
		return Run{}, fmt.Errorf("executing sql query failed: %w", err)
	}

	run.Started, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parsing started: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("parsing finished: %w", err)
		}
		run.Finished = &t
	}
	if success.Valid {
		run.Success = &success.Bool
	}
	if reason.Valid {
		run.FailureReason = &reason.String
	}
	return run, nil
}

// Delete removes the pass identified by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE uuid=?`, id,
	)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}

	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}
	return nil
}

func rollback(ctx context.Context, tx *sql.Tx, id string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", id))
	}
}
