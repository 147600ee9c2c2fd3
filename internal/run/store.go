// internal/run/store.go
//
// sqlx repository for runs, checkpoints, and reads.
//
// Context
// -------
// Read plugins call these helpers from inside the global read lock, so
// every query takes the caller's context and nothing here caches.  The one
// write path, RecordRead, inserts the read and advances the run state in a
// single transaction.
//
// Notes
// -----
// • ErrNotFound wraps sql.ErrNoRows for single-row lookups.
// • Oxford commas, two spaces after periods.

package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("run: not found")

// Repository is what read plugins and HTTP handlers depend on.
type Repository interface {
	RunByID(ctx context.Context, id int64) (*Run, error)
	CheckpointsByCourse(ctx context.Context, courseID int64) ([]Checkpoint, error)
	CheckpointByCode(ctx context.Context, courseID int64, code string) (*Checkpoint, error)
	ReadsByRun(ctx context.Context, runID int64) ([]Read, error)
	LastRead(ctx context.Context, runID int64) (*Read, error)
	RecordRead(ctx context.Context, rd *Read, next State) error
}

// Store implements Repository on MySQL.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

var _ Repository = (*Store)(nil)

const runCols = `id, order_item_id, runner_id, course_id, state, started_at, finished_at`

// RunByID fetches one run.
func (s *Store) RunByID(ctx context.Context, id int64) (*Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `SELECT `+runCols+` FROM run WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// CheckpointsByCourse lists a course in sequence order.
func (s *Store) CheckpointsByCourse(ctx context.Context, courseID int64) ([]Checkpoint, error) {
	const q = `
	    SELECT id, course_id, code, name, lat, lng, radius_m, sequence
	    FROM   checkpoint
	    WHERE  course_id = ?
	    ORDER  BY sequence`
	out := make([]Checkpoint, 0, 16)
	if err := s.db.SelectContext(ctx, &out, q, courseID); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckpointByCode resolves a scanned QR code within one course.
func (s *Store) CheckpointByCode(ctx context.Context, courseID int64, code string) (*Checkpoint, error) {
	const q = `
	    SELECT id, course_id, code, name, lat, lng, radius_m, sequence
	    FROM   checkpoint
	    WHERE  course_id = ? AND code = ?
	    LIMIT  1`
	var c Checkpoint
	if err := s.db.GetContext(ctx, &c, q, courseID, code); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

const readCols = `id, run_id, checkpoint_id, plugin, lat, lng, client_ip, device, created_at`

// ReadsByRun lists reads oldest first.
func (s *Store) ReadsByRun(ctx context.Context, runID int64) ([]Read, error) {
	out := make([]Read, 0, 16)
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+readCols+` FROM run_read WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastRead returns the newest read, or ErrNotFound for an unread run.
func (s *Store) LastRead(ctx context.Context, runID int64) (*Read, error) {
	var rd Read
	err := s.db.GetContext(ctx, &rd,
		`SELECT `+readCols+` FROM run_read WHERE run_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, runID)
	if err != nil {
		return nil, notFound(err)
	}
	return &rd, nil
}

// RecordRead inserts rd and moves the run to next in one transaction.  rd.ID
// and rd.CreatedAt are filled on success.
func (s *Store) RecordRead(ctx context.Context, rd *Read, next State) error {
	if rd.CreatedAt.IsZero() {
		rd.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, `
	    INSERT INTO run_read (run_id, checkpoint_id, plugin, lat, lng, client_ip, device, created_at)
	    VALUES (:run_id, :checkpoint_id, :plugin, :lat, :lng, :client_ip, :device, :created_at)`, rd)
	if err != nil {
		return fmt.Errorf("insert read: %w", err)
	}
	if rd.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	switch next {
	case StateRunning:
		_, err = tx.ExecContext(ctx, `
		    UPDATE run SET state = ?, started_at = COALESCE(started_at, ?)
		    WHERE  id = ? AND state = ?`, StateRunning, rd.CreatedAt, rd.RunID, StatePending)
	case StateFinished:
		_, err = tx.ExecContext(ctx, `
		    UPDATE run SET state = ?, started_at = COALESCE(started_at, ?), finished_at = ?
		    WHERE  id = ? AND state <> ?`, StateFinished, rd.CreatedAt, rd.CreatedAt, rd.RunID, StateFinished)
	}
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
