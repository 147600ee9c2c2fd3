// internal/lock/mysql.go
//
// MySQL / MariaDB backend built on user-level named locks.
//
// Context
// -------
// GET_LOCK belongs to a *session*, so each acquisition pins one connection
// out of the lock pool until Release hands it back.  Return values:
//
//	GET_LOCK(name, secs)  1 acquired, 0 timed out, NULL error
//	RELEASE_LOCK(name)    1 released, 0 held by another session, NULL unknown
//
// If the process dies, or the driver drops the connection because ctx was
// cancelled mid-wait, the server ends the session and frees the lock.
//
// Notes
// -----
// • timeout covers the wait for a pooled connection as well as the wait on
//   the server; GET_LOCK only gets what is left of it.
// • GET_LOCK takes whole seconds; sub-second remainders round up to 1 s.
// • Lock names are limited to 64 characters by the server.

package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conner is satisfied by *sql.DB and *sqlx.DB.
type Conner interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// MySQL implements Service with GET_LOCK / RELEASE_LOCK.
type MySQL struct {
	db Conner
}

// NewMySQL returns a backend that pins connections from db.
func NewMySQL(db Conner) *MySQL { return &MySQL{db: db} }

var _ Service = (*MySQL)(nil)

// Acquire blocks for up to timeout, pool wait included.
func (m *MySQL) Acquire(ctx context.Context, name string, timeout time.Duration) (*Token, error) {
	deadline := time.Now().Add(timeout)
	connCtx, cancel := context.WithDeadline(ctx, deadline)
	conn, err := m.db.Conn(connCtx)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("lock: pin connection: %w", err)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		_ = conn.Close()
		return nil, ErrTimeout
	}

	var got sql.NullInt64
	err = conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, seconds(remaining)).Scan(&got)
	switch {
	case err != nil:
		discard(conn)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("lock: GET_LOCK(%q): %w", name, err)
	case !got.Valid:
		_ = conn.Close()
		return nil, fmt.Errorf("lock: GET_LOCK(%q) returned NULL", name)
	case got.Int64 == 0:
		_ = conn.Close()
		return nil, ErrTimeout
	}

	tok := &Token{Name: name, ID: uuid.NewString(), AcquiredAt: time.Now()}
	tok.release = func(ctx context.Context) error { return releaseConn(ctx, conn, name) }
	return tok, nil
}

// Release frees the named lock and returns the connection to the pool.
func (m *MySQL) Release(ctx context.Context, t *Token) error {
	return release(ctx, t)
}

func releaseConn(ctx context.Context, conn *sql.Conn, name string) error {
	var res sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT RELEASE_LOCK(?)`, name).Scan(&res); err != nil {
		// The session may still own the lock; never pool it again.
		discard(conn)
		return fmt.Errorf("lock: RELEASE_LOCK(%q): %w", name, err)
	}
	_ = conn.Close()
	if !res.Valid || res.Int64 != 1 {
		return ErrNotHeld
	}
	return nil
}

// discard closes the underlying driver connection instead of pooling it.
func discard(conn *sql.Conn) {
	err := conn.Raw(func(any) error { return driver.ErrBadConn })
	if err != nil && !errors.Is(err, driver.ErrBadConn) {
		zap.L().Warn("lock: discard connection", zap.Error(err))
	}
	_ = conn.Close()
}

func seconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
