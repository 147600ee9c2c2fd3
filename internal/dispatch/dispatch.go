// internal/dispatch/dispatch.go
//
// Guarded dispatcher for checkpoint reads.
//
// Context
// -------
// A read request names its plugin through the route (`piliskor_qr.<id>.read`).
// The Dispatcher resolves a fresh Handler for that plugin and either asks it
// for permission (Access) or lets it build the response (Dispatch).  Only
// Dispatch writes, and it does so inside one process-wide named lock shared
// by every plugin and every run, so at most one read is being created
// anywhere at any moment.
//
// Flow
// ----
//
//	Access:   resolve → handler.Access("read", acct)
//	Dispatch: resolve → acquire(name, timeout) → CreateResponse → release
//
// Notes
// -----
// • Access never touches the lock service.
// • The lock is released on success, error, and panic, with a context that
//   outlives request cancellation.  A release error is logged and counted,
//   never returned in place of the handler result.
// • The dispatcher does not inspect run state.  Duplicate detection is the
//   handler's job; the lock only makes it race-free.
// • Oxford commas, two spaces after periods.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/lock"
	"github.com/yanizio/piliskor/internal/metrics"
	"github.com/yanizio/piliskor/internal/reader"
	"github.com/yanizio/piliskor/internal/run"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultLockName    = "piliskor"
	DefaultLockTimeout = 15 * time.Second
)

// Config tunes the critical section.
type Config struct {
	LockName    string
	LockTimeout time.Duration
}

// Resolver is satisfied by *reader.Resolver.
type Resolver interface {
	Resolve(route reader.RouteContext) (reader.Handler, string, error)
}

// Dispatcher routes read requests to plugins.
type Dispatcher struct {
	res   Resolver
	locks lock.Service
	cfg   Config
	log   *zap.Logger
}

// New wires a Dispatcher.  Zero Config fields take the defaults.
func New(res Resolver, locks lock.Service, cfg Config) *Dispatcher {
	if cfg.LockName == "" {
		cfg.LockName = DefaultLockName
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	return &Dispatcher{res: res, locks: locks, cfg: cfg, log: zap.L().Named("dispatch")}
}

// Config returns the effective settings.
func (d *Dispatcher) Config() Config { return d.cfg }

// Access reports whether acct may read through the route's plugin.  Denial
// is false with a nil error.  Errors are reserved for malformed routes and
// unknown plugins.
func (d *Dispatcher) Access(route reader.RouteContext, acct auth.Account) (bool, error) {
	h, id, err := d.res.Resolve(route)
	if err != nil {
		return false, err
	}
	ok := h.Access(reader.ActionRead, acct)
	metrics.AccessChecksTotal.WithLabelValues(id, fmt.Sprint(ok)).Inc()
	return ok, nil
}

// Dispatch builds the plugin response while holding the read lock.
// Handler errors are returned unchanged after the lock is released.
func (d *Dispatcher) Dispatch(ctx context.Context, rn *run.Run, acct auth.Account,
	req *http.Request, route reader.RouteContext) (resp *reader.Response, err error) {

	h, id, err := d.res.Resolve(route)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(id, outcome(err)).Inc()
		return nil, err
	}

	waitStart := time.Now()
	tok, err := d.locks.Acquire(ctx, d.cfg.LockName, d.cfg.LockTimeout)
	metrics.LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			metrics.LockTimeoutsTotal.Inc()
			d.log.Warn("read lock timeout",
				zap.String("plugin", id),
				zap.Int64("run", runID(rn)),
				zap.Duration("timeout", d.cfg.LockTimeout))
		}
		metrics.DispatchTotal.WithLabelValues(id, outcome(err)).Inc()
		return nil, err
	}

	returned := false
	defer func() {
		held := tok.Held()
		metrics.CriticalSectionSeconds.WithLabelValues(id).Observe(held.Seconds())
		if rerr := d.locks.Release(context.WithoutCancel(ctx), tok); rerr != nil {
			metrics.LockReleaseErrorsTotal.Inc()
			d.log.Error("read lock release failed",
				zap.String("name", tok.Name),
				zap.String("token", tok.ID),
				zap.Error(rerr))
		}
		label := outcome(err)
		if !returned {
			label = metrics.OutcomeError // handler panicked
		}
		metrics.DispatchTotal.WithLabelValues(id, label).Inc()
		d.log.Debug("read dispatched",
			zap.String("plugin", id),
			zap.Int64("run", runID(rn)),
			zap.Duration("held", held),
			zap.Error(err))
	}()

	resp, err = h.CreateResponse(ctx, rn, acct, req, route)
	returned = true
	return resp, err
}

// HTTPStatus maps a dispatch error to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, reader.ErrMalformedRoute):
		return http.StatusBadRequest
	case errors.Is(err, reader.ErrUnknownPlugin), errors.Is(err, run.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the client should try again later.
func Retryable(err error) bool {
	return HTTPStatus(err) == http.StatusServiceUnavailable
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, reader.ErrMalformedRoute):
		return metrics.OutcomeMalformed
	case errors.Is(err, reader.ErrUnknownPlugin):
		return metrics.OutcomeUnknown
	case errors.Is(err, lock.ErrTimeout):
		return metrics.OutcomeLockTimeout
	default:
		return metrics.OutcomeError
	}
}

func runID(rn *run.Run) int64 {
	if rn == nil {
		return 0
	}
	return rn.ID
}
