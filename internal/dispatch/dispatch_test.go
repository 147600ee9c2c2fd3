package dispatch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/dispatch"
	"github.com/yanizio/piliskor/internal/lock"
	"github.com/yanizio/piliskor/internal/reader"
	"github.com/yanizio/piliskor/internal/run"
	"github.com/yanizio/piliskor/internal/run/runtest"
	"github.com/yanizio/piliskor/plugins/gps"
)

/*──────────────────────────── fakes ────────────────────────────────────────*/

// countingLocks wraps a Service and counts calls.
type countingLocks struct {
	lock.Service
	acquires atomic.Int32
	releases atomic.Int32
}

func (c *countingLocks) Acquire(ctx context.Context, name string, d time.Duration) (*lock.Token, error) {
	c.acquires.Add(1)
	return c.Service.Acquire(ctx, name, d)
}

func (c *countingLocks) Release(ctx context.Context, t *lock.Token) error {
	c.releases.Add(1)
	return c.Service.Release(ctx, t)
}

type interval struct{ start, end time.Time }

// stubHandler records every CreateResponse call.
type stubHandler struct {
	allow  bool
	work   time.Duration
	err    error
	panics bool

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32

	mu        sync.Mutex
	intervals []interval
}

func (p *stubHandler) factory(reader.Deps) reader.Handler { return p }

func (p *stubHandler) Access(action string, _ auth.Account) bool {
	return p.allow && action == reader.ActionRead
}

func (p *stubHandler) CreateResponse(ctx context.Context, _ *run.Run, _ auth.Account,
	_ *http.Request, _ reader.RouteContext) (*reader.Response, error) {

	p.calls.Add(1)
	n := p.active.Add(1)
	for {
		m := p.maxActive.Load()
		if n <= m || p.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	start := time.Now()
	time.Sleep(p.work)
	end := time.Now()
	p.active.Add(-1)

	p.mu.Lock()
	p.intervals = append(p.intervals, interval{start, end})
	p.mu.Unlock()

	if p.panics {
		panic("plugin exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	return &reader.Response{Outcome: reader.OutcomeRecorded}, nil
}

func setup(p *stubHandler, timeout time.Duration) (*dispatch.Dispatcher, *countingLocks) {
	locks := &countingLocks{Service: lock.NewMemory()}
	res := reader.NewStaticResolver(reader.Deps{}, map[string]reader.Factory{"stub": p.factory})
	return dispatch.New(res, locks, dispatch.Config{LockTimeout: timeout}), locks
}

var stubRoute = reader.RouteContext{Name: "piliskor_qr.stub.read"}

/*──────────────────────────── tests ────────────────────────────────────────*/

func TestNew_Defaults(t *testing.T) {
	d := dispatch.New(nil, nil, dispatch.Config{})
	assert.Equal(t, "piliskor", d.Config().LockName)
	assert.Equal(t, 15*time.Second, d.Config().LockTimeout)
}

func TestAccess_NeverTouchesLock(t *testing.T) {
	p := &stubHandler{allow: true}
	d, locks := setup(p, time.Second)

	for i := 0; i < 20; i++ {
		ok, err := d.Access(stubRoute, auth.NewAccount(1, nil))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	p.allow = false
	ok, err := d.Access(stubRoute, auth.NewAccount(1, nil))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Zero(t, locks.acquires.Load())
	assert.Zero(t, locks.releases.Load())
	assert.Zero(t, p.calls.Load())
}

func TestResolveFailures_SkipLockAndHandler(t *testing.T) {
	p := &stubHandler{allow: true}
	d, locks := setup(p, time.Second)

	cases := map[string]error{
		"piliskor_qr":           reader.ErrMalformedRoute,
		"piliskor_qr.stub":      reader.ErrMalformedRoute,
		"piliskor_qr.nope.read": reader.ErrUnknownPlugin,
	}
	for name, want := range cases {
		route := reader.RouteContext{Name: name}
		_, err := d.Access(route, auth.Account{})
		assert.ErrorIs(t, err, want, name)
		_, err = d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, route)
		assert.ErrorIs(t, err, want, name)
	}
	assert.Zero(t, locks.acquires.Load())
	assert.Zero(t, p.calls.Load())
}

func TestDispatch_SerializesCriticalSection(t *testing.T) {
	const n = 12
	p := &stubHandler{work: 3 * time.Millisecond}
	d, locks := setup(p, 5*time.Second)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, stubRoute); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.maxActive.Load())
	assert.Equal(t, int32(n), ok.Load())
	assert.Equal(t, locks.acquires.Load(), locks.releases.Load())

	sort.Slice(p.intervals, func(i, j int) bool { return p.intervals[i].start.Before(p.intervals[j].start) })
	for i := 1; i < len(p.intervals); i++ {
		assert.False(t, p.intervals[i].start.Before(p.intervals[i-1].end), "critical sections overlap")
	}
}

func TestDispatch_HandlerErrorReleasesLock(t *testing.T) {
	boom := errors.New("storage down")
	p := &stubHandler{err: boom}
	d, locks := setup(p, 50*time.Millisecond)

	_, err := d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, stubRoute)
	assert.Same(t, boom, err)
	assert.Equal(t, http.StatusInternalServerError, dispatch.HTTPStatus(err))

	p.err = nil
	resp, err := d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, stubRoute)
	require.NoError(t, err)
	assert.Equal(t, reader.OutcomeRecorded, resp.Outcome)
	assert.Equal(t, int32(2), locks.releases.Load())
}

func TestDispatch_PanicReleasesLock(t *testing.T) {
	p := &stubHandler{panics: true}
	d, _ := setup(p, 50*time.Millisecond)

	assert.Panics(t, func() {
		_, _ = d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, stubRoute)
	})

	p.panics = false
	_, err := d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, stubRoute)
	assert.NoError(t, err)
}

func TestDispatch_TimeoutSkipsHandler(t *testing.T) {
	p := &stubHandler{}
	d, locks := setup(p, 30*time.Millisecond)

	held, err := locks.Service.Acquire(context.Background(), "piliskor", time.Second)
	require.NoError(t, err)
	defer func() { _ = locks.Service.Release(context.Background(), held) }()

	_, err = d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, stubRoute)
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.True(t, dispatch.Retryable(err))
	assert.Equal(t, http.StatusServiceUnavailable, dispatch.HTTPStatus(err))
	assert.Zero(t, p.calls.Load())
	assert.Zero(t, locks.releases.Load())
}

func TestDispatch_CancelWhileWaiting(t *testing.T) {
	p := &stubHandler{}
	d, locks := setup(p, 5*time.Second)

	held, err := locks.Service.Acquire(context.Background(), "piliskor", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Dispatch(ctx, &run.Run{ID: 1}, auth.Account{}, nil, stubRoute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, p.calls.Load())

	require.NoError(t, locks.Service.Release(context.Background(), held))
	_, err = d.Dispatch(context.Background(), &run.Run{ID: 1}, auth.Account{}, nil, stubRoute)
	assert.NoError(t, err)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, dispatch.HTTPStatus(nil))
	assert.Equal(t, http.StatusBadRequest, dispatch.HTTPStatus(reader.ErrMalformedRoute))
	assert.Equal(t, http.StatusNotFound, dispatch.HTTPStatus(reader.ErrUnknownPlugin))
	assert.Equal(t, http.StatusNotFound, dispatch.HTTPStatus(run.ErrNotFound))
	assert.False(t, dispatch.Retryable(reader.ErrUnknownPlugin))
}

// Two simultaneous GPS presses at the same checkpoint.  The repository has
// a gap between the duplicate check and the insert; only the lock keeps the
// second press from writing.
func TestDispatch_GPSDoubleTap(t *testing.T) {
	repo := runtest.NewMemory()
	repo.Delay = 20 * time.Millisecond
	repo.AddRun(run.Run{ID: 1, RunnerID: 5, CourseID: 10})
	repo.AddCheckpoints(
		run.Checkpoint{ID: 1, CourseID: 10, Name: "Chain Bridge", Lat: 47.4990, Lng: 19.0440, RadiusM: 40, Sequence: 1},
		run.Checkpoint{ID: 2, CourseID: 10, Name: "Parliament", Lat: 47.5071, Lng: 19.0456, RadiusM: 40, Sequence: 2},
	)
	res := reader.NewStaticResolver(reader.Deps{Runs: repo}, map[string]reader.Factory{gps.ID: gps.New})
	d := dispatch.New(res, lock.NewMemory(), dispatch.Config{LockTimeout: 5 * time.Second})
	acct := auth.NewAccount(5, nil, auth.Permission{Component: "piliskor_qr.gps", Action: "read"})
	route := reader.RouteContext{Name: reader.RouteName(gps.ID, reader.ActionRead)}

	ok, err := d.Access(route, acct)
	require.NoError(t, err)
	require.True(t, ok)

	outcomes := make(chan reader.Outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/run/1/read/gps",
				strings.NewReader(`{"lat":47.4991,"lng":19.0441}`))
			resp, err := d.Dispatch(context.Background(), &run.Run{ID: 1}, acct, req, route)
			if assert.NoError(t, err) {
				outcomes <- resp.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	var got []string
	for o := range outcomes {
		got = append(got, string(o))
	}
	sort.Strings(got)
	assert.Equal(t, []string{"duplicate", "recorded"}, got)
	assert.Len(t, repo.Reads(), 1)
}
