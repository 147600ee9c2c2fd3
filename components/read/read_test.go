package read

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/component"
	"github.com/yanizio/piliskor/internal/dispatch"
	"github.com/yanizio/piliskor/internal/lock"
	"github.com/yanizio/piliskor/internal/metrics"
	"github.com/yanizio/piliskor/internal/reader"
	"github.com/yanizio/piliskor/internal/run"
	"github.com/yanizio/piliskor/internal/run/runtest"
	"github.com/yanizio/piliskor/plugins/qr"
)

type host struct {
	runs run.Repository
	disp *dispatch.Dispatcher
}

func (h host) DB() *sqlx.DB                     { return nil }
func (h host) Runs() run.Repository             { return h.runs }
func (h host) Dispatcher() *dispatch.Dispatcher { return h.disp }

type env struct {
	router http.Handler
	repo   *runtest.Memory
	locks  *lock.Memory
}

var (
	runner   = auth.NewAccount(5, []string{"runner"}, auth.Permission{Component: "piliskor_qr.qr", Action: "read"})
	stranger = auth.NewAccount(6, []string{"runner"}, auth.Permission{Component: "piliskor_qr.qr", Action: "read"})
	nobody   = auth.NewAccount(7, nil)
)

func newEnv(t *testing.T, acct *auth.Account) *env {
	t.Helper()
	repo := runtest.NewMemory()
	repo.AddRun(run.Run{ID: 1, RunnerID: 5, CourseID: 10})
	repo.AddCheckpoints(
		run.Checkpoint{ID: 1, CourseID: 10, Code: "START", Name: "Start", Sequence: 1},
		run.Checkpoint{ID: 2, CourseID: 10, Code: "FINISH", Name: "Finish", Sequence: 2},
	)
	locks := lock.NewMemory()
	res := reader.NewStaticResolver(reader.Deps{Runs: repo}, map[string]reader.Factory{qr.ID: qr.New})
	disp := dispatch.New(res, locks, dispatch.Config{LockTimeout: 40 * time.Millisecond})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if acct != nil {
				req = req.WithContext(auth.WithAccount(req.Context(), *acct))
			}
			next.ServeHTTP(w, req)
		})
	})
	require.NoError(t, component.Mount(r, host{runs: repo, disp: disp}, []component.Component{&Component{}}))
	return &env{router: r, repo: repo, locks: locks}
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAccessEndpoint(t *testing.T) {
	e := newEnv(t, &runner)
	rec := e.do(http.MethodGet, "/run/1/read/qr/access", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["allowed"])

	e = newEnv(t, &nobody)
	rec = e.do(http.MethodGet, "/run/1/read/qr/access", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["allowed"])

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/run/1/read/nfc/access", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/run/1/read/qr.x/access", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/run/99/read/qr/access", "").Code)
}

func TestReadEndpoint(t *testing.T) {
	e := newEnv(t, &runner)

	rec := e.do(http.MethodPost, "/run/1/read/qr", `{"code":"START"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "recorded", body["outcome"])
	assert.Equal(t, "running", body["run_state"])

	rec = e.do(http.MethodPost, "/run/1/read/qr", `{"code":"START"}`)
	assert.Equal(t, "duplicate", decode(t, rec)["outcome"])
	assert.Len(t, e.repo.Reads(), 1)

	rec = e.do(http.MethodGet, "/run/1/reads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["reads"], 1)
}

func TestReadEndpoint_Errors(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/run/1/read/qr", `{"code":"START"}`).Code)

	e = newEnv(t, &nobody)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/run/1/read/qr", `{"code":"START"}`).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/run/1/reads", "").Code)

	e = newEnv(t, &stranger)
	rec := e.do(http.MethodPost, "/run/1/read/qr", `{"code":"START"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", decode(t, rec)["outcome"])

	e = newEnv(t, &runner)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/run/1/read/nfc", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/run/x/read/qr", `{}`).Code)
}

func TestReadEndpoint_LockBusy(t *testing.T) {
	e := newEnv(t, &runner)
	tok, err := e.locks.Acquire(context.Background(), dispatch.DefaultLockName, time.Second)
	require.NoError(t, err)
	defer func() { _ = e.locks.Release(context.Background(), tok) }()

	rec := e.do(http.MethodPost, "/run/1/read/qr", `{"code":"START"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Empty(t, e.repo.Reads())

	// Access checks are unaffected by the held lock.
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/run/1/read/qr/access", "").Code)
}

func TestReadEndpoint_DeniedIsCounted(t *testing.T) {
	denied := metrics.DispatchTotal.WithLabelValues("qr", metrics.OutcomeDenied)
	before := testutil.ToFloat64(denied)

	e := newEnv(t, &nobody)
	rec := e.do(http.MethodPost, "/run/1/read/qr", `{"code":"START"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(denied))
	assert.Empty(t, e.repo.Reads())
}

func TestReadEndpoint_RetryAfterOnlyWhenRetryable(t *testing.T) {
	e := newEnv(t, &runner)
	rec := e.do(http.MethodPost, "/run/1/read/nfc", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	tok, err := e.locks.Acquire(context.Background(), dispatch.DefaultLockName, time.Second)
	require.NoError(t, err)
	defer func() { _ = e.locks.Release(context.Background(), tok) }()

	// The client goes away before the 40ms lock timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/run/1/read/qr", strings.NewReader(`{"code":"START"}`)).WithContext(ctx)
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestPluginsEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(http.MethodGet, "/plugins", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["plugins"], "qr")
}

func TestMigrations_CreateRunAndRBACTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"run", "checkpoint", "run_read", "role", "role_acl", "user_role"} {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ` + table + ` \(`).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, component.Migrate(context.Background(), sqlx.NewDb(db, "mysql"),
		[]component.Component{&Component{}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
