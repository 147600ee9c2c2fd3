package acl

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/yanizio/piliskor/internal/auth"
)

func TestAttach_LoadsAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(rolesSQL)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("runner"))
	mock.ExpectQuery(`SELECT DISTINCT ra.component, ra.action`).
		WithArgs("runner").
		WillReturnRows(sqlmock.NewRows([]string{"component", "action"}).AddRow("piliskor_qr.gps", "read"))

	var got auth.Account
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(AccountHeader, "5")
	rr := httptest.NewRecorder()
	Attach(db)(RequireUser(next)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got.ID != 5 || !got.Can("piliskor_qr.gps", "read") {
		t.Fatalf("unexpected account: %+v", got)
	}
}

func TestAttach_AnonymousRejectedByRequireUser(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rr := httptest.NewRecorder()
	Attach(db)(RequireUser(http.NotFoundHandler())).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestAttach_BadHeader(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(AccountHeader, "abc")
	rr := httptest.NewRecorder()
	Attach(db)(http.NotFoundHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
