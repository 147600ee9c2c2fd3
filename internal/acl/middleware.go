// internal/acl/middleware.go
//
// Chi middleware that attaches the acting account and requires a user.
//
// Session resolution is owned by the platform in front of this service.
// It forwards the authenticated user id in the X-Account-ID header; the
// middleware below trusts that header and loads roles and permissions.

package acl

import (
	"database/sql"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/yanizio/piliskor/internal/auth"
)

// AccountHeader carries the authenticated user id.
const AccountHeader = "X-Account-ID"

// Attach loads the account named by AccountHeader and stores it on the
// request context.  Requests without the header continue as anonymous.
func Attach(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(AccountHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			uid, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || uid <= 0 {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}

			acct, err := LoadAccount(r.Context(), db, uid)
			if err != nil {
				zap.L().Error("acl load account", zap.Int64("user", uid), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAccount(r.Context(), acct)))
		})
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserID(r.Context()); !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
