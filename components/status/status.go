// components/status/status.go
//
// Status component – liveness and a request echo for field debugging.
//
//	GET /healthz      200 when the database answers a ping, else 503
//	GET /api/whoami   acting account and the request info read plugins see
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/component"
	"github.com/yanizio/piliskor/internal/requestinfo"
)

// compile-time assertion
var _ component.Component = (*Comp)(nil)

// Comp implements component.Component.
type Comp struct {
	db *sqlx.DB
}

func (c *Comp) Name() string         { return "status" }
func (c *Comp) Migrations() []string { return nil }

func (c *Comp) Init(h component.Host) error {
	c.db = h.DB()
	return nil
}

func (c *Comp) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if c.db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := c.db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/whoami", func(w http.ResponseWriter, r *http.Request) {
		acct, _ := auth.FromContext(r.Context())
		ri := requestinfo.FromContext(r.Context())
		out := map[string]any{
			"account": acct.ID,
			"roles":   acct.Roles,
			"ip":      ri.ClientIP(),
			"device":  ri.DeviceClass(),
		}
		if ri != nil {
			out["browser"] = ri.UA.Browser
			out["os"] = ri.UA.OS
			out["country"] = ri.Geo.CountryISO
			out["bot"] = ri.UA.IsBot
		}
		writeJSON(w, http.StatusOK, out)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Register component at package init.
func init() {
	component.Register(&Comp{})
}
