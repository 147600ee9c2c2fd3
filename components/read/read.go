// components/read/read.go
//
// Read component: the HTTP surface of checkpoint reads.
//
// Routes
// ------
//
//	GET  /plugins                          registered read plugins
//	GET  /run/{run}/read/{plugin}/access   {"allowed": bool}, never locks
//	POST /run/{run}/read/{plugin}          plugin response, under the read lock
//	GET  /run/{run}/reads                  reads recorded so far
//
// Context
// -------
// The route name handed to the dispatcher is `piliskor_qr.<plugin>.read`,
// built from the {plugin} URL segment.  Dispatch errors map to 400 (bad
// route), 404 (unknown plugin or run), 503 with Retry-After (lock busy), and
// 500.  A denied access check is 403.
//
// Notes
// -----
// • The acting account comes from acl.Attach further up the chain.
// • Oxford commas, two spaces after periods.

package read

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/piliskor/internal/acl"
	"github.com/yanizio/piliskor/internal/auth"
	"github.com/yanizio/piliskor/internal/component"
	"github.com/yanizio/piliskor/internal/dispatch"
	"github.com/yanizio/piliskor/internal/metrics"
	"github.com/yanizio/piliskor/internal/reader"
	"github.com/yanizio/piliskor/internal/run"
)

// Compile-time assertion: *Component satisfies component.Component.
var _ component.Component = (*Component)(nil)

// Component serves read endpoints.
type Component struct {
	runs run.Repository
	disp *dispatch.Dispatcher
}

/*────────────────── component.Component methods ───────────────────────────*/

// Name returns the canonical component key.
func (c *Component) Name() string { return "read" }

// Migrations creates the run, checkpoint, and run_read tables, plus the
// RBAC tables acl.Attach reads.
func (c *Component) Migrations() []string {
	return append(run.Schema(), acl.Schema()...)
}

// Init captures the repository and dispatcher.
func (c *Component) Init(h component.Host) error {
	c.runs = h.Runs()
	c.disp = h.Dispatcher()
	if c.runs == nil || c.disp == nil {
		return errors.New("read: host has no repository or dispatcher")
	}
	return nil
}

// Routes builds the router.
func (c *Component) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/plugins", c.handlePlugins)
	r.Route("/run/{run}", func(rr chi.Router) {
		rr.Get("/read/{plugin}/access", c.handleAccess)
		rr.With(acl.RequireUser).Post("/read/{plugin}", c.handleRead)
		rr.With(acl.RequireUser).Get("/reads", c.handleReads)
	})
	return r
}

// Register component at program start.
func init() { component.Register(&Component{}) }

/*──────────────────────────── handlers ─────────────────────────────────────*/

func (c *Component) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plugins": reader.IDs()})
}

func (c *Component) handleAccess(w http.ResponseWriter, r *http.Request) {
	rn, ok := c.loadRun(w, r)
	if !ok {
		return
	}
	acct, _ := auth.FromContext(r.Context())
	allowed, err := c.disp.Access(routeContext(r, rn), acct)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (c *Component) handleRead(w http.ResponseWriter, r *http.Request) {
	rn, ok := c.loadRun(w, r)
	if !ok {
		return
	}
	acct, _ := auth.FromContext(r.Context())
	route := routeContext(r, rn)

	allowed, err := c.disp.Access(route, acct)
	if err != nil {
		c.fail(w, err)
		return
	}
	if !allowed {
		metrics.DispatchTotal.WithLabelValues(chi.URLParam(r, "plugin"), metrics.OutcomeDenied).Inc()
		writeError(w, http.StatusForbidden, "You may not record reads with this method.")
		return
	}

	resp, err := c.disp.Dispatch(r.Context(), rn, acct, r, route)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Component) handleReads(w http.ResponseWriter, r *http.Request) {
	rn, ok := c.loadRun(w, r)
	if !ok {
		return
	}
	acct, _ := auth.FromContext(r.Context())
	if rn.RunnerID != acct.ID && !acct.Can(reader.RunComponent, reader.ActionAdminister) {
		writeError(w, http.StatusForbidden, http.StatusText(http.StatusForbidden))
		return
	}
	reads, err := c.runs.ReadsByRun(r.Context(), rn.ID)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": rn, "reads": reads})
}

/*──────────────────────────── helpers ──────────────────────────────────────*/

func (c *Component) loadRun(w http.ResponseWriter, r *http.Request) (*run.Run, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "run"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "Unknown run.")
		return nil, false
	}
	rn, err := c.runs.RunByID(r.Context(), id)
	if err != nil {
		c.fail(w, err)
		return nil, false
	}
	return rn, true
}

// routeContext names the route after the {plugin} segment.  A segment with
// a dot would shift the plugin id, so it yields a name that fails parsing.
func routeContext(r *http.Request, rn *run.Run) reader.RouteContext {
	plugin := chi.URLParam(r, "plugin")
	name := reader.RouteName(plugin, reader.ActionRead)
	if strings.Contains(plugin, ".") {
		name = reader.Namespace
	}
	return reader.RouteContext{
		Name:   name,
		Params: map[string]string{"run": strconv.FormatInt(rn.ID, 10)},
	}
}

func (c *Component) fail(w http.ResponseWriter, err error) {
	status := dispatch.HTTPStatus(err)
	if dispatch.Retryable(err) {
		secs := int(math.Ceil(c.disp.Config().LockTimeout.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	switch status {
	case http.StatusBadRequest:
		writeError(w, status, "Malformed read route.")
	case http.StatusNotFound:
		writeError(w, status, "Not found.")
	case http.StatusServiceUnavailable:
		writeError(w, status, "The reader is busy.  Please try again.")
	default:
		zap.L().Error("read request failed", zap.Error(err))
		writeError(w, status, http.StatusText(status))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write json", zap.Error(err))
	}
}
