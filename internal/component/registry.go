// internal/component/registry.go
//
// Component registry (cycle-free).
//
// Each concrete component lives under components/<name> and calls
// component.Register() in an init() function.  cmd/web runs every
// component's Migrations() when database.auto_migrate is set, calls Init()
// with the shared Host, and mounts Routes() at "/".
//
// Notes
// -----
// • Component paths must not collide.

package component

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/piliskor/internal/dispatch"
	"github.com/yanizio/piliskor/internal/run"
)

// Host exposes process-wide resources to Components during Init.
type Host interface {
	DB() *sqlx.DB
	Runs() run.Repository
	Dispatcher() *dispatch.Dispatcher
}

// Initializer is called once with the Host before routes are mounted.
type Initializer interface {
	Init(Host) error
}

// Component contract.
//
// Migrations() may return nil if the component has no schema.  Statements
// must be idempotent (CREATE TABLE IF NOT EXISTS …).
type Component interface {
	Name() string
	Routes() chi.Router
	Migrations() []string
	Initializer
}

var (
	mu       sync.RWMutex
	registry = map[string]Component{}
)

// Register is invoked from component init() functions.
func Register(c Component) {
	mu.Lock()
	registry[c.Name()] = c
	mu.Unlock()
}

// All returns every registered component sorted by name, so migrations and
// mounts happen in a stable order.
func All() []Component {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Component, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Migrate executes every component's migrations in order.
func Migrate(ctx context.Context, db *sqlx.DB, comps []Component) error {
	for _, c := range comps {
		for i, stmt := range c.Migrations() {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("component %s: migration %d: %w", c.Name(), i, err)
			}
		}
	}
	return nil
}

// Mount initialises comps and copies their routes onto r.  chi allows one
// Mount per path, so routes are walked and re-registered individually with
// the sub-router's middleware chain.
func Mount(r chi.Router, h Host, comps []Component) error {
	for _, c := range comps {
		if err := c.Init(h); err != nil {
			return fmt.Errorf("component %s: init: %w", c.Name(), err)
		}
		err := chi.Walk(c.Routes(), func(method, route string, handler http.Handler,
			mws ...func(http.Handler) http.Handler) error {
			r.With(mws...).Method(method, route, handler)
			return nil
		})
		if err != nil {
			return fmt.Errorf("component %s: routes: %w", c.Name(), err)
		}
	}
	return nil
}
