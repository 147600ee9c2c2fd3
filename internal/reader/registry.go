// internal/reader/registry.go
//
// Read-plugin registry (cycle-free).
//
// Each plugin lives under plugins/<id> and calls reader.Register() in an
// init() function.  The Resolver builds a fresh Handler for every lookup,
// so plugins may keep per-request state on their struct.

package reader

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yanizio/piliskor/internal/run"
)

// ErrUnknownPlugin means no factory is registered for the plugin id.
var ErrUnknownPlugin = errors.New("reader: unknown plugin")

// Deps are handed to every factory.
type Deps struct {
	Runs     run.Repository
	Validate *validator.Validate
	Now      func() time.Time
}

// Factory builds one Handler.
type Factory func(Deps) Handler

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register is invoked from plugin init() functions.  Registering the same
// id twice is a programming error.
func Register(id string, f Factory) {
	if id == "" || f == nil {
		panic("reader.Register: empty id or nil factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[id]; dup {
		panic("reader.Register: duplicate plugin " + id)
	}
	registry[id] = f
}

// IDs returns every registered plugin id, sorted.
func IDs() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func lookup(id string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[id]
	return f, ok
}

// Resolver turns a route into a Handler.
type Resolver struct {
	deps    Deps
	factory func(string) (Factory, bool)
}

// NewResolver resolves against the global registry.
func NewResolver(deps Deps) *Resolver {
	return &Resolver{deps: withDefaults(deps), factory: lookup}
}

// NewStaticResolver resolves against a fixed map.  Handy in tests and for
// binaries that want a closed plugin set.
func NewStaticResolver(deps Deps, factories map[string]Factory) *Resolver {
	return &Resolver{
		deps: withDefaults(deps),
		factory: func(id string) (Factory, bool) {
			f, ok := factories[id]
			return f, ok
		},
	}
}

// Resolve extracts the plugin id and instantiates its Handler.
func (r *Resolver) Resolve(route RouteContext) (Handler, string, error) {
	id, err := route.Plugin()
	if err != nil {
		return nil, "", err
	}
	f, ok := r.factory(id)
	if !ok {
		return nil, id, ErrUnknownPlugin
	}
	return f(r.deps), id, nil
}

func withDefaults(d Deps) Deps {
	if d.Validate == nil {
		d.Validate = validator.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
