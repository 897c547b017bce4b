package dialplan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownApplication is returned when an action names an application
// that was never registered.
var ErrUnknownApplication = errors.New("unknown application")

// Application is a named step of an extension. Run blocks until the step
// completes or the channel hangs up; data is the action's free-form
// argument string. The returned label is reported in
// CHANNEL_EXECUTE_COMPLETE (for example "ok" or a read_result value).
type Application interface {
	Name() string
	Syntax() string
	Description() string
	Run(ctx context.Context, ch Channel, data string) (string, error)
}

// Registry holds the applications available to the dialplan.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]Application
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]Application)}
}

// Register adds app. Names must be unique.
func (r *Registry) Register(app Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apps[app.Name()]; exists {
		return fmt.Errorf("application %q already registered", app.Name())
	}
	r.apps[app.Name()] = app
	return nil
}

// MustRegister is like Register but panics on a duplicate name.
func (r *Registry) MustRegister(apps ...Application) {
	for _, app := range apps {
		if err := r.Register(app); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the application registered under name.
func (r *Registry) Lookup(name string) (Application, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[name]
	return app, ok
}

// List returns all registered applications sorted by name.
func (r *Registry) List() []Application {
	r.mu.RLock()
	out := make([]Application, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, app)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
