package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aioschat/server/rpc"
)

// GaugeObserver is told the number of live connections after every change.
type GaugeObserver interface {
	SetActiveConnections(n int)
}

// Registry maps connection ids to their controllers. Only the connect and
// disconnect paths mutate it; removal always tears the controller down.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	observer    GaugeObserver
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(observer GaugeObserver) *Registry {
	return &Registry{
		controllers: make(map[string]*Controller),
		observer:    observer,
	}
}

// Register adds a controller under its connection id. A controller already
// registered under the same id is replaced and torn down.
func (r *Registry) Register(c *Controller) {
	r.mu.Lock()
	prev := r.controllers[c.ID()]
	r.controllers[c.ID()] = c
	n := len(r.controllers)
	r.mu.Unlock()

	if prev != nil && prev != c {
		prev.Teardown()
	}
	r.observe(n)
	slog.Debug("connection registered", "connId", c.ID(), "active", n)
}

// Get returns the controller for a connection, or nil.
func (r *Registry) Get(connID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controllers[connID]
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Remove unregisters a connection and tears its controller down. Removing an
// unknown id is a no-op, so a connection is torn down at most once here.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	c, ok := r.controllers[connID]
	delete(r.controllers, connID)
	n := len(r.controllers)
	r.mu.Unlock()

	if !ok {
		return
	}
	c.Teardown()
	r.observe(n)
	slog.Debug("connection removed", "connId", connID, "active", n)
}

// Broadcast sends an event to every live connection.
func (r *Registry) Broadcast(ctx context.Context, event rpc.Event) {
	for _, c := range r.snapshot() {
		c.Emit(ctx, event)
	}
}

// Shutdown tears down every controller, terminating any running invocation.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for id, c := range r.controllers {
		controllers = append(controllers, c)
		delete(r.controllers, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Teardown()
		}()
	}
	wg.Wait()
	r.observe(0)
	slog.Info("registry shutdown complete", "connectionsClosed", len(controllers))
}

func (r *Registry) snapshot() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	return controllers
}

func (r *Registry) observe(n int) {
	if r.observer != nil {
		r.observer.SetActiveConnections(n)
	}
}
