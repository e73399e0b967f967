package services

import (
	"context"
	"fmt"
	"sync"

	"gridframe/server/pkg/logger"
)

// Registry holds supervised services by name
type Registry struct {
	mu          sync.RWMutex
	supervisors map[string]*Supervisor
	order       []string
}

// NewRegistry creates an empty service registry
func NewRegistry() *Registry {
	return &Registry{supervisors: make(map[string]*Supervisor)}
}

// Add registers a service under its name
func (r *Registry) Add(svc Service, opts ...Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.supervisors[svc.Name()]; dup {
		return fmt.Errorf("service %q is already registered", svc.Name())
	}
	r.supervisors[svc.Name()] = NewSupervisor(svc, opts...)
	r.order = append(r.order, svc.Name())
	return nil
}

// Get returns a service's supervisor by name
func (r *Registry) Get(name string) (*Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.supervisors[name]
	return s, ok
}

// Names lists registered services in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// StartAll starts every registered service
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if err := r.supervisors[name].Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
	}
	return nil
}

// StopAll stops every running service, in reverse registration order
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		r.supervisors[r.order[i]].Stop()
	}
}

// CleanupAll stops everything; cleanup runs as part of each supervisor's
// shutdown, exactly once per lifecycle.
func (r *Registry) CleanupAll() {
	r.StopAll()
	logger.Info("all services cleaned up")
}

// AllStopped reports whether no service is running
func (r *Registry) AllStopped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.supervisors {
		if st := s.State(); st == Running || st == Paused {
			return false
		}
	}
	return true
}
