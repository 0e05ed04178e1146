// Package registry provides the name-keyed task registry consumed by processors.
package registry

import (
	"fmt"
	"sync"

	"github.com/jakke/taskqueue/pkg/security"
)

// Registry maps task names to executable units. It is read-only during
// processing; registration happens at startup.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register binds fn under name. Task names must start with a letter and
// contain only letters, digits, '_', '-' and '.', max 255 chars. Registration problems are programmer
// errors, so Register panics.
func (r *Registry) Register(name string, fn any) {
	if err := security.ValidateTaskName(name); err != nil {
		panic(fmt.Sprintf("taskqueue: invalid task name %q: %v", name, err))
	}

	task, err := NewTask(fn)
	if err != nil {
		panic(fmt.Sprintf("taskqueue: task for %q: %v", name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = task
}

// Resolve returns the task registered under name.
func (r *Registry) Resolve(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Has checks if a task is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Names returns the registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}
