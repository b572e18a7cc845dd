// Package queue implements the at-most-one-runner, lease-based task queue:
// documents move PENDING -> COMMITTED -> (removed) on success, or
// PENDING -> ROLLBACK -> (removed) once attempts are exhausted.
package queue

import "context"

// Executor is the capability set a registered queue_type must provide.
// Task performs the unit of work; PostTask runs once the document has
// committed; RollbackTask runs once attempts are exhausted. All three
// default to no-op via BaseExecutor, matching the registry pattern
// DESIGN NOTES recommends in place of subclassing.
type Executor interface {
	Task(ctx context.Context, payload []byte) error
	PostTask(ctx context.Context, payload []byte) error
	RollbackTask(ctx context.Context, payload []byte) error
}

// Factory constructs an Executor for a claimed document. Factories are
// registered per queue_type so the engine never needs to know concrete
// executor types.
type Factory func() Executor

// BaseExecutor is embedded by concrete executors that only need to
// implement a subset of the three phases.
type BaseExecutor struct{}

func (BaseExecutor) Task(ctx context.Context, payload []byte) error         { return nil }
func (BaseExecutor) PostTask(ctx context.Context, payload []byte) error     { return nil }
func (BaseExecutor) RollbackTask(ctx context.Context, payload []byte) error { return nil }

// Registry maps queue_type tags to executor factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a queue_type to a factory. Registering the same
// queue_type twice overwrites the previous binding.
func (r *Registry) Register(queueType string, factory Factory) {
	r.factories[queueType] = factory
}

// New constructs the Executor bound to queueType, or nil if unregistered.
func (r *Registry) New(queueType string) Executor {
	factory, ok := r.factories[queueType]
	if !ok {
		return nil
	}
	return factory()
}
