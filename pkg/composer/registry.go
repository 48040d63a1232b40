// Package composer ties the graph store, execution tracker, AI edit
// pipeline, and backend client together into one editing session, and
// routes inbound execution events to the right subsystem.
package composer

import (
	"sync"

	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/logging"
)

// NodeHandlers carries the update and delete callbacks a controlling
// owner supplies when it keeps graph state itself
type NodeHandlers struct {
	// Update receives a data patch for one node
	Update func(id string, patch map[string]interface{})

	// Delete receives the id of a node to remove
	Delete func(id string)
}

// CallbackRegistry dispatches per-node update and delete callbacks to the
// currently bound store. Nodes carry no callback functions themselves;
// canvas widgets call the registry with a node id, and the registry
// resolves the live target at dispatch time. Rebinding after a store
// replacement is one atomic swap, so a half-rebound mix of old and new
// targets cannot be observed.
type CallbackRegistry struct {
	mu         sync.RWMutex
	store      *graph.Store
	controlled bool
	parent     NodeHandlers
	logger     logging.Logger
}

// RegistryOption configures a CallbackRegistry
type RegistryOption func(*CallbackRegistry)

// WithParentHandlers puts the registry in controlled mode: dispatch goes
// to the parent's handlers and Bind becomes a no-op, because the parent
// owns graph state.
func WithParentHandlers(handlers NodeHandlers) RegistryOption {
	return func(r *CallbackRegistry) {
		r.controlled = true
		r.parent = handlers
	}
}

// WithRegistryLogger sets the registry's logger
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *CallbackRegistry) {
		r.logger = logger
	}
}

// NewCallbackRegistry creates an unbound registry
func NewCallbackRegistry(opts ...RegistryOption) *CallbackRegistry {
	r := &CallbackRegistry{}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Default()
	}
	return r
}

// Controlled reports whether dispatch defers to parent handlers
func (r *CallbackRegistry) Controlled() bool {
	return r.controlled
}

// Bind makes store the dispatch target. Binding the same store again
// changes nothing observable. In controlled mode Bind is a logged no-op.
func (r *CallbackRegistry) Bind(store *graph.Store) {
	if r.controlled {
		r.logger.Debug("controlled registry ignores bind")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == store {
		return
	}
	r.store = store
}

// OnUpdate merges patch into the node's data through the bound target
func (r *CallbackRegistry) OnUpdate(id string, patch map[string]interface{}) {
	if r.controlled {
		if r.parent.Update == nil {
			r.logger.Warn("dropping node update, no parent update handler", logging.F("node_id", id))
			return
		}
		r.parent.Update(id, patch)
		return
	}

	store := r.target()
	if store == nil {
		r.logger.Warn("dropping node update, no store bound", logging.F("node_id", id))
		return
	}
	store.UpdateNode(id, patch)
}

// OnDelete removes the node through the bound target
func (r *CallbackRegistry) OnDelete(id string) {
	if r.controlled {
		if r.parent.Delete == nil {
			r.logger.Warn("dropping node delete, no parent delete handler", logging.F("node_id", id))
			return
		}
		r.parent.Delete(id)
		return
	}

	store := r.target()
	if store == nil {
		r.logger.Warn("dropping node delete, no store bound", logging.F("node_id", id))
		return
	}
	store.DeleteNode(id)
}

func (r *CallbackRegistry) target() *graph.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store
}
