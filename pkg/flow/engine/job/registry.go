package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Registry maps handler types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a registry holding handlers.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds h. Registering a nil handler, an empty type or a type twice is a configuration error.
func (r *Registry) Register(h Handler) error {
	if h == nil || h.Type() == "" {
		return exception.NewConfigurationError(moduleName, "job handler must have a non-empty type", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		return exception.NewConfigurationError(moduleName, fmt.Sprintf("job handler type %q is already registered", h.Type()), nil)
	}
	r.handlers[h.Type()] = h
	logger.Debugf("Registered job handler %q.", h.Type())
	return nil
}

// Resolve returns the handler for handlerType. An unknown type yields a
// configuration error wrapping ErrUnknownHandlerType.
func (r *Registry) Resolve(handlerType string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[handlerType]
	r.mu.RUnlock()
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("no job handler registered for type %q", handlerType), ErrUnknownHandlerType)
	}
	return h, nil
}

// Has reports whether handlerType is registered.
func (r *Registry) Has(handlerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[handlerType]
	return ok
}

// Types lists the registered handler types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
