package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

var (
	// ErrEmptyChain is returned when a chain is built from no interceptors.
	ErrEmptyChain = errors.New("interceptor chain is empty")
	// ErrMalformedChain is returned when the interceptor list cannot form a working chain.
	ErrMalformedChain = errors.New("interceptor chain is malformed")
)

// Next invokes the rest of the chain.
type Next func(ctx context.Context, cfg Config, cmd Command) (interface{}, error)

// Interceptor wraps the invocation of the rest of the chain. Every interceptor
// either returns the inner result or propagates the inner failure after its own cleanup.
type Interceptor interface {
	Execute(ctx context.Context, cfg Config, cmd Command, next Next) (interface{}, error)
}

// terminal marks interceptors that end the chain by running the command.
type terminal interface {
	Interceptor
	terminatesChain()
}

// needsCommandContext marks interceptors that must run inside the context interceptor.
type needsCommandContext interface {
	requiresCommandContext()
}

// Chain is an immutable linked list of interceptors.
type Chain struct {
	head  Next
	names []string
}

// Execute enters the chain at its head.
func (c *Chain) Execute(ctx context.Context, cfg Config, cmd Command) (interface{}, error) {
	return c.head(ctx, cfg, cmd)
}

// Describe lists the interceptors from outermost to innermost.
func (c *Chain) Describe() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// ChainBuilder assembles a Chain. The built chain is frozen.
type ChainBuilder struct {
	interceptors []Interceptor
}

// NewChainBuilder returns an empty builder.
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// Add appends interceptors, outermost first.
func (b *ChainBuilder) Add(interceptors ...Interceptor) *ChainBuilder {
	b.interceptors = append(b.interceptors, interceptors...)
	return b
}

// Build validates the list and links it. It fails with a configuration error when
// the list is empty, contains nil, does not end with exactly one invoker, or
// places a context-dependent interceptor outside the context interceptor.
func (b *ChainBuilder) Build() (*Chain, error) {
	if len(b.interceptors) == 0 {
		return nil, exception.NewConfigurationError(moduleName, "cannot build command pipeline", ErrEmptyChain)
	}

	seenContext := false
	names := make([]string, len(b.interceptors))
	for i, ic := range b.interceptors {
		if ic == nil {
			return nil, malformed("interceptor at position %d is nil", i)
		}
		names[i] = fmt.Sprintf("%T", ic)
		_, isTerminal := ic.(terminal)
		last := i == len(b.interceptors)-1
		if isTerminal && !last {
			return nil, malformed("invoker %s at position %d must be the last interceptor", names[i], i)
		}
		if last && !isTerminal {
			return nil, malformed("last interceptor %s is not an invoker", names[i])
		}
		if _, ok := ic.(*ContextInterceptor); ok {
			seenContext = true
		}
		if _, ok := ic.(needsCommandContext); ok && !seenContext {
			return nil, malformed("%s at position %d must follow the command-context interceptor", names[i], i)
		}
	}

	var next Next = func(context.Context, Config, Command) (interface{}, error) {
		return nil, exception.NewFlowError(moduleName, "invoked past the end of the interceptor chain", ErrMalformedChain, false)
	}
	for i := len(b.interceptors) - 1; i >= 0; i-- {
		ic, inner := b.interceptors[i], next
		next = func(ctx context.Context, cfg Config, cmd Command) (interface{}, error) {
			return ic.Execute(ctx, cfg, cmd, inner)
		}
	}
	return &Chain{head: next, names: names}, nil
}

func malformed(format string, a ...interface{}) error {
	return exception.NewConfigurationError(moduleName, fmt.Sprintf(format, a...), ErrMalformedChain)
}
