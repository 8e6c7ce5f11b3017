// Package command implements the command pipeline: command contexts, the interceptor
// chain and the executor that threads every unit of work through it.
//
// A command runs through, outermost first: logging, transaction demarcation,
// command-context management, transaction-context binding and the invoker.
// Failures always propagate to the caller of Execute after every interceptor
// has performed its cleanup.
package command

import (
	"context"
)

const moduleName = "command"

// Command is a named unit of work.
type Command interface {
	Name() string
	Execute(ctx context.Context, cctx *Context) (interface{}, error)
}

// Func is the body of a command.
type Func func(ctx context.Context, cctx *Context) (interface{}, error)

type funcCommand struct {
	name string
	fn   Func
}

// New returns a Command named name that runs fn.
func New(name string, fn Func) Command {
	return &funcCommand{name: name, fn: fn}
}

func (c *funcCommand) Name() string { return c.name }

func (c *funcCommand) Execute(ctx context.Context, cctx *Context) (interface{}, error) {
	return c.fn(ctx, cctx)
}

// Run executes a typed command with the executor's default configuration.
func Run[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context, cctx *Context) (T, error)) (T, error) {
	return RunWithConfig(ctx, e, e.DefaultConfig(), name, fn)
}

// RunWithConfig executes a typed command with an explicit configuration.
func RunWithConfig[T any](ctx context.Context, e *Executor, cfg Config, name string, fn func(ctx context.Context, cctx *Context) (T, error)) (T, error) {
	var zero T
	out, err := e.ExecuteWithConfig(ctx, cfg, New(name, func(ctx context.Context, cctx *Context) (interface{}, error) {
		v, err := fn(ctx, cctx)
		return v, err
	}))
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}
