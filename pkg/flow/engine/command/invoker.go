package command

import (
	"context"
	"fmt"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Invoker ends the chain by running the command.
type Invoker struct{}

// NewInvoker creates an Invoker.
func NewInvoker() *Invoker {
	return &Invoker{}
}

func (i *Invoker) terminatesChain()        {}
func (i *Invoker) requiresCommandContext() {}

func (i *Invoker) Execute(ctx context.Context, _ Config, cmd Command, _ Next) (interface{}, error) {
	return invokeCommand(ctx, cmd)
}

func invokeCommand(ctx context.Context, cmd Command) (result interface{}, err error) {
	cctx, ok := FromContext(ctx)
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, "invoker reached without a command context", ErrMalformedChain)
	}
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewFlowError(moduleName, fmt.Sprintf("command %s panicked: %v", cmd.Name(), r), nil, false)
		}
	}()
	return cmd.Execute(ctx, cctx)
}

// StateRenderer renders engine state for the debug invoker.
type StateRenderer interface {
	Render(ctx context.Context, cctx *Context) string
}

// StateRendererFunc adapts a function to StateRenderer.
type StateRendererFunc func(ctx context.Context, cctx *Context) string

func (f StateRendererFunc) Render(ctx context.Context, cctx *Context) string { return f(ctx, cctx) }

// DebugInvoker runs the command like Invoker and logs the rendered state before and after it.
type DebugInvoker struct {
	renderer StateRenderer
}

// NewDebugInvoker creates a DebugInvoker. A nil renderer renders the command context.
func NewDebugInvoker(renderer StateRenderer) *DebugInvoker {
	if renderer == nil {
		renderer = StateRendererFunc(func(_ context.Context, cctx *Context) string { return cctx.String() })
	}
	return &DebugInvoker{renderer: renderer}
}

func (i *DebugInvoker) terminatesChain()        {}
func (i *DebugInvoker) requiresCommandContext() {}

func (i *DebugInvoker) Execute(ctx context.Context, _ Config, cmd Command, _ Next) (interface{}, error) {
	cctx, ok := FromContext(ctx)
	if ok {
		logger.Debugf("State before %s: %s", cmd.Name(), i.renderer.Render(ctx, cctx))
	}
	result, err := invokeCommand(ctx, cmd)
	if ok {
		logger.Debugf("State after %s (err=%v): %s", cmd.Name(), err, i.renderer.Render(ctx, cctx))
	}
	return result, err
}
