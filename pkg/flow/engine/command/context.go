package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// Context is the scratch space of one unit of work. It is created by the
// context interceptor and reused by nested commands that propagate the context.
// A Context belongs to a single goroutine.
type Context struct {
	id        string
	command   Command
	config    Config
	tx        tx.Tx
	factories map[string]SessionFactory

	sessions     map[string]Session
	sessionOrder []string

	closeListeners []CloseListener
	txListeners    *transactionListeners

	exception  error
	attributes map[string]interface{}
	depth      int
	closed     bool

	mu sync.Mutex
}

func newContext(cmd Command, cfg Config, factories map[string]SessionFactory, t tx.Tx) *Context {
	return &Context{
		id:         uuid.NewString(),
		command:    cmd,
		config:     cfg,
		tx:         t,
		factories:  factories,
		sessions:   make(map[string]Session),
		attributes: make(map[string]interface{}),
	}
}

type contextKey struct{}

func withContext(ctx context.Context, cctx *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, cctx)
}

// FromContext returns the active command context, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	cctx, ok := ctx.Value(contextKey{}).(*Context)
	return cctx, ok && cctx != nil
}

// ID identifies the context in logs.
func (c *Context) ID() string { return c.id }

// Command returns the command that created the context.
func (c *Context) Command() Command { return c.command }

// Config returns the configuration of the command that created the context.
func (c *Context) Config() Config { return c.config }

// Transaction returns the transaction the context was created under, if any.
func (c *Context) Transaction() (tx.Tx, bool) { return c.tx, c.tx != nil }

// Depth is the number of nested commands currently reusing the context.
func (c *Context) Depth() int { return c.depth }

func (c *Context) sameTransaction(t tx.Tx) bool {
	return c.tx == t
}

// Session returns the session of the given type, opening it on first use.
func (c *Context) Session(ctx context.Context, sessionType string) (Session, error) {
	c.mu.Lock()
	if s, ok := c.sessions[sessionType]; ok {
		c.mu.Unlock()
		return s, nil
	}
	factory, ok := c.factories[sessionType]
	c.mu.Unlock()
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("no session factory registered for type %q", sessionType), nil)
	}

	s, err := factory.OpenSession(ctx, c)
	if err != nil {
		return nil, exception.NewFlowError(moduleName, fmt.Sprintf("failed to open session %q", sessionType), err, false)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionType] = s
	c.sessionOrder = append(c.sessionOrder, sessionType)
	return s, nil
}

// SessionTypes lists the open sessions in opening order.
func (c *Context) SessionTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sessionOrder))
	copy(out, c.sessionOrder)
	return out
}

// AddCloseListener registers a listener for the closing of this context.
func (c *Context) AddCloseListener(l CloseListener) {
	c.mu.Lock()
	c.closeListeners = append(c.closeListeners, l)
	c.mu.Unlock()
}

// AddTransactionListener registers work for a phase of the context's transaction.
// Without a transaction the phases follow the context close: before-commit and
// after-commit run after a successful close, after-rollback after a failed one.
func (c *Context) AddTransactionListener(phase TransactionPhase, l TransactionListener) {
	c.mu.Lock()
	listeners := c.txListeners
	created := listeners == nil
	if created {
		listeners = newTransactionListeners()
		c.txListeners = listeners
	}
	c.mu.Unlock()
	if created {
		c.bindAutoCommit(listeners)
	}
	listeners.add(phase, l)
}

// bindAutoCommit fires the phases of listeners around the context close.
func (c *Context) bindAutoCommit(listeners *transactionListeners) {
	c.AddCloseListener(CloseListenerFuncs{
		OnClosed: func(ctx context.Context, _ *Context) {
			if err := listeners.fire(ctx, BeforeCommit); err != nil {
				logger.Warnf("Before-commit listener of context %s failed outside a transaction: %v", c.id, err)
			}
			_ = listeners.fire(ctx, AfterCommit)
		},
		OnCloseFailure: func(ctx context.Context, _ *Context) {
			_ = listeners.fire(ctx, AfterRollback)
		},
	})
}

// SetException records a failure. The first failure wins; it decides rollback.
func (c *Context) SetException(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exception == nil {
		c.exception = err
	}
}

// Exception returns the recorded failure.
func (c *Context) Exception() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exception
}

// Attribute returns a value stored on the context.
func (c *Context) Attribute(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attributes[key]
	return v, ok
}

// SetAttribute stores a value on the context for the rest of the unit of work.
func (c *Context) SetAttribute(key string, value interface{}) {
	c.mu.Lock()
	c.attributes[key] = value
	c.mu.Unlock()
}

// close runs the close protocol: closing listeners, session flush, then closed
// or close-failure listeners, then session close. It returns the recorded
// exception, or the session close failures when there was none.
func (c *Context) close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.exception
	}
	c.closed = true
	listeners := append([]CloseListener(nil), c.closeListeners...)
	c.mu.Unlock()

	if c.Exception() == nil {
		for _, l := range listeners {
			if err := l.Closing(ctx, c); err != nil {
				c.SetException(err)
				break
			}
		}
	}
	if c.Exception() == nil {
		c.SetException(c.flushSessions(ctx))
	}

	// Listeners added by closing listeners or flushes also run.
	c.mu.Lock()
	listeners = append([]CloseListener(nil), c.closeListeners...)
	c.mu.Unlock()

	if failure := c.Exception(); failure != nil {
		logger.Debugf("Command context %s closing with failure, discarding %d session(s): %v", c.id, len(c.SessionTypes()), failure)
		for _, l := range listeners {
			l.CloseFailure(ctx, c)
		}
	} else {
		for _, l := range listeners {
			l.Closed(ctx, c)
		}
	}

	closeErr := c.closeSessions()
	if failure := c.Exception(); failure != nil {
		if closeErr != nil {
			logger.Warnf("Command context %s: session close failed after an earlier failure: %v", c.id, closeErr)
		}
		return failure
	}
	return closeErr
}

func (c *Context) flushSessions(ctx context.Context) error {
	for _, t := range c.SessionTypes() {
		c.mu.Lock()
		s := c.sessions[t]
		c.mu.Unlock()
		if err := s.Flush(ctx); err != nil {
			return exception.NewFlowError(moduleName, fmt.Sprintf("failed to flush session %q", t), err, false)
		}
	}
	return nil
}

func (c *Context) closeSessions() error {
	var result *multierror.Error
	types := c.SessionTypes()
	for i := len(types) - 1; i >= 0; i-- {
		c.mu.Lock()
		s := c.sessions[types[i]]
		c.mu.Unlock()
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %q: %w", types[i], err))
		}
	}
	return result.ErrorOrNil()
}

// String renders the context state for diagnostics.
func (c *Context) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.attributes))
	for k := range c.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	txID := "none"
	if c.tx != nil {
		txID = c.tx.ID()
	}
	return fmt.Sprintf("CommandContext[id=%s, command=%s, tx=%s, depth=%d, sessions=[%s], closeListeners=%d, attributes=[%s], exception=%v]",
		c.id, c.command.Name(), txID, c.depth, strings.Join(c.sessionOrder, ","), len(c.closeListeners), strings.Join(keys, ","), c.exception)
}
