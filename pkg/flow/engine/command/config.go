package command

import (
	"fmt"
	"strings"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

// Propagation decides how a command relates to an already active transaction.
type Propagation string

const (
	// PropagationContext joins the active transaction and command context, or starts both.
	PropagationContext Propagation = "PROPAGATION_CONTEXT"
	// PropagationRequiresNew suspends the active transaction and runs in a fresh
	// transaction with an isolated command context.
	PropagationRequiresNew Propagation = "REQUIRES_NEW"
	// PropagationNotSupported runs with no transaction and an isolated command context.
	PropagationNotSupported Propagation = "NOT_SUPPORTED"
)

// ParsePropagation converts a configured name into a Propagation.
func ParsePropagation(name string) (Propagation, error) {
	switch p := Propagation(strings.ToUpper(strings.TrimSpace(name))); p {
	case PropagationContext, PropagationRequiresNew, PropagationNotSupported:
		return p, nil
	case "":
		return PropagationContext, nil
	default:
		return "", exception.NewConfigurationError(moduleName, fmt.Sprintf("unknown transaction propagation %q", name), nil)
	}
}

// Config configures one command execution. It is an immutable value:
// every mutator returns a modified copy.
type Config struct {
	propagation    Propagation
	loggingEnabled bool
}

// DefaultConfig joins the active transaction and logs.
func DefaultConfig() Config {
	return Config{propagation: PropagationContext, loggingEnabled: true}
}

// Propagation returns the transaction propagation.
func (c Config) Propagation() Propagation {
	if c.propagation == "" {
		return PropagationContext
	}
	return c.propagation
}

// LoggingEnabled reports whether the logging interceptor observes the command.
func (c Config) LoggingEnabled() bool {
	return c.loggingEnabled
}

// ContextReusePossible reports whether an active command context may be reused.
func (c Config) ContextReusePossible() bool {
	return c.Propagation() == PropagationContext
}

// RequiresNew returns a copy running in a new transaction.
func (c Config) RequiresNew() Config {
	c.propagation = PropagationRequiresNew
	return c
}

// NotSupported returns a copy running outside any transaction.
func (c Config) NotSupported() Config {
	c.propagation = PropagationNotSupported
	return c
}

// WithPropagation returns a copy with the given propagation.
func (c Config) WithPropagation(p Propagation) Config {
	c.propagation = p
	return c
}

// WithLogging returns a copy with logging switched on or off.
func (c Config) WithLogging(enabled bool) Config {
	c.loggingEnabled = enabled
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("CommandConfig[propagation=%s, logging=%t]", c.Propagation(), c.loggingEnabled)
}
