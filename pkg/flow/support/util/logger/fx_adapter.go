package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter routes fx container events through the engine logger.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent logs a single fx event. Hook and provide noise goes to DEBUG, failures to ERROR.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		Debugf("Lifecycle start hook running: %s", hookName(e.FunctionName))
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("Lifecycle start hook %s failed after %s: %v", hookName(e.FunctionName), e.Runtime, e.Err)
			return
		}
		Debugf("Lifecycle start hook %s finished in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.OnStopExecuting:
		Debugf("Lifecycle stop hook running: %s", hookName(e.FunctionName))
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("Lifecycle stop hook %s failed after %s: %v", hookName(e.FunctionName), e.Runtime, e.Err)
			return
		}
		Debugf("Lifecycle stop hook %s finished in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("Provider %s failed: %v", e.ConstructorName, e.Err)
			return
		}
		for _, t := range e.OutputTypeNames {
			Debugf("Provided %s", t)
		}
	case *fxevent.Decorated:
		if e.Err != nil {
			Errorf("Decorator %s failed: %v", e.DecoratorName, e.Err)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("Invoke %s failed: %v", e.FunctionName, e.Err)
		}
	case *fxevent.Stopping:
		Infof("Signal %s received, stopping.", strings.ToUpper(e.Signal.String()))
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("Stop failed: %v", e.Err)
		}
	case *fxevent.RollingBack:
		Errorf("Start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("Rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("Start failed: %v", e.Err)
			return
		}
		Infof("Engine started.")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx logger initialization failed: %v", e.Err)
		}
	}
}

// hookName trims the anonymous-function suffix fx reports for inline hooks.
func hookName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
