package logger

import "go.uber.org/fx"

// Module installs the engine logger as the fx event logger.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
)
