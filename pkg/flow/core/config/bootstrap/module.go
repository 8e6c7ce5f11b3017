package bootstrap

import (
	"go.uber.org/fx"
)

// Module registers the lifecycle hooks. Hooks start in order and stop in reverse:
// migrations, the executor, then the message-queue front end.
var Module = fx.Options(
	fx.Invoke(ApplyLoggingConfigHook),
	fx.Invoke(ApplyTimezoneHook),
	fx.Invoke(RunMigrationsHook),
	fx.Invoke(StartExecutorHook),
	fx.Invoke(StartFrontEndHook),
)
