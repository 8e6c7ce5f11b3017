package config

import "go.uber.org/fx"

// Module provides *Config and each cohesive sub-configuration by value.
var Module = fx.Options(
	fx.Provide(
		NewConfigProvider,
		func() EnvironmentExpander { return NewOsEnvironmentExpander() },
		func(c *Config) CommandConfig { return c.Riptide.Command },
		func(c *Config) AsyncExecutorConfig { return c.Riptide.AsyncExecutor },
		func(c *Config) JobStoreConfig { return c.Riptide.JobStore },
		func(c *Config) MessageQueueConfig { return c.Riptide.MessageQueue },
		func(c *Config) MetricsConfig { return c.Riptide.Metrics },
		func(c *Config) TracingConfig { return c.Riptide.Tracing },
		func(c *Config) ArchiveConfig { return c.Riptide.Archive },
		func(c *Config) SystemConfig { return c.Riptide.System },
	),
)
