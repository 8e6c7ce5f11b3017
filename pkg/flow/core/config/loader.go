package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const moduleName = "config"

// EnvPrefix prefixes every environment override, e.g. RIPTIDE_ASYNC_EXECUTOR_CORE_POOL_SIZE.
const EnvPrefix = "RIPTIDE_"

// ConfigParams defines the dependencies of NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig builds the configuration in four layers: defaults, .env file,
// YAML (after placeholder expansion), then RIPTIDE_* environment overrides.
func loadConfig(envFilePath string, raw EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}
	expanded, err := expander.Expand(raw)
	if err != nil {
		return nil, exception.NewFlowError(moduleName, "failed to expand environment placeholders", err, false)
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to unmarshal configuration", err)
	}
	if cfg.Riptide.Datasources == nil {
		cfg.Riptide.Datasources = map[string]interface{}{}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to apply environment overrides", err)
	}
	cfg.EmbeddedConfig = raw
	return cfg, nil
}

// LoadConfig loads and validates the configuration outside of fx (tools, tests).
func LoadConfig(envFilePath string, raw EmbeddedConfig) (*Config, error) {
	cfg, err := loadConfig(envFilePath, raw, nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider loads, validates and returns the configuration, and applies the log level.
func NewConfigProvider(p ConfigParams) (*Config, error) {
	cfg, err := loadConfig(p.EnvFilePath, p.EmbeddedConfig, p.Expander)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Riptide.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Riptide.System.Logging.Level)
	return cfg, nil
}
