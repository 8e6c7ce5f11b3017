package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/riptide/example/reminder/internal/app"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// embeddedConfig is the service configuration. ${VAR:-default} placeholders are expanded at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	if err := app.RunApplication(ctx, envFilePath, embeddedConfig); err != nil {
		logger.Errorf("Reminder service failed: %v", err)
		os.Exit(1)
	}
}
