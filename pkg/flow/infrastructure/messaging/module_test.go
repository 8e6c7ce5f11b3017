package messaging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/messagequeue"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/messaging"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

func TestNewTransport(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig().Riptide.MessageQueue

	tr, err := messaging.NewTransport(ctx, cfg, clock.NewSystem())
	require.NoError(t, err)
	assert.Nil(t, tr, "disabled")

	cfg.Enabled = true
	cfg.Transport = messaging.TransportLocal
	tr, err = messaging.NewTransport(ctx, cfg, clock.NewSystem())
	require.NoError(t, err)
	assert.IsType(t, &messagequeue.LocalTransport{}, tr)

	cfg.Transport = "kafka"
	_, err = messaging.NewTransport(ctx, cfg, clock.NewSystem())
	assert.True(t, exception.IsConfigurationError(err))
}
