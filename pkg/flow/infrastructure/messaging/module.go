// Package messaging selects the message-queue transport named by the configuration.
package messaging

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/messagequeue"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/messaging/amqp"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/messaging/redis"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

const (
	TransportAMQP  = "amqp"
	TransportRedis = "redis"
	// TransportLocal keeps messages in process; it only suits a single node.
	TransportLocal = "local"
)

// localBufferSize bounds the in-process transport.
const localBufferSize = 1024

// NewTransport opens the configured transport. It returns nil when message-queue
// mode is disabled.
func NewTransport(ctx context.Context, cfg config.MessageQueueConfig, clk clock.Clock) (messagequeue.Transport, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Transport {
	case TransportAMQP:
		t, err := amqp.NewTransport(cfg.AMQP)
		if err != nil {
			return nil, err
		}
		return t, nil
	case TransportRedis:
		t := redis.NewTransport(cfg.Redis, clk)
		if err := t.Ping(ctx); err != nil {
			_ = t.Close()
			return nil, err
		}
		return t, nil
	case TransportLocal:
		return messagequeue.NewLocalTransport(localBufferSize), nil
	default:
		return nil, exception.NewConfigurationError("messaging", fmt.Sprintf("unknown message transport %q", cfg.Transport), nil)
	}
}

// Module provides the messagequeue.Transport (nil when message-queue mode is off).
var Module = fx.Options(
	fx.Provide(func(cfg config.MessageQueueConfig, clk clock.Clock) (messagequeue.Transport, error) {
		return NewTransport(context.Background(), cfg, clk)
	}),
)
