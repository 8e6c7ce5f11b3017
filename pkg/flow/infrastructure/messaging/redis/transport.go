// Package redis implements the message-queue transport on Redis.
//
// Messages due now are pushed on a list and popped with BRPOP. Messages due later
// wait in a sorted set scored by due time until a consumer promotes them to the list.
// A popped message is removed from Redis, so a consumer crash loses it; the front
// end's resync at start publishes every pending job again.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/messagequeue"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const moduleName = "redis_transport"

// Transport is a messagequeue.Transport on a Redis list and sorted set.
type Transport struct {
	client       goredis.UniversalClient
	readyKey     string
	delayedKey   string
	pollInterval time.Duration
	clock        clock.Clock
	ownsClient   bool
	closed       atomic.Bool
}

// NewTransport connects to cfg.Addr.
func NewTransport(cfg config.RedisConfig, clk clock.Clock) *Transport {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	t := NewTransportWithClient(client, cfg, clk)
	t.ownsClient = true
	return t
}

// NewTransportWithClient uses client; the caller keeps ownership of it.
func NewTransportWithClient(client goredis.UniversalClient, cfg config.RedisConfig, clk clock.Clock) *Transport {
	if clk == nil {
		clk = clock.NewSystem()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Transport{
		client:       client,
		readyKey:     cfg.ReadyKey,
		delayedKey:   cfg.DelayedKey,
		pollInterval: poll,
		clock:        clk,
	}
}

// Ping checks the connection.
func (t *Transport) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return exception.NewFlowError(moduleName, "redis is unreachable", err, true)
	}
	return nil
}

// Publish pushes m on the ready list, or adds it to the delayed set when it is due
// later. Identical delayed messages collapse into one set member.
func (t *Transport) Publish(ctx context.Context, m messagequeue.Message) error {
	if t.closed.Load() {
		return messagequeue.ErrTransportClosed
	}
	body, err := json.Marshal(m)
	if err != nil {
		return exception.NewFlowError(moduleName, "failed to encode message", err, false)
	}
	if m.DueAt != nil && m.DueAt.After(t.clock.Now()) {
		err = t.client.ZAdd(ctx, t.delayedKey, goredis.Z{Score: float64(m.DueAt.UnixMilli()), Member: string(body)}).Err()
	} else {
		err = t.client.LPush(ctx, t.readyKey, string(body)).Err()
	}
	if err != nil {
		return exception.NewFlowError(moduleName, "failed to publish job "+m.JobID, err, true)
	}
	return nil
}

// Promote moves delayed messages that are due to the ready list and returns how many it moved.
func (t *Transport) Promote(ctx context.Context) (int, error) {
	due, err := t.client.ZRangeByScore(ctx, t.delayedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(t.clock.Now()),
	}).Result()
	if err != nil {
		return 0, exception.NewFlowError(moduleName, "failed to read delayed messages", err, true)
	}
	if len(due) == 0 {
		return 0, nil
	}
	members := make([]interface{}, len(due))
	for i, m := range due {
		members[i] = m
	}
	pipe := t.client.TxPipeline()
	pipe.ZRem(ctx, t.delayedKey, members...)
	pipe.LPush(ctx, t.readyKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, exception.NewFlowError(moduleName, "failed to promote delayed messages", err, true)
	}
	return len(due), nil
}

// Consume promotes due messages and pops ready ones until ctx ends or the
// transport closes. Ack is a no-op; Nack with requeue pushes the message back.
func (t *Transport) Consume(ctx context.Context) (<-chan messagequeue.Delivery, error) {
	if t.closed.Load() {
		return nil, messagequeue.ErrTransportClosed
	}
	out := make(chan messagequeue.Delivery)
	go func() {
		defer close(out)
		for ctx.Err() == nil && !t.closed.Load() {
			if _, err := t.Promote(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("Redis transport: %v", err)
			}
			res, err := t.client.BRPop(ctx, t.pollInterval, t.readyKey).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil || t.closed.Load() {
					return
				}
				logger.Warnf("Redis transport: pop failed: %v", err)
				t.sleep(ctx)
				continue
			}
			// res holds the key and the value.
			var m messagequeue.Message
			if err := json.Unmarshal([]byte(res[1]), &m); err != nil || m.JobID == "" {
				logger.Errorf("Dropping malformed message %q: %v", res[1], err)
				continue
			}
			d := messagequeue.Delivery{
				Message: m,
				Ack:     func() error { return nil },
				Nack: func(requeue bool) error {
					if !requeue {
						return nil
					}
					return t.client.LPush(context.Background(), t.readyKey, res[1]).Err()
				},
			}
			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Nack(true)
				return
			}
		}
	}()
	return out, nil
}

func (t *Transport) sleep(ctx context.Context) {
	timer := time.NewTimer(t.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Close stops the consumers and closes the client when the transport created it.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if t.ownsClient {
		return t.client.Close()
	}
	return nil
}

func formatScore(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10)
}

var _ messagequeue.Transport = (*Transport)(nil)
