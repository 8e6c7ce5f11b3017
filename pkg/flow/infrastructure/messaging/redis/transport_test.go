package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/messagequeue"
	"github.com/tigerroll/riptide/pkg/flow/infrastructure/messaging/redis"
)

func newTransport(t *testing.T, clk clock.Clock) (*redis.Transport, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cfg := config.NewConfig().Riptide.MessageQueue.Redis
	cfg.PollInterval = time.Second
	tr := redis.NewTransportWithClient(client, cfg, clk)
	require.NoError(t, tr.Ping(context.Background()))
	return tr, mr
}

func TestTransport_PublishSplitsReadyAndDelayed(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	tr, mr := newTransport(t, clk)
	ctx := context.Background()
	cfg := config.NewConfig().Riptide.MessageQueue.Redis

	past := clk.Now().Add(-time.Minute)
	future := clk.Now().Add(time.Hour)
	require.NoError(t, tr.Publish(ctx, messagequeue.Message{JobID: "now"}))
	require.NoError(t, tr.Publish(ctx, messagequeue.Message{JobID: "overdue", DueAt: &past}))
	require.NoError(t, tr.Publish(ctx, messagequeue.Message{JobID: "later", DueAt: &future}))
	require.NoError(t, tr.Publish(ctx, messagequeue.Message{JobID: "later", DueAt: &future}))

	ready, err := mr.List(cfg.ReadyKey)
	require.NoError(t, err)
	assert.Len(t, ready, 2)
	delayed, err := mr.ZMembers(cfg.DelayedKey)
	require.NoError(t, err)
	assert.Len(t, delayed, 1, "duplicate delayed messages collapse")

	n, err := tr.Promote(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Hour)
	n, err = tr.Promote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ready, err = mr.List(cfg.ReadyKey)
	require.NoError(t, err)
	assert.Len(t, ready, 3)
}

func TestTransport_ConsumeAndRequeue(t *testing.T) {
	tr, _ := newTransport(t, clock.NewSystem())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, tr.Publish(ctx, messagequeue.Message{JobID: "j1"}))
	deliveries, err := tr.Consume(ctx)
	require.NoError(t, err)

	d := <-deliveries
	assert.Equal(t, "j1", d.Message.JobID)
	require.NoError(t, d.Nack(true))
	d = <-deliveries
	assert.Equal(t, "j1", d.Message.JobID)
	require.NoError(t, d.Ack())

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Publish(ctx, messagequeue.Message{JobID: "j2"}), messagequeue.ErrTransportClosed)
}
