package asyncexecutor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/asyncexecutor"
)

func entry(id string) *asyncexecutor.Entry {
	return &asyncexecutor.Entry{Job: &model.Job{ID: id}}
}

func TestWorkerPool_BoundedQueue(t *testing.T) {
	release := make(chan struct{})
	pool := asyncexecutor.NewWorkerPool(asyncexecutor.PoolConfig{CoreSize: 1, MaxSize: 1, Capacity: 1}, func(context.Context, *asyncexecutor.Entry) {
		<-release
	}, nil)
	pool.Start(context.Background())

	require.True(t, pool.TrySubmit(entry("running")))
	require.Eventually(t, func() bool { return pool.Active() == 1 }, waitFor, tick)
	require.True(t, pool.TrySubmit(entry("queued")))
	assert.False(t, pool.TrySubmit(entry("overflow")), "queue is full")
	assert.Equal(t, 1, pool.QueueDepth())

	ok, err := pool.Submit(context.Background(), entry("overflow"), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.False(t, pool.TrySubmit(entry("late")))
	_, err = pool.Submit(context.Background(), entry("late"), time.Millisecond)
	assert.ErrorIs(t, err, asyncexecutor.ErrPoolShutdown)
}

func TestWorkerPool_ShutdownRejectsQueuedEntries(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var ran, rejected []string
	pool := asyncexecutor.NewWorkerPool(asyncexecutor.PoolConfig{CoreSize: 1, Capacity: 5}, func(_ context.Context, e *asyncexecutor.Entry) {
		<-release
		mu.Lock()
		ran = append(ran, e.Job.ID)
		mu.Unlock()
	}, func(e *asyncexecutor.Entry) {
		mu.Lock()
		rejected = append(rejected, e.Job.ID)
		mu.Unlock()
	})
	pool.Start(context.Background())
	require.True(t, pool.TrySubmit(entry("a")))
	require.Eventually(t, func() bool { return pool.Active() == 1 }, waitFor, tick)
	require.True(t, pool.TrySubmit(entry("b")))
	require.True(t, pool.TrySubmit(entry("c")))

	done := make(chan error)
	go func() { done <- pool.Shutdown(context.Background()) }()
	require.Eventually(t, pool.IsShutdown, waitFor, tick)
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"a"}, ran)
	assert.ElementsMatch(t, []string{"b", "c"}, rejected)
}

func TestWorkerPool_GraceElapses(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	pool := asyncexecutor.NewWorkerPool(asyncexecutor.PoolConfig{CoreSize: 1, Capacity: 1}, func(context.Context, *asyncexecutor.Entry) {
		<-release
	}, nil)
	pool.Start(context.Background())
	require.True(t, pool.TrySubmit(entry("stuck")))
	require.Eventually(t, func() bool { return pool.Active() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
}

func TestWorkerPool_GrowsElasticWorkers(t *testing.T) {
	release := make(chan struct{})
	pool := asyncexecutor.NewWorkerPool(asyncexecutor.PoolConfig{CoreSize: 1, MaxSize: 2, Capacity: 5, KeepAlive: 20 * time.Millisecond}, func(context.Context, *asyncexecutor.Entry) {
		<-release
	}, nil)
	pool.Start(context.Background())

	require.True(t, pool.TrySubmit(entry("a")))
	require.Eventually(t, func() bool { return pool.Active() == 1 }, waitFor, tick)
	require.True(t, pool.TrySubmit(entry("b")))
	require.Eventually(t, func() bool { return pool.Active() == 2 }, waitFor, tick)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestWorkerPool_RecoversFromPanics(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	pool := asyncexecutor.NewWorkerPool(asyncexecutor.PoolConfig{CoreSize: 1, Capacity: 5}, func(_ context.Context, e *asyncexecutor.Entry) {
		if e.Job.ID == "bad" {
			panic("handler bug")
		}
		mu.Lock()
		ran = append(ran, e.Job.ID)
		mu.Unlock()
	}, nil)
	pool.Start(context.Background())
	require.True(t, pool.TrySubmit(entry("bad")))
	require.True(t, pool.TrySubmit(entry("good")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1
	}, waitFor, tick)
	require.NoError(t, pool.Shutdown(context.Background()))
}
