package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/test"
)

func newPipeline(t *testing.T, txManager tx.TransactionManager, factories ...command.SessionFactory) *command.Executor {
	t.Helper()
	chain, err := command.NewChainBuilder().Add(
		command.NewLoggingInterceptor(nil, nil),
		command.NewTransactionInterceptor(txManager),
		command.NewContextInterceptor(factories...),
		command.NewTransactionContextInterceptor(),
		command.NewInvoker(),
	).Build()
	require.NoError(t, err)
	return command.NewExecutor(chain, command.DefaultConfig())
}

func TestChainBuilder_FailsFast(t *testing.T) {
	_, err := command.NewChainBuilder().Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, command.ErrEmptyChain)
	assert.True(t, exception.IsConfigurationError(err))

	_, err = command.NewChainBuilder().Add(command.NewContextInterceptor(), nil, command.NewInvoker()).Build()
	assert.ErrorIs(t, err, command.ErrMalformedChain)

	_, err = command.NewChainBuilder().Add(command.NewContextInterceptor(), command.NewInvoker(), command.NewTransactionContextInterceptor()).Build()
	assert.ErrorIs(t, err, command.ErrMalformedChain, "invoker must be last")

	_, err = command.NewChainBuilder().Add(command.NewContextInterceptor()).Build()
	assert.ErrorIs(t, err, command.ErrMalformedChain, "invoker is required")

	_, err = command.NewChainBuilder().Add(command.NewTransactionContextInterceptor(), command.NewContextInterceptor(), command.NewInvoker()).Build()
	assert.ErrorIs(t, err, command.ErrMalformedChain, "transaction context needs the command context")
}

func TestChainBuilder_Describe(t *testing.T) {
	chain, err := command.NewChainBuilder().Add(command.NewContextInterceptor(), command.NewDebugInvoker(nil)).Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"*command.ContextInterceptor", "*command.DebugInvoker"}, chain.Describe())
}

func TestConfig_IsImmutable(t *testing.T) {
	base := command.DefaultConfig()
	requiresNew := base.RequiresNew()
	notSupported := base.NotSupported().WithLogging(false)

	assert.Equal(t, command.PropagationContext, base.Propagation())
	assert.True(t, base.LoggingEnabled())
	assert.Equal(t, command.PropagationRequiresNew, requiresNew.Propagation())
	assert.Equal(t, command.PropagationNotSupported, notSupported.Propagation())
	assert.False(t, notSupported.LoggingEnabled())
	assert.True(t, base.ContextReusePossible())
	assert.False(t, requiresNew.ContextReusePossible())

	_, err := command.ParsePropagation("NESTED")
	assert.True(t, exception.IsConfigurationError(err))
}

func TestExecute_CommitsOnSuccess(t *testing.T) {
	txManager := new(test.MockTxManager)
	t1 := test.NewMockTx("t1")
	txManager.On("Begin", mock.Anything, mock.Anything).Return(t1, nil).Once()
	txManager.On("Commit", t1).Return(nil).Once()

	exec := newPipeline(t, txManager)
	out, err := command.Run(context.Background(), exec, "answer", func(ctx context.Context, cctx *command.Context) (int, error) {
		active, ok := tx.FromContext(ctx)
		require.True(t, ok)
		assert.Same(t, t1, active)
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, out)
	txManager.AssertExpectations(t)
	txManager.AssertNotCalled(t, "Rollback", mock.Anything)
}

func TestExecute_RollsBackAndPropagatesFailure(t *testing.T) {
	txManager := new(test.MockTxManager)
	t1 := test.NewMockTx("t1")
	txManager.On("Begin", mock.Anything, mock.Anything).Return(t1, nil).Once()
	txManager.On("Rollback", t1).Return(nil).Once()

	boom := errors.New("boom")
	exec := newPipeline(t, txManager)
	_, err := exec.Execute(context.Background(), command.New("failing", func(context.Context, *command.Context) (interface{}, error) {
		return nil, boom
	}))

	assert.ErrorIs(t, err, boom)
	txManager.AssertExpectations(t)
	txManager.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	txManager := new(test.MockTxManager)
	t1 := test.NewMockTx("t1")
	txManager.On("Begin", mock.Anything, mock.Anything).Return(t1, nil).Once()
	txManager.On("Rollback", t1).Return(nil).Once()

	exec := newPipeline(t, txManager)
	_, err := exec.Execute(context.Background(), command.New("panicking", func(context.Context, *command.Context) (interface{}, error) {
		panic("unexpected")
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	txManager.AssertExpectations(t)
}

func TestRequiresNew_InnerFailureDoesNotRollBackOuter(t *testing.T) {
	txManager := new(test.MockTxManager)
	outer, inner := test.NewMockTx("outer"), test.NewMockTx("inner")
	txManager.On("Begin", mock.Anything, mock.Anything).Return(outer, nil).Once()
	txManager.On("Begin", mock.Anything, mock.Anything).Return(inner, nil).Once()
	txManager.On("Rollback", inner).Return(nil).Once()
	txManager.On("Commit", outer).Return(nil).Once()

	exec := newPipeline(t, txManager)
	innerErr := errors.New("inner failed")

	_, err := exec.Execute(context.Background(), command.New("outer", func(ctx context.Context, outerCtx *command.Context) (interface{}, error) {
		_, err := exec.ExecuteWithConfig(ctx, exec.DefaultConfig().RequiresNew(), command.New("inner", func(ctx context.Context, innerCtx *command.Context) (interface{}, error) {
			assert.NotSame(t, outerCtx, innerCtx, "REQUIRES_NEW gets an isolated context")
			active, _ := tx.FromContext(ctx)
			assert.Same(t, inner, active)
			return nil, innerErr
		}))
		assert.ErrorIs(t, err, innerErr)

		active, _ := tx.FromContext(ctx)
		assert.Same(t, outer, active, "the outer transaction is restored")
		return "outer done", nil
	}))

	require.NoError(t, err)
	txManager.AssertExpectations(t)
	txManager.AssertNotCalled(t, "Rollback", outer)
}

func TestRequiresNew_OuterFailureDoesNotRollBackInner(t *testing.T) {
	txManager := new(test.MockTxManager)
	outer, inner := test.NewMockTx("outer"), test.NewMockTx("inner")
	txManager.On("Begin", mock.Anything, mock.Anything).Return(outer, nil).Once()
	txManager.On("Begin", mock.Anything, mock.Anything).Return(inner, nil).Once()
	txManager.On("Commit", inner).Return(nil).Once()
	txManager.On("Rollback", outer).Return(nil).Once()

	exec := newPipeline(t, txManager)
	outerErr := errors.New("outer failed")

	_, err := exec.Execute(context.Background(), command.New("outer", func(ctx context.Context, _ *command.Context) (interface{}, error) {
		_, err := exec.ExecuteWithConfig(ctx, exec.DefaultConfig().RequiresNew(), command.New("inner", func(context.Context, *command.Context) (interface{}, error) {
			return nil, nil
		}))
		require.NoError(t, err)
		return nil, outerErr
	}))

	assert.ErrorIs(t, err, outerErr)
	txManager.AssertExpectations(t)
}

func TestPropagationContext_InnerFailureRollsBackSharedContext(t *testing.T) {
	txManager := new(test.MockTxManager)
	t1 := test.NewMockTx("shared")
	txManager.On("Begin", mock.Anything, mock.Anything).Return(t1, nil).Once()
	txManager.On("Rollback", t1).Return(nil).Once()

	exec := newPipeline(t, txManager)
	innerErr := errors.New("inner failed")

	_, err := exec.Execute(context.Background(), command.New("outer", func(ctx context.Context, outerCtx *command.Context) (interface{}, error) {
		_, err := exec.Execute(ctx, command.New("inner", func(_ context.Context, innerCtx *command.Context) (interface{}, error) {
			assert.Same(t, outerCtx, innerCtx, "PROPAGATION_CONTEXT reuses the active context")
			assert.Equal(t, 1, innerCtx.Depth())
			return nil, innerErr
		}))
		assert.ErrorIs(t, err, innerErr)
		// The outer command swallows the failure, but the shared context is already doomed.
		return "ignored", nil
	}))

	assert.ErrorIs(t, err, innerErr)
	txManager.AssertExpectations(t)
	txManager.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestNotSupported_RunsOutsideTransaction(t *testing.T) {
	txManager := new(test.MockTxManager)
	t1 := test.NewMockTx("outer")
	txManager.On("Begin", mock.Anything, mock.Anything).Return(t1, nil).Once()
	txManager.On("Rollback", t1).Return(nil).Once()

	exec := newPipeline(t, txManager)
	maintenanceRan := false

	_, err := exec.Execute(context.Background(), command.New("outer", func(ctx context.Context, outerCtx *command.Context) (interface{}, error) {
		_, err := exec.ExecuteWithConfig(ctx, exec.DefaultConfig().NotSupported(), command.New("maintenance", func(ctx context.Context, cctx *command.Context) (interface{}, error) {
			_, active := tx.FromContext(ctx)
			assert.False(t, active)
			assert.NotSame(t, outerCtx, cctx)
			_, hasTx := cctx.Transaction()
			assert.False(t, hasTx)
			maintenanceRan = true
			return nil, nil
		}))
		require.NoError(t, err)
		return nil, errors.New("outer failed later")
	}))

	require.Error(t, err)
	assert.True(t, maintenanceRan)
	txManager.AssertExpectations(t)
	txManager.AssertNumberOfCalls(t, "Begin", 1)
}

func TestExecute_BeginFailure(t *testing.T) {
	txManager := new(test.MockTxManager)
	txManager.On("Begin", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	exec := newPipeline(t, txManager)
	ran := false
	_, err := exec.Execute(context.Background(), command.New("never", func(context.Context, *command.Context) (interface{}, error) {
		ran = true
		return nil, nil
	}))

	require.Error(t, err)
	assert.False(t, ran)
}

func TestExecute_NilCommand(t *testing.T) {
	exec := newPipeline(t, new(test.MockTxManager))
	_, err := exec.Execute(context.Background(), nil)
	assert.Error(t, err)
}
