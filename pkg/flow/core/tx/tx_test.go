package tx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/riptide/pkg/flow/core/tx"
	"github.com/tigerroll/riptide/pkg/flow/test"
)

func TestContextCarriage(t *testing.T) {
	ctx := context.Background()
	_, ok := tx.FromContext(ctx)
	assert.False(t, ok)

	mockTx := new(test.MockTx)
	ctx = tx.WithTx(ctx, mockTx)
	got, ok := tx.FromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, mockTx, got)

	suspended := tx.WithoutTx(ctx)
	_, ok = tx.FromContext(suspended)
	assert.False(t, ok)

	// The parent context still sees the transaction.
	_, ok = tx.FromContext(ctx)
	assert.True(t, ok)
}
