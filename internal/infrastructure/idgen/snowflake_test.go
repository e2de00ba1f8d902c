package idgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_Monotonic(t *testing.T) {
	gen, err := NewSnowflake(1)
	require.NoError(t, err)

	prev := int64(0)
	for i := 0; i < 1000; i++ {
		id, err := gen.NextBatchID(context.Background())
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestSnowflake_InvalidNode(t *testing.T) {
	_, err := NewSnowflake(4096)
	assert.Error(t, err)
}

func TestSnowflake_CancelledContext(t *testing.T) {
	gen, err := NewSnowflake(0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.NextBatchID(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
