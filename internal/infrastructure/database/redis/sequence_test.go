package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_NextBatchID(t *testing.T) {
	client, mr := newTestClient(t)
	seq := NewSequence(client)
	ctx := context.Background()

	a, err := seq.NextBatchID(ctx)
	require.NoError(t, err)
	b, err := seq.NextBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(2), b)

	v, err := mr.Get("test:seq:renewal_batch")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestSequence_Concurrent(t *testing.T) {
	client, _ := newTestClient(t)
	seq := NewSequence(client)

	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := seq.NextBatchID(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestSequence_Seed(t *testing.T) {
	client, _ := newTestClient(t)
	seq := NewSequence(client)
	ctx := context.Background()

	require.NoError(t, seq.Seed(ctx, 500))
	id, err := seq.NextBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(501), id)

	require.NoError(t, seq.Seed(ctx, 10), "seeding never moves the counter back")
	id, err = seq.NextBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(502), id)

	_, err = client.Get(ctx, "missing").Result()
	assert.Error(t, err)
}
