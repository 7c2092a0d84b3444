package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkevin01/wifi-radar/internal/config"
)

func TestQueue_LatencyFirstDropsOldest(t *testing.T) {
	var dropped []int
	q := NewQueue("test", config.BackpressureLatencyFirst, 2, func(v int, total uint64) {
		dropped = append(dropped, v)
		assert.Equal(t, uint64(len(dropped)), total)
	})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		start := time.Now()
		require.NoError(t, q.Push(ctx, i))
		assert.Less(t, time.Since(start), 50*time.Millisecond, "push %d blocked", i)
	}

	assert.Equal(t, uint64(8), q.Dropped())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, dropped)
	assert.Equal(t, 2, q.Len())

	q.Close()
	for _, want := range []int{8, 9} {
		v, ok := q.Pop(ctx)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestQueue_CompletenessFirstBlocks(t *testing.T) {
	q := NewQueue[int]("test", config.BackpressureCompletenessFirst, 1, nil)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, 1))

	done := make(chan error, 1)
	go func() { done <- q.Push(ctx, 2) }()

	select {
	case <-done:
		t.Fatal("push into a full completeness-first queue returned without a consumer")
	case <-time.After(30 * time.Millisecond):
	}

	v, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	require.NoError(t, <-done)

	v, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Zero(t, q.Dropped())
}

func TestQueue_Cancellation(t *testing.T) {
	q := NewQueue[int]("test", config.BackpressureCompletenessFirst, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Push(ctx, 1))
	cancel()

	assert.ErrorIs(t, q.Push(ctx, 2), context.Canceled)

	empty := NewQueue[int]("empty", config.BackpressureCompletenessFirst, 1, nil)
	_, ok := empty.Pop(ctx)
	assert.False(t, ok)
}

func TestQueue_MinimumCapacity(t *testing.T) {
	q := NewQueue[int]("test", config.BackpressureLatencyFirst, 0, nil)
	assert.Equal(t, 1, q.Cap())
	assert.Equal(t, "test", q.Name())
}

func TestQueue_MergeCarriesDroppedItems(t *testing.T) {
	q := NewQueue[[]int]("test", config.BackpressureLatencyFirst, 1, nil)
	q.SetMerge(func(older, newer []int) []int { return append(append([]int(nil), older...), newer...) })

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(ctx, []int{i}))
	}
	assert.Equal(t, uint64(3), q.Dropped())

	v, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 2, 3}, v, "dropped items ride along, oldest first")

	require.NoError(t, q.Push(ctx, []int{4}))
	v, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, []int{4}, v, "carry is consumed once")
}

func TestQueue_MergeSkipsItemsNewerThanPopped(t *testing.T) {
	q := NewQueue[[]int]("test", config.BackpressureLatencyFirst, 1, nil)
	q.SetMerge(func(older, newer []int) []int { return append(append([]int(nil), older...), newer...) })

	// An item dropped after the consumer received an older one belongs
	// to the item that follows it.
	q.carry = append(q.carry, entry[[]int]{seq: 5, v: []int{5}})
	assert.Equal(t, []int{3}, q.absorb(entry[[]int]{seq: 3, v: []int{3}}))
	assert.Equal(t, []int{5, 6}, q.absorb(entry[[]int]{seq: 6, v: []int{6}}))
	assert.Empty(t, q.carry)
}
