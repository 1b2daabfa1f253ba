package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedRingQueueRejectsOverflow(t *testing.T) {
	q := NewRingQueue[int](2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	assert.ErrorIs(t, q.Enqueue(3), ErrQueueFull)

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, q.Enqueue(3))
	v, _ = q.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = q.Dequeue()
	assert.Equal(t, 3, v)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestGrowableRingQueueKeepsOrderAcrossWrap(t *testing.T) {
	q := NewGrowableRingQueue[int](2)
	require.NoError(t, q.Enqueue(0))
	require.NoError(t, q.Enqueue(1))
	_, _ = q.Dequeue()
	for i := 2; i < 10; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.Equal(t, 9, q.Len())
	assert.GreaterOrEqual(t, q.Cap(), 9)

	head, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, head)

	for want := 1; want < 10; want++ {
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, q.IsEmpty())
}
