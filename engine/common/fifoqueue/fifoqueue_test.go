package fifoqueue_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywatch/relaywatch/engine/common/fifoqueue"
)

func TestFifoQueue_Order(t *testing.T) {
	queue, err := fifoqueue.NewFifoQueue[int]()
	require.NoError(t, err)

	_, ok := queue.Pop()
	assert.False(t, ok)

	for i := 0; i < 10; i++ {
		require.True(t, queue.Push(i))
	}
	assert.Equal(t, 10, queue.Len())

	for i := 0; i < 10; i++ {
		element, ok := queue.Pop()
		require.True(t, ok)
		assert.Equal(t, i, element)
	}
	assert.Equal(t, 0, queue.Len())
}

func TestFifoQueue_Capacity(t *testing.T) {
	_, err := fifoqueue.NewFifoQueue[string](fifoqueue.WithCapacity(0))
	require.Error(t, err)

	queue, err := fifoqueue.NewFifoQueue[string](fifoqueue.WithCapacity(2))
	require.NoError(t, err)
	assert.True(t, queue.Push("a"))
	assert.True(t, queue.Push("b"))
	assert.False(t, queue.Push("c"))

	_, _ = queue.Pop()
	assert.True(t, queue.Push("c"))
}

func TestFifoQueue_LengthObserver(t *testing.T) {
	_, err := fifoqueue.NewFifoQueue[int](fifoqueue.WithLengthObserver(nil))
	require.Error(t, err)

	var lengths []int
	queue, err := fifoqueue.NewFifoQueue[int](
		fifoqueue.WithCapacity(2),
		fifoqueue.WithLengthObserver(func(length int) { lengths = append(lengths, length) }),
	)
	require.NoError(t, err)

	queue.Push(1)
	queue.Push(2)
	queue.Push(3) // dropped, not observed
	queue.Pop()
	queue.Pop()
	queue.Pop() // empty, not observed

	assert.Equal(t, []int{1, 2, 1, 0}, lengths)
}

func TestFifoQueue_Concurrent(t *testing.T) {
	queue, err := fifoqueue.NewFifoQueue[int]()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				queue.Push(i)
				_ = queue.Len()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, queue.Len())

	popped := 0
	for {
		if _, ok := queue.Pop(); !ok {
			break
		}
		popped++
	}
	assert.Equal(t, 800, popped)
}
