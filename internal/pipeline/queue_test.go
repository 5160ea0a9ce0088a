package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 4; i++ {
		require.True(t, q.Put(i))
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Get()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.True(t, q.Empty())
}

func TestQueuePutBlocksWhenFull(t *testing.T) {
	q := NewQueue[int](1)
	require.True(t, q.Put(1))

	done := make(chan struct{})
	go func() {
		q.Put(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Put returned with the queue full")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.Get()
	require.True(t, ok)
	<-done
	assert.Equal(t, 1, q.Len())
}

func TestQueueCloseWakesWaiters(t *testing.T) {
	// A Get waits on an empty queue and a Put waits on a full one.
	empty := NewQueue[int](1)
	full := NewQueue[int](1)
	require.True(t, full.Put(1)) // fills the queue

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, ok := empty.Get()
		assert.False(t, ok)
	}()
	go func() {
		defer wg.Done()
		assert.False(t, full.Put(2))
	}()

	time.Sleep(20 * time.Millisecond)
	// Closing must wake both sides; the queued item stays drainable.
	empty.Close()
	full.Close()
	wg.Wait()

	v, ok := full.Get()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = full.Get()
	assert.False(t, ok)
}

func TestQueueDrainAfterClose(t *testing.T) {
	q := NewQueue[int](4)
	require.True(t, q.Put(7))
	require.True(t, q.Put(8))
	q.Close()

	assert.False(t, q.Put(9))
	v, ok := q.Get()
	require.True(t, ok)
	assert.Equal(t, 7, v)
	v, ok = q.Get()
	require.True(t, ok)
	assert.Equal(t, 8, v)
	_, ok = q.Get()
	assert.False(t, ok)
}

func TestQueueReopen(t *testing.T) {
	q := NewQueue[int](2)
	q.Close()
	assert.False(t, q.Put(1))

	q.Open()
	assert.True(t, q.Put(1))
	v, ok := q.Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}
