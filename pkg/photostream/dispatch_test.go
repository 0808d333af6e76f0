package photostream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineRunsOnCaller(t *testing.T) {
	ran := false
	assert.True(t, Inline.Post(func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := NewLoop(4)
	l.Start(context.Background())
	defer l.Stop()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.True(t, l.WaitIdle(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopRunsOnSingleGoroutine(t *testing.T) {
	l := NewLoop(16)
	l.Start(context.Background())
	defer l.Stop()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() {
				n := active.Add(1)
				if n > maxActive.Load() {
					maxActive.Store(n)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
			})
		}()
	}
	wg.Wait()
	require.True(t, l.WaitIdle(2*time.Second))
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestLoopStopDrainsAndRejects(t *testing.T) {
	l := NewLoop(8)
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		require.True(t, l.Post(func() { ran.Add(1) }))
	}

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()
	l.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.EqualValues(t, 3, ran.Load(), "queued tasks still run")
	assert.False(t, l.Post(func() {}), "post after stop is rejected")
	assert.False(t, l.Post(nil))
	l.Stop()
}

func TestLoopRecoversFromPanics(t *testing.T) {
	l := NewLoop(4)
	l.Start(context.Background())
	defer l.Stop()

	var after atomic.Bool
	l.Post(func() { panic("listener bug") })
	l.Post(func() { after.Store(true) })

	require.True(t, l.WaitIdle(2*time.Second))
	assert.True(t, after.Load())
}

func TestLoopStopsWithContext(t *testing.T) {
	l := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoopRejectsPostsAfterContextEnds(t *testing.T) {
	l := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Bool
	require.True(t, l.Post(func() { ran.Store(true) }))
	cancel()
	exited := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, ran.Load(), "queued task runs before the loop exits")
	posted := make(chan bool, 1)
	go func() {
		for i := 0; i < 3; i++ {
			if !l.Post(func() {}) {
				posted <- false
				return
			}
		}
		posted <- true
	}()
	select {
	case ok := <-posted:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Post blocked after the loop's context ended")
	}
	assert.True(t, l.WaitIdle(time.Second))
}

func TestLoopWaitIdleTimesOut(t *testing.T) {
	l := NewLoop(1)
	require.True(t, l.Post(func() {}))
	assert.False(t, l.WaitIdle(30*time.Millisecond), "nothing runs the queue")
}
