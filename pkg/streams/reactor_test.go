package streams

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsPostedTasks(t *testing.T) {
	l := NewLoop()
	var order []int
	l.Post(func() { order = append(order, 1) })
	l.Post(func() { order = append(order, 2) })
	n := l.Run()
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, order)
}

func TestLoopSchedule(t *testing.T) {
	l := NewLoop()
	var fired []string
	l.Schedule(20*time.Millisecond, func() { fired = append(fired, "late") })
	l.Schedule(time.Millisecond, func() { fired = append(fired, "early") })
	l.Run()
	assert.Equal(t, []string{"early", "late"}, fired)
}

func TestLoopStop(t *testing.T) {
	l := NewLoop()
	ran := false
	l.Post(func() { l.Stop() })
	l.Post(func() { ran = true })
	l.Run()
	assert.False(t, ran)
}

func TestLoopHoldKeepsRunAlive(t *testing.T) {
	l := NewLoop()
	release := l.Hold()
	done := make(chan int, 1)
	go func() { done <- l.Run() }()

	// Work arrives from outside while the loop is idle but held.
	time.Sleep(10 * time.Millisecond)
	executed := make(chan struct{})
	l.Post(func() { close(executed) })
	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("posted task did not run under hold")
	}

	release()
	select {
	case n := <-done:
		assert.GreaterOrEqual(t, n, 1)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after release")
	}
}

func TestIntervalPacesEmission(t *testing.T) {
	l := NewLoop()
	const period = 10 * time.Millisecond
	p := Pipe(Range(0, 4), Interval[int64](l, period))

	var stamps []time.Time
	done := Process(p, func(int64) { stamps = append(stamps, time.Now()) })
	l.Run()

	_, err := done.Wait()
	require.NoError(t, err)
	require.Len(t, stamps, 4)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, period/2, "gap %d too small: %v", i, gap)
	}
}

func TestIntervalPropagatesError(t *testing.T) {
	l := NewLoop()
	p := Pipe(Error[int](assert.AnError), Interval[int](l, time.Millisecond))
	done := Process(p, func(int) {})
	l.Run()
	_, err := done.Wait()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestIntervalCancelReleasesLoop(t *testing.T) {
	l := NewLoop()
	p := Pipe2(Range(0, 1000),
		Interval[int64](l, time.Millisecond),
		Take[int64](2))
	done := Process(p, func(int64) {})
	l.Run()
	_, err := done.Wait()
	require.NoError(t, err)
}

func TestSignalBreakerCompletesOnSignal(t *testing.T) {
	l := NewLoop()
	// An async source that never terminates on its own.
	src := Async(func(obs Observer[int]) struct{} { return struct{}{} },
		func(struct{}) {})
	finallyRan := false
	p := Pipe2(src,
		SignalBreaker[int](l, syscall.SIGUSR1),
		DoFinally[int](func() { finallyRan = true }))

	done := Process(p, func(int) {})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	}()
	l.Run()

	_, err := done.Wait()
	require.NoError(t, err)
	assert.True(t, finallyRan)
}

func TestSignalBreakerPassesThrough(t *testing.T) {
	p := Pipe(Range(0, 3), SignalBreaker[int64](nil, syscall.SIGUSR2))
	assert.Equal(t, []string{"0", "1", "2", "."}, events(t, p))
}
