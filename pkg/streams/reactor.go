package streams

import (
	"sort"
	"sync"
	"time"
)

// Task is a unit of work queued on a reactor.
type Task func()

// Reactor is a single-goroutine event loop. Stream sources that perform
// non-blocking I/O hand their callbacks to the reactor via Post so that all
// observer calls for a pipeline stay on one goroutine.
type Reactor interface {
	// Post enqueues a task on the reactor goroutine. Safe from any goroutine.
	Post(t Task)
	// Schedule runs a task after the given delay. Safe from any goroutine.
	Schedule(d time.Duration, t Task)
	// Run drives the loop until no work remains (or Stop is called) and
	// returns the number of tasks executed.
	Run() int
	// Stop makes Run return as soon as the current task finishes.
	Stop()
	// Hold keeps Run alive while external work is outstanding. The returned
	// release function drops the hold; releasing twice is a no-op.
	Hold() func()
}

type timedTask struct {
	at   time.Time
	task Task
}

// loop is the standard Reactor implementation.
type loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	timers  []timedTask
	holds   int
	stopped bool
}

// NewLoop returns an idle reactor.
func NewLoop() Reactor {
	l := &loop{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *loop) Post(t Task) {
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.mu.Unlock()
	l.cond.Signal()
}

func (l *loop) Schedule(d time.Duration, t Task) {
	l.mu.Lock()
	l.timers = append(l.timers, timedTask{at: time.Now().Add(d), task: t})
	sort.Slice(l.timers, func(i, j int) bool { return l.timers[i].at.Before(l.timers[j].at) })
	l.mu.Unlock()
	l.cond.Signal()
}

func (l *loop) Hold() func() {
	l.mu.Lock()
	l.holds++
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.holds--
			l.mu.Unlock()
			l.cond.Signal()
		})
	}
}

func (l *loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.cond.Signal()
}

func (l *loop) Run() int {
	executed := 0
	for {
		task, ok := l.next()
		if !ok {
			return executed
		}
		task()
		executed++
	}
}

// next blocks until a task is runnable, all work drains, or the loop stops.
func (l *loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.stopped {
			return nil, false
		}
		if len(l.queue) > 0 {
			t := l.queue[0]
			l.queue = l.queue[1:]
			return t, true
		}
		if len(l.timers) > 0 {
			now := time.Now()
			head := l.timers[0]
			if !head.at.After(now) {
				l.timers = l.timers[1:]
				return head.task, true
			}
			l.waitUntil(head.at)
			continue
		}
		if l.holds == 0 {
			return nil, false
		}
		l.cond.Wait()
	}
}

// waitUntil releases the lock until roughly the deadline or a signal.
func (l *loop) waitUntil(at time.Time) {
	d := time.Until(at)
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() { l.cond.Signal() })
	l.cond.Wait()
	timer.Stop()
}

// Interval paces upstream values at most one per period, using the reactor
// to gate emission. Values produced between gates are buffered, bounded by
// downstream demand; upstream demand is withheld until the next gate opens.
// This is the mechanism by which a replay source is paced to its nominal
// frame rate.
func Interval[T any](r Reactor, period time.Duration) Op[T, T] {
	return func(src Publisher[T]) Publisher[T] {
		return &opPublisher[T, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[T] {
			return &intervalSubscriber[T]{reactor: r, period: period, down: down, gateOpen: true}
		}}
	}
}

type intervalSubscriber[T any] struct {
	reactor Reactor
	period  time.Duration
	down    Subscriber[T]
	up      Subscription

	buffer    []T
	demand    int
	gateOpen  bool
	requested bool
	upDone    bool
	upErr     error
	errSet    bool
	done      bool
	release   func()
}

func (i *intervalSubscriber[T]) OnSubscribe(s Subscription) {
	i.up = s
	i.release = i.reactor.Hold()
	i.down.OnSubscribe(i)
}

func (i *intervalSubscriber[T]) Request(n int) {
	if i.done || n <= 0 {
		return
	}
	i.demand += n
	i.pump()
}

func (i *intervalSubscriber[T]) Cancel() {
	if i.done {
		return
	}
	i.done = true
	i.buffer = nil
	if !i.upDone {
		i.up.Cancel()
	}
	i.release()
}

func (i *intervalSubscriber[T]) OnNext(v T) {
	if i.done {
		return
	}
	i.requested = false
	i.buffer = append(i.buffer, v)
	i.pump()
}

func (i *intervalSubscriber[T]) OnError(err error) {
	if i.done {
		return
	}
	i.upDone = true
	i.upErr = err
	i.errSet = true
	// Buffered values are stale once the source has failed.
	i.buffer = nil
	i.finishIfDrained()
}

func (i *intervalSubscriber[T]) OnComplete() {
	if i.done {
		return
	}
	i.upDone = true
	i.finishIfDrained()
}

// pump emits one value if the gate is open and demand allows, then closes
// the gate for one period. It also re-issues upstream demand when the buffer
// has room for the next gated emission.
func (i *intervalSubscriber[T]) pump() {
	if i.done {
		return
	}
	if i.gateOpen && i.demand > 0 && len(i.buffer) > 0 {
		v := i.buffer[0]
		i.buffer = i.buffer[1:]
		i.demand--
		i.gateOpen = false
		i.reactor.Schedule(i.period, i.openGate)
		i.down.OnNext(v)
		if i.done {
			return
		}
	}
	if i.upDone {
		i.finishIfDrained()
		return
	}
	if !i.requested && len(i.buffer) == 0 && i.demand > 0 {
		i.requested = true
		i.up.Request(1)
	}
}

func (i *intervalSubscriber[T]) openGate() {
	if i.done {
		return
	}
	i.gateOpen = true
	i.pump()
}

func (i *intervalSubscriber[T]) finishIfDrained() {
	if i.done || len(i.buffer) > 0 {
		return
	}
	i.done = true
	i.release()
	if i.errSet {
		i.down.OnError(i.upErr)
		return
	}
	i.down.OnComplete()
}
