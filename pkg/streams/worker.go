package streams

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// workerQueueCapacity bounds the hand-off buffer between the producer and
// the worker goroutine. One slot is enough: the pipeline carries live video,
// so a consumer that stalls should see the newest frame, not a backlog.
const workerQueueCapacity = 1

// ThreadedWorker moves the downstream onto a dedicated named goroutine.
// The upstream keeps running on the caller's goroutine; a bounded hand-off
// queue with a drop-oldest policy sits between them, so a stalled consumer
// never blocks the producer. Dropped counts are logged periodically and
// available through the queue's telemetry counter.
func ThreadedWorker[T any](name string) Op[T, T] {
	return func(src Publisher[T]) Publisher[T] {
		return &opPublisher[T, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[T] {
			w := &workerSubscriber[T]{name: name, down: down}
			w.cond = sync.NewCond(&w.mu)
			return w
		}}
	}
}

type workerItem[T any] struct {
	value    T
	err      error
	terminal bool
	failed   bool
}

type workerSubscriber[T any] struct {
	name string
	down Subscriber[T]
	up   Subscription

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []workerItem[T]
	demand  int
	stopped bool
	joined  chan struct{}

	dropped    atomic.Uint64
	delivering atomic.Bool
	upCancel   sync.Once
}

// Dropped reports how many values were discarded by the drop-oldest policy.
func (w *workerSubscriber[T]) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *workerSubscriber[T]) OnSubscribe(s Subscription) {
	w.up = s
	w.joined = make(chan struct{})
	go w.run()
	w.down.OnSubscribe(w)
	s.Request(1)
}

// OnNext runs on the producer goroutine. A full queue drops its oldest
// value rather than blocking.
func (w *workerSubscriber[T]) OnNext(v T) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		// A cancel issued on the worker goroutine leaves upstream
		// cancellation to the producer side, which owns the upstream.
		w.upCancel.Do(w.up.Cancel)
		return
	}
	if len(w.queue) >= workerQueueCapacity {
		for idx, it := range w.queue {
			if !it.terminal {
				w.queue = append(w.queue[:idx], w.queue[idx+1:]...)
				n := w.dropped.Add(1)
				if n%100 == 1 {
					slog.Warn("worker queue full, dropping oldest value",
						"worker", w.name, "dropped", n)
				}
				break
			}
		}
	}
	w.queue = append(w.queue, workerItem[T]{value: v})
	w.mu.Unlock()
	w.cond.Signal()
	w.up.Request(1)
}

func (w *workerSubscriber[T]) OnError(err error) {
	w.enqueueTerminal(workerItem[T]{terminal: true, failed: true, err: err})
}

func (w *workerSubscriber[T]) OnComplete() {
	w.enqueueTerminal(workerItem[T]{terminal: true})
}

// Terminal events queue behind values already handed off so the downstream
// observes them in order.
func (w *workerSubscriber[T]) enqueueTerminal(it workerItem[T]) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, it)
	w.mu.Unlock()
	w.cond.Signal()
}

// Request runs on the worker goroutine (the downstream lives there).
func (w *workerSubscriber[T]) Request(n int) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	w.demand += n
	w.mu.Unlock()
	w.cond.Signal()
}

// Cancel marks the worker stopped, discards pending values, cancels the
// upstream, and joins the worker goroutine unless invoked from it.
func (w *workerSubscriber[T]) Cancel() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.queue = nil
	w.mu.Unlock()
	w.cond.Broadcast()
	if w.delivering.Load() {
		// Invoked from the worker goroutine mid-delivery: joining here
		// would deadlock, and the upstream belongs to the producer
		// goroutine, which cancels it on its next emission.
		return
	}
	w.upCancel.Do(w.up.Cancel)
	<-w.joined
}

func (w *workerSubscriber[T]) run() {
	defer close(w.joined)
	for {
		it, ok := w.take()
		if !ok {
			return
		}
		w.delivering.Store(true)
		switch {
		case it.failed:
			w.down.OnError(it.err)
		case it.terminal:
			w.down.OnComplete()
		default:
			w.down.OnNext(it.value)
		}
		w.delivering.Store(false)
		if it.terminal {
			w.markStopped()
			return
		}
	}
}

func (w *workerSubscriber[T]) take() (workerItem[T], bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if w.stopped {
			return workerItem[T]{}, false
		}
		if len(w.queue) > 0 {
			head := w.queue[0]
			if head.terminal || w.demand > 0 {
				w.queue = w.queue[1:]
				if !head.terminal {
					w.demand--
				}
				return head, true
			}
		}
		w.cond.Wait()
	}
}

func (w *workerSubscriber[T]) markStopped() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}
