package streams

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// SignalBreaker converts OS signals into graceful completion: on the first
// delivery of any listed signal the upstream is cancelled and the downstream
// observes OnComplete. The handler is installed on subscribe, is idempotent,
// and is removed on any terminal event.
//
// When a reactor is supplied the break executes on the reactor goroutine,
// keeping the pipeline single-threaded; with a nil reactor it runs directly
// on the signal-watcher goroutine, which is only appropriate for pipelines
// driven from a single blocked caller.
func SignalBreaker[T any](r Reactor, signals ...os.Signal) Op[T, T] {
	return func(src Publisher[T]) Publisher[T] {
		return &opPublisher[T, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[T] {
			return &signalSubscriber[T]{reactor: r, signals: signals, down: down}
		}}
	}
}

type signalSubscriber[T any] struct {
	reactor Reactor
	signals []os.Signal
	down    Subscriber[T]
	up      Subscription

	ch      chan os.Signal
	uninst  sync.Once
	done    atomic.Bool
	release func()
}

func (b *signalSubscriber[T]) OnSubscribe(s Subscription) {
	b.up = s
	b.ch = make(chan os.Signal, 1)
	signal.Notify(b.ch, b.signals...)
	if b.reactor != nil {
		b.release = b.reactor.Hold()
	}
	go b.watch()
	b.down.OnSubscribe(b)
}

func (b *signalSubscriber[T]) watch() {
	if _, ok := <-b.ch; !ok {
		return
	}
	if b.reactor != nil {
		b.reactor.Post(b.trip)
		return
	}
	b.trip()
}

// trip performs the break once: cancel upstream, complete downstream.
func (b *signalSubscriber[T]) trip() {
	if !b.done.CompareAndSwap(false, true) {
		return
	}
	b.uninstall()
	b.up.Cancel()
	b.down.OnComplete()
}

func (b *signalSubscriber[T]) uninstall() {
	b.uninst.Do(func() {
		signal.Stop(b.ch)
		close(b.ch)
		if b.release != nil {
			b.release()
		}
	})
}

func (b *signalSubscriber[T]) OnNext(v T) {
	if b.done.Load() {
		return
	}
	b.down.OnNext(v)
}

func (b *signalSubscriber[T]) OnError(err error) {
	if !b.done.CompareAndSwap(false, true) {
		return
	}
	b.uninstall()
	b.down.OnError(err)
}

func (b *signalSubscriber[T]) OnComplete() {
	if !b.done.CompareAndSwap(false, true) {
		return
	}
	b.uninstall()
	b.down.OnComplete()
}

func (b *signalSubscriber[T]) Request(n int) {
	if b.done.Load() {
		return
	}
	b.up.Request(n)
}

func (b *signalSubscriber[T]) Cancel() {
	if !b.done.CompareAndSwap(false, true) {
		return
	}
	b.uninstall()
	b.up.Cancel()
}
