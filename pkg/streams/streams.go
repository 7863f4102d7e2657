// Package streams is a demand-driven reactive stream engine.
//
// A Publisher produces at most one linear sequence of values followed by
// exactly one terminal event. Demand flows upstream through Subscription.Request;
// values, completion and errors flow downstream. All callbacks for one
// subscription execute on the thread that called Subscribe or on a single
// reactor goroutine; ThreadedWorker is the only combinator that introduces
// a thread boundary.
package streams

import "errors"

var (
	// ErrAlreadySubscribed is delivered to the second subscriber of a
	// one-shot publisher. It is not retryable.
	ErrAlreadySubscribed = errors.New("streams: publisher already subscribed")

	// ErrValueWasMoved reports a second read of a one-shot deferred value.
	ErrValueWasMoved = errors.New("streams: value was moved")

	// ErrNotInitialized reports a poll of a deferred value before resolution.
	ErrNotInitialized = errors.New("streams: value not initialized")

	// ErrReactor reports a pipeline stranded by its reactor: the loop
	// drained without the stream reaching a terminal event.
	ErrReactor = errors.New("streams: reactor error")
)

// Subscription is the upstream handle held by a subscriber.
type Subscription interface {
	// Request grants permission to emit up to n more values.
	Request(n int)
	// Cancel requests immediate termination without further values.
	Cancel()
}

// Observer receives values and exactly one terminal event.
type Observer[T any] interface {
	// OnNext delivers a value. Ownership of the value transfers to the
	// observer.
	OnNext(t T)
	// OnError terminates the stream with an error condition.
	OnError(err error)
	// OnComplete terminates the stream normally.
	OnComplete()
}

// Subscriber is the downstream endpoint of a stream.
// It must remain alive until a terminal event or until Cancel has propagated.
type Subscriber[T any] interface {
	Observer[T]
	// OnSubscribe is called exactly once with the upstream handle.
	OnSubscribe(s Subscription)
}

// Publisher is a one-shot factory for a value sequence. Subscribing a second
// time fails fast with ErrAlreadySubscribed.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// Op transforms one publisher into another. It is the unit of pipeline
// composition: ops apply left to right and compose associatively.
type Op[S, T any] func(Publisher[S]) Publisher[T]

// Pipe applies an operator to a publisher.
func Pipe[S, T any](p Publisher[S], op Op[S, T]) Publisher[T] {
	return op(p)
}

// Pipe2 applies two operators in order.
func Pipe2[S, M, T any](p Publisher[S], a Op[S, M], b Op[M, T]) Publisher[T] {
	return b(a(p))
}

// Pipe3 applies three operators in order.
func Pipe3[S, M1, M2, T any](p Publisher[S], a Op[S, M1], b Op[M1, M2], c Op[M2, T]) Publisher[T] {
	return c(b(a(p)))
}

// Then composes two operators into one.
func Then[S, M, T any](a Op[S, M], b Op[M, T]) Op[S, T] {
	return func(p Publisher[S]) Publisher[T] {
		return b(a(p))
	}
}

// Lift turns a publisher-to-publisher function into an operator. It is the
// extension point for user-defined combinators.
func Lift[S, T any](op func(Publisher[S]) Publisher[T]) Op[S, T] {
	return op
}

// processSubscriber drives a stream one value at a time until a terminal
// event and resolves the deferred outcome.
type processSubscriber[T any] struct {
	onNext func(T)
	done   *Deferred[struct{}]
	sub    Subscription
}

func (p *processSubscriber[T]) OnSubscribe(s Subscription) {
	p.sub = s
	s.Request(1)
}

func (p *processSubscriber[T]) OnNext(t T) {
	p.onNext(t)
	p.sub.Request(1)
}

func (p *processSubscriber[T]) OnError(err error) {
	p.done.Fail(err)
}

func (p *processSubscriber[T]) OnComplete() {
	p.done.Resolve(struct{}{})
}

// Process installs a trivial subscriber that requests values one at a time
// and invokes fn for each. The returned deferred resolves when the stream
// terminates: successfully on completion, with the error condition otherwise.
func Process[T any](p Publisher[T], fn func(T)) *Deferred[struct{}] {
	d := NewDeferred[struct{}]()
	p.Subscribe(&processSubscriber[T]{onNext: fn, done: d})
	return d
}
