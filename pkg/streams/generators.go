package streams

import "io"

// GenFunc emits up to n values into the observer. It may emit fewer, and it
// may terminate the stream with OnComplete or OnError. When it returns
// without terminating and without exhausting the grant, the engine stops
// calling it until more demand arrives.
type GenFunc[State, T any] func(state State, n int, obs Observer[T])

// Stateful builds a pull-mode publisher around a per-subscription state
// object. create runs on subscribe; gen runs synchronously whenever there is
// outstanding demand. If the state implements io.Closer it is closed on any
// terminal event or cancellation.
func Stateful[State, T any](create func() State, gen GenFunc[State, T]) Publisher[T] {
	return &statefulPublisher[State, T]{create: create, gen: gen}
}

type statefulPublisher[State, T any] struct {
	create     func() State
	gen        GenFunc[State, T]
	subscribed bool
}

func (p *statefulPublisher[State, T]) Subscribe(down Subscriber[T]) {
	if p.subscribed {
		down.OnError(ErrAlreadySubscribed)
		return
	}
	p.subscribed = true
	s := &statefulSubscription[State, T]{
		state: p.create(),
		gen:   p.gen,
		down:  down,
	}
	down.OnSubscribe(s)
}

type statefulSubscription[State, T any] struct {
	state State
	gen   GenFunc[State, T]
	down  Subscriber[T]

	demand   int
	emitting bool
	done     bool
}

func (s *statefulSubscription[State, T]) Request(n int) {
	if s.done || n <= 0 {
		return
	}
	s.demand += n
	if s.emitting {
		return
	}
	s.emitting = true
	defer func() { s.emitting = false }()

	for s.demand > 0 && !s.done {
		want := s.demand
		sink := &countingObserver[State, T]{sub: s}
		s.gen(s.state, want, sink)
		if s.done {
			return
		}
		if sink.emitted < want {
			// Generator yielded less than granted; wait for new demand.
			return
		}
	}
}

func (s *statefulSubscription[State, T]) Cancel() {
	if s.done {
		return
	}
	s.terminate()
}

func (s *statefulSubscription[State, T]) terminate() {
	s.done = true
	s.demand = 0
	if c, ok := any(s.state).(io.Closer); ok {
		_ = c.Close()
	}
}

// countingObserver enforces the grant and tracks how much of it was used.
type countingObserver[State, T any] struct {
	sub     *statefulSubscription[State, T]
	emitted int
}

func (o *countingObserver[State, T]) OnNext(t T) {
	s := o.sub
	if s.done || s.demand <= 0 {
		return
	}
	o.emitted++
	s.demand--
	s.down.OnNext(t)
}

func (o *countingObserver[State, T]) OnError(err error) {
	s := o.sub
	if s.done {
		return
	}
	s.terminate()
	s.down.OnError(err)
}

func (o *countingObserver[State, T]) OnComplete() {
	s := o.sub
	if s.done {
		return
	}
	s.terminate()
	s.down.OnComplete()
}

// Async builds a push-mode publisher around an externally driven producer.
// init is called once with the downstream observer and returns a state
// handle; cancel releases it on termination. Demand is not enforced: an
// async source must either respect an unbounded implicit credit or apply
// its own buffering and drop policy.
func Async[State, T any](init func(obs Observer[T]) State, cancel func(State)) Publisher[T] {
	return &asyncPublisher[State, T]{init: init, cancel: cancel}
}

type asyncPublisher[State, T any] struct {
	init       func(obs Observer[T]) State
	cancel     func(State)
	subscribed bool
}

func (p *asyncPublisher[State, T]) Subscribe(down Subscriber[T]) {
	if p.subscribed {
		down.OnError(ErrAlreadySubscribed)
		return
	}
	p.subscribed = true
	s := &asyncSubscription[State, T]{cancelFn: p.cancel, down: down}
	down.OnSubscribe(s)
	s.state = p.init(s)
	s.started = true
	if s.done {
		// Terminated during init; release the state now that we have it.
		p.cancel(s.state)
	}
}

type asyncSubscription[State, T any] struct {
	state    State
	cancelFn func(State)
	down     Subscriber[T]
	started  bool
	done     bool
}

// Request is ignored: async producers run ahead of demand.
func (s *asyncSubscription[State, T]) Request(n int) {}

func (s *asyncSubscription[State, T]) Cancel() {
	if s.done {
		return
	}
	s.done = true
	if s.started {
		s.cancelFn(s.state)
	}
}

func (s *asyncSubscription[State, T]) OnNext(t T) {
	if s.done {
		return
	}
	s.down.OnNext(t)
}

func (s *asyncSubscription[State, T]) OnError(err error) {
	if s.done {
		return
	}
	s.done = true
	if s.started {
		s.cancelFn(s.state)
	}
	s.down.OnError(err)
}

func (s *asyncSubscription[State, T]) OnComplete() {
	if s.done {
		return
	}
	s.done = true
	if s.started {
		s.cancelFn(s.state)
	}
	s.down.OnComplete()
}
