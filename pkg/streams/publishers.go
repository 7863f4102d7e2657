package streams

// Empty returns a publisher that completes immediately.
func Empty[T any]() Publisher[T] {
	return Stateful(func() struct{} { return struct{}{} },
		func(_ struct{}, _ int, obs Observer[T]) {
			obs.OnComplete()
		})
}

// Error returns a publisher that terminates immediately with err.
func Error[T any](err error) Publisher[T] {
	return Stateful(func() struct{} { return struct{}{} },
		func(_ struct{}, _ int, obs Observer[T]) {
			obs.OnError(err)
		})
}

// Of returns a publisher of the given values, in order.
func Of[T any](values ...T) Publisher[T] {
	create := func() *int { i := 0; return &i }
	return Stateful(create, func(i *int, n int, obs Observer[T]) {
		for ; n > 0; n-- {
			if *i >= len(values) {
				obs.OnComplete()
				return
			}
			v := values[*i]
			*i++
			obs.OnNext(v)
		}
		if *i >= len(values) {
			obs.OnComplete()
		}
	})
}

// Range returns a publisher of the half-open integer interval [from, to).
func Range(from, to int64) Publisher[int64] {
	create := func() *int64 { i := from; return &i }
	return Stateful(create, func(i *int64, n int, obs Observer[int64]) {
		for ; n > 0; n-- {
			if *i >= to {
				obs.OnComplete()
				return
			}
			v := *i
			*i++
			obs.OnNext(v)
		}
		if *i >= to {
			obs.OnComplete()
		}
	})
}

// Merge streams each publisher consequently: the first must terminate before
// the next is subscribed. An error from any stage terminates the merge.
func Merge[T any](publishers ...Publisher[T]) Publisher[T] {
	return &mergePublisher[T]{sources: publishers}
}

type mergePublisher[T any] struct {
	sources    []Publisher[T]
	subscribed bool
}

func (p *mergePublisher[T]) Subscribe(down Subscriber[T]) {
	if p.subscribed {
		down.OnError(ErrAlreadySubscribed)
		return
	}
	p.subscribed = true
	m := &mergeState[T]{sources: p.sources, down: down}
	down.OnSubscribe(m)
	m.next()
}

// mergeState is both the downstream's subscription and the subscriber of the
// current stage. Unused demand carries over between stages.
type mergeState[T any] struct {
	sources []Publisher[T]
	down    Subscriber[T]

	idx     int
	current Subscription
	demand  int
	done    bool
}

func (m *mergeState[T]) next() {
	if m.done {
		return
	}
	if m.idx >= len(m.sources) {
		m.done = true
		m.down.OnComplete()
		return
	}
	src := m.sources[m.idx]
	m.idx++
	src.Subscribe(m)
}

func (m *mergeState[T]) Request(n int) {
	if m.done || n <= 0 {
		return
	}
	m.demand += n
	if m.current != nil {
		m.current.Request(n)
	}
}

func (m *mergeState[T]) Cancel() {
	if m.done {
		return
	}
	m.done = true
	if m.current != nil {
		m.current.Cancel()
	}
}

func (m *mergeState[T]) OnSubscribe(s Subscription) {
	if m.done {
		s.Cancel()
		return
	}
	m.current = s
	if m.demand > 0 {
		s.Request(m.demand)
	}
}

func (m *mergeState[T]) OnNext(t T) {
	if m.done {
		return
	}
	m.demand--
	m.down.OnNext(t)
}

func (m *mergeState[T]) OnError(err error) {
	if m.done {
		return
	}
	m.done = true
	m.current = nil
	m.down.OnError(err)
}

func (m *mergeState[T]) OnComplete() {
	if m.done {
		return
	}
	m.current = nil
	m.next()
}
