package streams

// opPublisher subscribes the upstream with an intermediate subscriber built
// around the downstream. It carries the one-shot guard for the derived
// publisher.
type opPublisher[S, T any] struct {
	src        Publisher[S]
	bridge     func(down Subscriber[T]) Subscriber[S]
	subscribed bool
}

func (p *opPublisher[S, T]) Subscribe(down Subscriber[T]) {
	if p.subscribed {
		down.OnError(ErrAlreadySubscribed)
		return
	}
	p.subscribed = true
	p.src.Subscribe(p.bridge(down))
}

// Map transforms each upstream value. Demand is forwarded 1:1.
func Map[S, T any](fn func(S) T) Op[S, T] {
	return func(src Publisher[S]) Publisher[T] {
		return &opPublisher[S, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[S] {
			return &mapSubscriber[S, T]{fn: fn, down: down}
		}}
	}
}

type mapSubscriber[S, T any] struct {
	fn   func(S) T
	down Subscriber[T]
}

func (m *mapSubscriber[S, T]) OnSubscribe(s Subscription) { m.down.OnSubscribe(s) }
func (m *mapSubscriber[S, T]) OnNext(v S)                 { m.down.OnNext(m.fn(v)) }
func (m *mapSubscriber[S, T]) OnError(err error)          { m.down.OnError(err) }
func (m *mapSubscriber[S, T]) OnComplete()                { m.down.OnComplete() }

// Head keeps only the first value.
func Head[T any]() Op[T, T] {
	return Take[T](1)
}

// Take forwards the first n values, then cancels the upstream and completes.
// Take(0) completes immediately without subscribing to the upstream.
func Take[T any](n int) Op[T, T] {
	return func(src Publisher[T]) Publisher[T] {
		if n <= 0 {
			return &immediatePublisher[T]{}
		}
		return &opPublisher[T, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[T] {
			return &takeSubscriber[T]{remaining: n, down: down}
		}}
	}
}

// immediatePublisher completes on subscribe without an upstream.
type immediatePublisher[T any] struct {
	subscribed bool
}

func (p *immediatePublisher[T]) Subscribe(down Subscriber[T]) {
	if p.subscribed {
		down.OnError(ErrAlreadySubscribed)
		return
	}
	p.subscribed = true
	down.OnSubscribe(nopSubscription{})
	down.OnComplete()
}

type nopSubscription struct{}

func (nopSubscription) Request(int) {}
func (nopSubscription) Cancel()     {}

type takeSubscriber[T any] struct {
	remaining int
	down      Subscriber[T]
	up        Subscription
	done      bool
}

func (t *takeSubscriber[T]) OnSubscribe(s Subscription) {
	t.up = s
	t.down.OnSubscribe(t)
}

func (t *takeSubscriber[T]) OnNext(v T) {
	if t.done {
		return
	}
	t.remaining--
	t.down.OnNext(v)
	if t.remaining == 0 && !t.done {
		t.done = true
		t.up.Cancel()
		t.down.OnComplete()
	}
}

func (t *takeSubscriber[T]) OnError(err error) {
	if t.done {
		return
	}
	t.done = true
	t.down.OnError(err)
}

func (t *takeSubscriber[T]) OnComplete() {
	if t.done {
		return
	}
	t.done = true
	t.down.OnComplete()
}

// Request caps each request at the number of values still wanted; the
// running total across requests is not capped.
func (t *takeSubscriber[T]) Request(n int) {
	if t.done || n <= 0 {
		return
	}
	if n > t.remaining {
		n = t.remaining
	}
	t.up.Request(n)
}

func (t *takeSubscriber[T]) Cancel() {
	if t.done {
		return
	}
	t.done = true
	t.up.Cancel()
}

// TakeWhile forwards values while the predicate holds. The predicate runs
// once per element, before emission; on the first false the upstream is
// cancelled and the stream completes.
func TakeWhile[T any](pred func(T) bool) Op[T, T] {
	return func(src Publisher[T]) Publisher[T] {
		return &opPublisher[T, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[T] {
			return &takeWhileSubscriber[T]{pred: pred, down: down}
		}}
	}
}

type takeWhileSubscriber[T any] struct {
	pred func(T) bool
	down Subscriber[T]
	up   Subscription
	done bool
}

func (t *takeWhileSubscriber[T]) OnSubscribe(s Subscription) {
	t.up = s
	t.down.OnSubscribe(t)
}

func (t *takeWhileSubscriber[T]) OnNext(v T) {
	if t.done {
		return
	}
	if !t.pred(v) {
		t.done = true
		t.up.Cancel()
		t.down.OnComplete()
		return
	}
	t.down.OnNext(v)
}

func (t *takeWhileSubscriber[T]) OnError(err error) {
	if t.done {
		return
	}
	t.done = true
	t.down.OnError(err)
}

func (t *takeWhileSubscriber[T]) OnComplete() {
	if t.done {
		return
	}
	t.done = true
	t.down.OnComplete()
}

func (t *takeWhileSubscriber[T]) Request(n int) {
	if t.done {
		return
	}
	t.up.Request(n)
}

func (t *takeWhileSubscriber[T]) Cancel() {
	if t.done {
		return
	}
	t.done = true
	t.up.Cancel()
}

// DoFinally runs fn exactly once upon any terminal event: upstream
// completion, upstream error, or downstream cancellation. fn observes
// nothing about the outcome.
func DoFinally[T any](fn func()) Op[T, T] {
	return func(src Publisher[T]) Publisher[T] {
		return &opPublisher[T, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[T] {
			return &finallySubscriber[T]{fn: fn, down: down}
		}}
	}
}

type finallySubscriber[T any] struct {
	fn    func()
	down  Subscriber[T]
	up    Subscription
	fired bool
}

func (f *finallySubscriber[T]) fire() {
	if f.fired {
		return
	}
	f.fired = true
	f.fn()
}

func (f *finallySubscriber[T]) OnSubscribe(s Subscription) {
	f.up = s
	f.down.OnSubscribe(f)
}

func (f *finallySubscriber[T]) OnNext(v T) {
	if f.fired {
		return
	}
	f.down.OnNext(v)
}

func (f *finallySubscriber[T]) OnError(err error) {
	if f.fired {
		return
	}
	f.fire()
	f.down.OnError(err)
}

func (f *finallySubscriber[T]) OnComplete() {
	if f.fired {
		return
	}
	f.fire()
	f.down.OnComplete()
}

func (f *finallySubscriber[T]) Request(n int) {
	if f.fired {
		return
	}
	f.up.Request(n)
}

func (f *finallySubscriber[T]) Cancel() {
	if f.fired {
		return
	}
	f.up.Cancel()
	f.fire()
}

// FlatMap maps each upstream value to an inner publisher and drains inners
// strictly one after another: inner k terminates before inner k+1 is
// subscribed. Downstream completion requires the outer and the last inner to
// both complete; an inner error terminates the whole pipeline.
func FlatMap[S, T any](fn func(S) Publisher[T]) Op[S, T] {
	return func(src Publisher[S]) Publisher[T] {
		return &opPublisher[S, T]{src: src, bridge: func(down Subscriber[T]) Subscriber[S] {
			return &flatMapOuter[S, T]{fn: fn, down: down}
		}}
	}
}

// flatMapOuter subscribes to the outer stream and acts as the downstream's
// subscription; flatMapInner consumes one inner stream at a time.
type flatMapOuter[S, T any] struct {
	fn   func(S) Publisher[T]
	down Subscriber[T]

	up          Subscription
	inner       *flatMapInner[S, T]
	demand      int
	outerDone   bool
	outerActive bool // an outer value has been requested and not yet arrived
	done        bool
}

func (o *flatMapOuter[S, T]) OnSubscribe(s Subscription) {
	o.up = s
	o.down.OnSubscribe(o)
}

func (o *flatMapOuter[S, T]) Request(n int) {
	if o.done || n <= 0 {
		return
	}
	o.demand += n
	if o.inner != nil {
		o.inner.request(n)
		return
	}
	o.requestOuter()
}

func (o *flatMapOuter[S, T]) requestOuter() {
	if o.done || o.outerDone || o.outerActive || o.demand <= 0 {
		return
	}
	o.outerActive = true
	o.up.Request(1)
}

func (o *flatMapOuter[S, T]) Cancel() {
	if o.done {
		return
	}
	o.done = true
	if o.inner != nil {
		o.inner.cancel()
		o.inner = nil
	}
	if !o.outerDone {
		o.up.Cancel()
	}
}

func (o *flatMapOuter[S, T]) OnNext(v S) {
	if o.done {
		return
	}
	o.outerActive = false
	inner := &flatMapInner[S, T]{outer: o}
	o.inner = inner
	o.fn(v).Subscribe(inner)
}

func (o *flatMapOuter[S, T]) OnError(err error) {
	if o.done {
		return
	}
	o.done = true
	o.outerDone = true
	if o.inner != nil {
		o.inner.cancel()
		o.inner = nil
	}
	o.down.OnError(err)
}

func (o *flatMapOuter[S, T]) OnComplete() {
	if o.done {
		return
	}
	o.outerDone = true
	if o.inner == nil {
		o.done = true
		o.down.OnComplete()
	}
}

// innerTerminated is called when the current inner stream completes.
func (o *flatMapOuter[S, T]) innerTerminated() {
	o.inner = nil
	if o.done {
		return
	}
	if o.outerDone {
		o.done = true
		o.down.OnComplete()
		return
	}
	o.requestOuter()
}

type flatMapInner[S, T any] struct {
	outer *flatMapOuter[S, T]
	up    Subscription
	done  bool
}

func (i *flatMapInner[S, T]) OnSubscribe(s Subscription) {
	i.up = s
	if d := i.outer.demand; d > 0 {
		s.Request(d)
	}
}

func (i *flatMapInner[S, T]) request(n int) {
	if i.done || i.up == nil {
		return
	}
	i.up.Request(n)
}

func (i *flatMapInner[S, T]) cancel() {
	if i.done {
		return
	}
	i.done = true
	if i.up != nil {
		i.up.Cancel()
	}
}

func (i *flatMapInner[S, T]) OnNext(v T) {
	if i.done || i.outer.done {
		return
	}
	i.outer.demand--
	i.outer.down.OnNext(v)
}

func (i *flatMapInner[S, T]) OnError(err error) {
	if i.done {
		return
	}
	i.done = true
	o := i.outer
	if o.done {
		return
	}
	o.done = true
	if !o.outerDone {
		o.up.Cancel()
		o.outerDone = true
	}
	o.inner = nil
	o.down.OnError(err)
}

func (i *flatMapInner[S, T]) OnComplete() {
	if i.done {
		return
	}
	i.done = true
	i.outer.innerTerminated()
}
