package terminal

import (
	"sync"

	"github.com/GriffinCanCode/squadron/backend/internal/shared/id"
)

// router forwards one process's output to the session's subscriber.
// Output that arrives while nobody is subscribed goes to a bounded backlog
// and is flushed to the next subscriber.
type router struct {
	mu        sync.Mutex
	sink      *binding
	backlog   *Buffer
	discarded bool
}

func newRouter(backlogSize int) *router {
	return &router{backlog: NewBuffer(backlogSize)}
}

// route delivers one chunk pumped from the pty. It reports false once the
// router has been discarded.
func (r *router) route(p []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discarded {
		return false
	}
	if r.sink != nil {
		r.sink.push(event{data: p, from: r})
		return true
	}
	r.backlog.Write(p)
	return true
}

// bind points the router at b and flushes the backlog into it
func (r *router) bind(b *binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discarded {
		return
	}
	r.sink = b
	if b != nil && r.backlog.Len() > 0 {
		b.push(event{data: r.backlog.ReadAll(), from: r})
	}
}

// unbind stops routing to b if it is still the sink
func (r *router) unbind(b *binding) {
	r.mu.Lock()
	if r.sink == b {
		r.sink = nil
	}
	r.mu.Unlock()
}

// discard cuts the router off for good. Chunks already queued for the
// subscriber are dropped too, so nothing pumped after this call reaches it.
func (r *router) discard() {
	r.mu.Lock()
	r.discarded = true
	r.sink = nil
	r.backlog.ReadAll()
	r.mu.Unlock()
}

func (r *router) isDiscarded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discarded
}

// event is one item in a subscriber's queue. Exactly one of data or exit is set.
type event struct {
	data []byte
	from *router
	exit *ExitStatus
}

// binding is the single subscriber of a session. Events are delivered by
// one goroutine in the order they were pushed, so callbacks never run
// concurrently and never run on a pump or registry goroutine.
type binding struct {
	id     id.SubscriptionID
	onData func([]byte)
	onExit func(ExitStatus)

	mu      sync.Mutex
	queue   []event
	closing bool
	wake    chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newBinding(onData func([]byte), onExit func(ExitStatus)) *binding {
	b := &binding{
		id:     id.NewSubscriptionID(),
		onData: onData,
		onExit: onExit,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *binding) push(ev event) {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// closeAfterDrain stops the binding once the events already queued have
// been delivered
func (b *binding) closeAfterDrain() {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// close stops the binding and drops anything still queued
func (b *binding) close() {
	b.once.Do(func() { close(b.closed) })
}

func (b *binding) dispatch() {
	for {
		select {
		case <-b.closed:
			return
		case <-b.wake:
		}

		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				closing := b.closing
				b.mu.Unlock()
				if closing {
					b.close()
					return
				}
				break
			}
			ev := b.queue[0]
			b.queue[0] = event{}
			b.queue = b.queue[1:]
			b.mu.Unlock()

			select {
			case <-b.closed:
				return
			default:
			}
			b.deliver(ev)
		}
	}
}

func (b *binding) deliver(ev event) {
	switch {
	case ev.exit != nil:
		if b.onExit != nil {
			b.onExit(*ev.exit)
		}
	case ev.from != nil && ev.from.isDiscarded():
		// superseded process
	default:
		if b.onData != nil {
			b.onData(ev.data)
		}
	}
}
