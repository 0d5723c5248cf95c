package conn

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Handler receives the raw data of an inbound event.
type Handler func(data json.RawMessage)

type handlerEntry struct {
	fn     Handler
	active atomic.Bool
}

// registry keeps handlers per event name. Handlers for one event are
// independent: removing one never disturbs the others.
type registry struct {
	mu       sync.Mutex
	handlers map[string][]*handlerEntry
	closed   bool
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]*handlerEntry)}
}

func (r *registry) add(event string, fn Handler) func() {
	e := &handlerEntry{fn: fn}
	e.active.Store(true)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return func() {}
	}
	r.handlers[event] = append(r.handlers[event], e)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.active.Store(false)
			r.remove(event, e)
		})
	}
}

func (r *registry) remove(event string, target *handlerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[event]
	for i, e := range list {
		if e == target {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.handlers, event)
		return
	}
	r.handlers[event] = list
}

// dispatch calls every active handler for event, outside the lock.
func (r *registry) dispatch(event string, data json.RawMessage) int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	list := append([]*handlerEntry(nil), r.handlers[event]...)
	r.mu.Unlock()

	n := 0
	for _, e := range list {
		// Unsubscribed (or torn down) while earlier handlers ran.
		if !e.active.Load() || r.isClosed() {
			continue
		}
		e.fn(data)
		n++
	}
	return n
}

func (r *registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *registry) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, list := range r.handlers {
		for _, e := range list {
			e.active.Store(false)
		}
	}
	r.handlers = make(map[string][]*handlerEntry)
}
