package core

import "sync"

// resourceKey identifies a listener registration: the resource kind
// plus the module or pin id.
type resourceKey struct {
	kind ResourceKind
	id   int
}

// busListener is the contract between the event bus and a facade.
// Facades register on open and unregister on close; the dispatcher
// looks them up per event and keeps no references of its own.
type busListener interface {
	// descriptors returns the resources the facade owns, so the
	// session can return them to the manager on soft reset.
	descriptors() []*Resource

	// dropped marks the facade dead with the given cause and wakes
	// its waiters. Called on disconnect and on soft reset; on soft
	// reset only after the descriptors have been freed. Must not block.
	dropped(cause error)
}

// eventBus routes incoming events to the per-resource state objects.
// It is the central registry the dispatcher consults; lookups happen
// on the incoming goroutine and must stay cheap.
type eventBus struct {
	mu        sync.Mutex
	listeners map[resourceKey]busListener
}

func newEventBus() *eventBus {
	return &eventBus{listeners: make(map[resourceKey]busListener)}
}

func (b *eventBus) register(kind ResourceKind, id int, l busListener) {
	b.mu.Lock()
	b.listeners[resourceKey{kind, id}] = l
	b.mu.Unlock()
}

func (b *eventBus) unregister(kind ResourceKind, id int) {
	b.mu.Lock()
	delete(b.listeners, resourceKey{kind, id})
	b.mu.Unlock()
}

// lookup returns the listener for (kind, id), or nil. Events for
// unregistered resources are stale (the facade closed concurrently)
// and are dropped by the callers.
func (b *eventBus) lookup(kind ResourceKind, id int) busListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listeners[resourceKey{kind, id}]
}

// drain removes and returns every registered listener. Used by
// disconnect and soft reset to release all resources at once.
func (b *eventBus) drain() []busListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := make([]busListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		all = append(all, l)
	}
	b.listeners = make(map[resourceKey]busListener)
	return all
}
