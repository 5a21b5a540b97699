// Package eventbus is an in-process implementation of the named-event channel between the
// assistant backend and the conversation core.
package eventbus

import "sync"

type listener struct {
	id      uint64
	handler func(data ...any)
}

// Bus delivers every Emit to the handlers registered for that name, synchronously and in
// registration order.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
}

func New() *Bus {
	return &Bus{listeners: make(map[string][]listener)}
}

// On registers handler for name and returns a func that removes it.
func (b *Bus) On(name string, handler func(data ...any)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], listener{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(name, id) })
	}
}

// Emit calls the handlers registered for name. Handlers run outside the bus lock.
func (b *Bus) Emit(name string, data ...any) {
	b.mu.RLock()
	current := b.listeners[name]
	handlers := make([]func(data ...any), 0, len(current))
	for _, l := range current {
		handlers = append(handlers, l.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(data...)
	}
}

// Listeners returns how many handlers are registered for name.
func (b *Bus) Listeners(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

func (b *Bus) off(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[name]
	for i, l := range current {
		if l.id == id {
			b.listeners[name] = append(current[:i:i], current[i+1:]...)
			break
		}
	}
	if len(b.listeners[name]) == 0 {
		delete(b.listeners, name)
	}
}
