// Package broker implements a small typed multi-subscriber fan-out used
// throughout the client to notify observers (a UI layer, out of scope here)
// of room, chat, and clock events without coupling producers to consumers.
package broker

import "sync"

// Unsubscribe removes a previously registered handler. Calling it more than
// once, or after the handler has already been removed some other way, is a
// no-op.
type Unsubscribe func()

// Broker fans a single message type out to any number of subscribers.
// Subscribing and unsubscribing are safe to call from inside a handler that
// is itself being invoked by Notify.
type Broker[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(T)

	// OnPanic, if set, receives the recovered value of any subscriber panic.
	// Tests assume non-panicking handlers; this is a last-resort error sink.
	OnPanic func(recovered any)
}

// New creates an empty Broker.
func New[T any]() *Broker[T] {
	return &Broker[T]{handlers: make(map[uint64]func(T))}
}

// Subscribe appends handler to the subscriber set and returns a handle that
// removes it. Subscribers are notified in subscription order.
func (b *Broker[T]) Subscribe(handler func(T)) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Notify invokes every current subscriber with msg, in subscription order.
// A snapshot of the subscriber set is taken under lock before any handler
// runs, so a handler that subscribes or unsubscribes during Notify neither
// deadlocks nor receives a duplicate/missing call within this Notify pass.
func (b *Broker[T]) Notify(msg T) {
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	// Stable order: subscription order matches ascending id.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		if h, ok := b.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(h, msg)
	}
}

// invoke calls h(msg), recovering a panic so one misbehaving subscriber can
// never prevent the remaining subscribers in this Notify pass from running.
func (b *Broker[T]) invoke(h func(T), msg T) {
	defer func() {
		if r := recover(); r != nil && b.OnPanic != nil {
			b.OnPanic(r)
		}
	}()
	h(msg)
}

// SubscriberCount returns the number of currently registered subscribers.
// Intended for tests and diagnostics.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
