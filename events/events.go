// Package events provides typed publish/subscribe emitters.
package events

import (
	"reflect"
	"sync"
)

// EventHandler is a callback receiving published events of type T.
type EventHandler[T any] func(T)

// globalHandlers maps an event type to the handlers subscribed to every emitter of that type.
var (
	globalHandlers     = make(map[reflect.Type][]any)
	globalHandlersLock sync.RWMutex
)

// SubscribeAny subscribes callback to events of type T published by any emitter. The subscription lasts for the
// lifetime of the program.
func SubscribeAny[T any](callback EventHandler[T]) {
	eventType := reflect.TypeOf((*T)(nil)).Elem()
	globalHandlersLock.Lock()
	defer globalHandlersLock.Unlock()
	globalHandlers[eventType] = append(globalHandlers[eventType], callback)
}

// EventEmitter publishes events of type T to its subscribers. The zero value is ready to use, and an emitter may be
// published to and subscribed to from multiple goroutines.
type EventEmitter[T any] struct {
	lock          sync.RWMutex
	nextID        uint64
	subscriptions map[uint64]EventHandler[T]
	order         []uint64
}

// Subscribe adds callback to the emitter and returns a function removing it again.
func (e *EventEmitter[T]) Subscribe(callback EventHandler[T]) (unsubscribe func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.subscriptions == nil {
		e.subscriptions = make(map[uint64]EventHandler[T])
	}
	id := e.nextID
	e.nextID++
	e.subscriptions[id] = callback
	e.order = append(e.order, id)

	return func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		delete(e.subscriptions, id)
		for i, existing := range e.order {
			if existing == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Publish calls the emitter's subscribers in subscription order, then the global subscribers of T. Handlers run on
// the publishing goroutine and must not subscribe to the same emitter.
func (e *EventEmitter[T]) Publish(event T) {
	e.lock.RLock()
	handlers := make([]EventHandler[T], 0, len(e.order))
	for _, id := range e.order {
		handlers = append(handlers, e.subscriptions[id])
	}
	e.lock.RUnlock()
	for _, handler := range handlers {
		handler(event)
	}

	globalHandlersLock.RLock()
	global := globalHandlers[reflect.TypeOf((*T)(nil)).Elem()]
	globalHandlersLock.RUnlock()
	for _, handler := range global {
		handler.(EventHandler[T])(event)
	}
}
