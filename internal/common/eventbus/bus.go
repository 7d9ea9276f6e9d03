// Package eventbus is a synchronous in-process publish/subscribe channel for domain events.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/models"
)

type Handler func(event models.DomainEvent)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers each emission to the handlers registered at that moment. There is no
// replay; a handler added later never sees earlier events.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[models.EventType][]subscription
	logger   logger.Logger
	now      func() time.Time
}

func New(log logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[models.EventType][]subscription),
		logger:   log.WithFields(map[string]interface{}{"component": "eventbus"}),
		now:      time.Now,
	}
}

// On registers handler for eventType and returns its unsubscribe func. Calling the
// returned func more than once is harmless.
func (b *Bus) On(eventType models.EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

func (b *Bus) remove(eventType models.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Emit calls every current handler in registration order before returning. A panicking
// handler is logged and does not stop delivery to the rest.
func (b *Bus) Emit(eventType models.EventType, payload interface{}) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	event := models.DomainEvent{Type: eventType, Payload: payload, OccurredAt: b.now()}
	for _, s := range subs {
		b.dispatch(s, event)
	}
}

func (b *Bus) dispatch(s subscription, event models.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", map[string]interface{}{
				"eventType": event.Type,
				"panic":     fmt.Sprint(r),
			})
		}
	}()
	s.handler(event)
}

// HandlerCount reports how many handlers are registered for eventType.
func (b *Bus) HandlerCount(eventType models.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
