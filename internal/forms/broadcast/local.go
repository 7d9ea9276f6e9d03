package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"admissions-portal/internal/common/metrics"
)

// Hub connects every Endpoint created from it. Delivery is synchronous: Publish
// returns after all other endpoints' handlers ran.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]localSub
}

type localSub struct {
	origin  string
	handler Handler
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]localSub)}
}

// Endpoint returns a new participant. An empty originID gets a random one.
func (h *Hub) Endpoint(originID string) *Endpoint {
	if originID == "" {
		originID = uuid.NewString()
	}
	return &Endpoint{hub: h, origin: originID, now: time.Now}
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	targets := make([]Handler, 0, len(h.subs))
	for _, s := range h.subs {
		if s.origin != msg.OriginID {
			targets = append(targets, s.handler)
		}
	}
	h.mu.RUnlock()

	for _, handler := range targets {
		handler(msg)
	}
}

type Endpoint struct {
	hub    *Hub
	origin string
	now    func() time.Time
}

func (e *Endpoint) OriginID() string { return e.origin }

func (e *Endpoint) Publish(_ context.Context, topic Topic, key string, value []byte) error {
	e.hub.deliver(Message{
		Topic:      topic,
		StorageKey: key,
		NewValue:   append([]byte(nil), value...),
		OriginID:   e.origin,
		SentAt:     e.now(),
	})
	metrics.BroadcastsPublished.WithLabelValues("local").Inc()
	return nil
}

func (e *Endpoint) Subscribe(_ context.Context, handler Handler) (func(), error) {
	h := e.hub
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = localSub{origin: e.origin, handler: handler}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}, nil
}
