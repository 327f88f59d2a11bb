package events

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/memoric/memoric/internal/model"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/security"
)

// Handler consumes one lifecycle event. Handlers run on the publishing
// goroutine and must not block.
type Handler func(ev model.MemoryEvent)

// Bus appends lifecycle events to the store's event log and fans them out
// to in-process subscribers. Both paths are best-effort: a failed append or
// a panicking subscriber never fails the operation that emitted the event.
type Bus struct {
	store registrystore.MemoryStore

	mu   sync.RWMutex
	subs []Handler
}

// NewBus builds a Bus appending to the given store. A nil store skips
// persistence and only serves subscribers.
func NewBus(store registrystore.MemoryStore) *Bus {
	return &Bus{store: store}
}

// Subscribe registers a handler for every subsequently published event.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish stamps the event with an id and timestamp, appends it to the
// event log, and notifies subscribers.
func (b *Bus) Publish(ctx context.Context, ev model.MemoryEvent) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	if security.EventsTotal != nil {
		security.EventsTotal.WithLabelValues(ev.Kind).Inc()
	}

	if b.store != nil {
		if err := b.store.AppendEvent(ctx, &ev); err != nil {
			log.Warn("Event append failed; continuing", "kind", ev.Kind, "user", ev.UserID, "err", err)
		}
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, h := range subs {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev model.MemoryEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Event subscriber panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	h(ev)
}

// Failure publishes an unsuccessful event carrying the error text.
func (b *Bus) Failure(ctx context.Context, kind, userID string, err error, metadata map[string]interface{}) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	b.Publish(ctx, model.MemoryEvent{
		Kind:     kind,
		UserID:   userID,
		Metadata: metadata,
		Success:  false,
		Error:    msg,
	})
}
