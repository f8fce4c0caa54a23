package notify

import (
	"container/list"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"alerthub/internal/domain"
	"alerthub/internal/metrics"
)

// Handler receives one lifecycle event.
// Params: event kind and alert snapshot owned by the handler.
// Returns: none; panics are recovered by the publisher.
type Handler func(kind domain.EventKind, alert domain.AlertRecord)

// Publisher fans lifecycle events out to registered handlers.
// Params: ordered subscriber list guarded by mutex.
// Returns: synchronous delivery in registration order.
type Publisher struct {
	mu     sync.Mutex
	subs   *list.List
	nextID uint64
	logger *slog.Logger
}

type subscription struct {
	id      uint64
	handler Handler
}

// NewPublisher creates empty publisher.
// Params: optional logger for recovered handler failures.
// Returns: publisher ready for Subscribe/Publish.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{subs: list.New(), logger: logger}
}

// Subscribe registers handler at the end of delivery order.
// Params: handler callback; nil is ignored.
// Returns: idempotent unsubscribe func effective for events published after it returns.
func (p *Publisher) Subscribe(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextID++
	element := p.subs.PushBack(&subscription{id: p.nextID, handler: handler})
	size := p.subs.Len()
	p.mu.Unlock()
	metrics.Subscribers.Set(float64(size))

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.subs.Remove(element)
			size := p.subs.Len()
			p.mu.Unlock()
			metrics.Subscribers.Set(float64(size))
		})
	}
}

// Publish delivers event to every current subscriber.
// Params: event kind and alert snapshot; each handler gets its own copy.
// Returns: none; a panicking handler does not stop delivery to the rest.
func (p *Publisher) Publish(kind domain.EventKind, alert domain.AlertRecord) {
	p.mu.Lock()
	targets := make([]*subscription, 0, p.subs.Len())
	for element := p.subs.Front(); element != nil; element = element.Next() {
		targets = append(targets, element.Value.(*subscription))
	}
	p.mu.Unlock()

	for _, sub := range targets {
		p.deliver(sub, kind, alert.Clone())
	}
}

// Len returns number of registered subscribers.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs.Len()
}

func (p *Publisher) deliver(sub *subscription, kind domain.EventKind, alert domain.AlertRecord) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		metrics.SubscriberPanicsTotal.Inc()
		if p.logger != nil {
			p.logger.Error(
				"subscriber panicked",
				"subscriber", sub.id,
				"event", kind,
				"alert_id", alert.ID,
				"error", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
		}
	}()
	sub.handler(kind, alert)
}
