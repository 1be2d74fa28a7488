// Package events is a process-local, synchronous publish/subscribe bus.
//
// Publish delivers an event to every handler subscribed to its topic, in
// subscription order, on the caller's goroutine. A handler that fails or
// panics is logged and skipped; delivery continues with the next handler.
// Handlers must be short and must not block on network or disk I/O.
package events

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Token identifies one subscription.
type Token uint64

type Handler func(Event) error

// Observer receives bus-level signals, e.g. for metrics. It may be nil.
type Observer interface {
	EventPublished(topic Topic)
	HandlerFailed(topic Topic)
}

type subscription struct {
	token   Token
	handler Handler
}

type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic][]subscription
	topics    map[Token]Topic
	nextToken Token
	logger    *logrus.Logger
	observer  Observer
}

type BusConfig struct {
	Logger   *logrus.Logger
	Observer Observer
}

func NewBus(cfg BusConfig) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Bus{
		subs:     make(map[Topic][]subscription),
		topics:   make(map[Token]Topic),
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// Subscribe registers h for topic and returns its token.
func (b *Bus) Subscribe(topic Topic, h Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	tok := b.nextToken
	b.subs[topic] = append(b.subs[topic], subscription{token: tok, handler: h})
	b.topics[tok] = topic
	return tok
}

// Unsubscribe removes the subscription. It reports whether tok was registered.
func (b *Bus) Unsubscribe(tok Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, ok := b.topics[tok]
	if !ok {
		return false
	}
	delete(b.topics, tok)

	list := b.subs[topic]
	out := make([]subscription, 0, len(list))
	for _, s := range list {
		if s.token != tok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = out
	}
	return true
}

// Publish delivers ev to the handlers registered when Publish was called.
// Handlers added during delivery do not see this event.
func (b *Bus) Publish(ev Event) {
	topic := ev.Topic()

	b.mu.RLock()
	list := b.subs[topic]
	snapshot := make([]subscription, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	if b.observer != nil {
		b.observer.EventPublished(topic)
	}

	for _, s := range snapshot {
		if err := b.deliver(s, ev); err != nil {
			b.logger.WithFields(logrus.Fields{
				"topic": topic,
				"token": s.token,
			}).WithError(err).Error("event handler failed")
			if b.observer != nil {
				b.observer.HandlerFailed(topic)
			}
		}
	}
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) deliver(s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ev)
}

// On subscribes a handler typed to a single event kind. The topic comes from
// the event type itself.
func On[E Event](b *Bus, h func(E) error) Token {
	var zero E
	topic := zero.Topic()
	return b.Subscribe(topic, func(ev Event) error {
		e, ok := ev.(E)
		if !ok {
			return fmt.Errorf("unexpected payload %T on topic %s", ev, topic)
		}
		return h(e)
	})
}
