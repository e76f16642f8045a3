package bus

import (
	"log/slog"
	"sync"
)

// Topics published on the session bus. The set is closed on purpose: UI
// code subscribing to a typo'd topic should be caught in review, not at
// runtime.
const (
	TopicStateChanged = "state-changed"
	TopicPeerJoined   = "peer-joined"
	TopicPeerLeft     = "peer-left"
	TopicRemoteMute   = "remote-mute"
	TopicChat         = "chat"
	TopicTyping       = "typing"
	TopicSpeaking     = "speaking"
	TopicError        = "error"
)

type Handler func(topic string, payload any)

type subscription struct {
	handler Handler
	once    bool
}

// Bus is an in-process publish/subscribe hub decoupling UI components from
// the transport and state-machine internals. Delivery is synchronous and
// intra-session only.
type Bus struct {
	log  *slog.Logger
	mu   sync.Mutex
	subs map[string][]*subscription
}

func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:  log,
		subs: make(map[string][]*subscription),
	}
}

// Subscribe registers handler for topic and returns its unsubscribe func.
// Unsubscribing twice is harmless.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	sub := &subscription{handler: handler}
	b.add(topic, sub)
	return func() { b.remove(topic, sub) }
}

// Once registers a handler removed automatically after its first delivery.
func (b *Bus) Once(topic string, handler Handler) func() {
	sub := &subscription{handler: handler, once: true}
	b.add(topic, sub)
	return func() { b.remove(topic, sub) }
}

// Publish fans payload out to every handler for topic, regular handlers
// before once handlers. A panicking handler is logged and does not block
// delivery to the rest.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	subs := b.subs[topic]
	regular := make([]*subscription, 0, len(subs))
	oneShot := make([]*subscription, 0)
	remaining := subs[:0:0]
	for _, sub := range subs {
		if sub.once {
			oneShot = append(oneShot, sub)
			continue
		}
		regular = append(regular, sub)
		remaining = append(remaining, sub)
	}
	if len(remaining) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = remaining
	}
	b.mu.Unlock()

	for _, sub := range regular {
		b.invoke(topic, payload, sub)
	}
	for _, sub := range oneShot {
		b.invoke(topic, payload, sub)
	}
}

func (b *Bus) invoke(topic string, payload any, sub *subscription) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("event handler panicked",
				slog.String("topic", topic),
				slog.Any("panic", rec),
			)
		}
	}()
	sub.handler(topic, payload)
}

func (b *Bus) add(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
}

func (b *Bus) remove(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}
