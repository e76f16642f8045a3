package bus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := New(discardLogger())

	var got []any
	b.Subscribe(TopicChat, func(_ string, payload any) { got = append(got, payload) })
	b.Subscribe(TopicChat, func(_ string, payload any) { got = append(got, payload) })

	b.Publish(TopicChat, "hello")

	assert.Equal(t, []any{"hello", "hello"}, got)
}

func TestBusTopicIsolation(t *testing.T) {
	b := New(discardLogger())

	var chatHits, typingHits int
	b.Subscribe(TopicChat, func(string, any) { chatHits++ })
	b.Subscribe(TopicTyping, func(string, any) { typingHits++ })

	b.Publish(TopicChat, nil)

	assert.Equal(t, 1, chatHits)
	assert.Equal(t, 0, typingHits)
}

func TestBusUnsubscribe(t *testing.T) {
	b := New(discardLogger())

	var hits int
	unsub := b.Subscribe(TopicPeerJoined, func(string, any) { hits++ })

	b.Publish(TopicPeerJoined, nil)
	unsub()
	unsub() // second call is harmless
	b.Publish(TopicPeerJoined, nil)

	assert.Equal(t, 1, hits)
}

func TestBusOnceFiresOnlyOnce(t *testing.T) {
	b := New(discardLogger())

	var hits int
	b.Once(TopicStateChanged, func(string, any) { hits++ })

	b.Publish(TopicStateChanged, nil)
	b.Publish(TopicStateChanged, nil)

	assert.Equal(t, 1, hits)
}

func TestBusRegularHandlersRunBeforeOnce(t *testing.T) {
	b := New(discardLogger())

	var order []string
	b.Once(TopicError, func(string, any) { order = append(order, "once") })
	b.Subscribe(TopicError, func(string, any) { order = append(order, "regular") })

	b.Publish(TopicError, nil)

	assert.Equal(t, []string{"regular", "once"}, order)
}

func TestBusPanicIsolation(t *testing.T) {
	b := New(discardLogger())

	var hits int
	b.Subscribe(TopicChat, func(string, any) { panic("boom") })
	b.Subscribe(TopicChat, func(string, any) { hits++ })

	assert.NotPanics(t, func() { b.Publish(TopicChat, nil) })
	assert.Equal(t, 1, hits, "panicking handler must not block delivery")
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	b := New(discardLogger())
	assert.NotPanics(t, func() { b.Publish(TopicSpeaking, true) })
}
