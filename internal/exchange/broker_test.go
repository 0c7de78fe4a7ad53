package exchange

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/mqtt"
)

type published struct {
	topic   string
	payload []byte
}

// fakeBroker records subscriptions and publishes in memory.
type fakeBroker struct {
	mu            sync.Mutex
	handlers      map[string]mqtt.MessageHandler
	unsubscribed  []string
	published     []published
	subscribeErr  map[string]error
	publishErr    error
	failPublishes int
	publishCalls  int
	subscribedSig chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:      make(map[string]mqtt.MessageHandler),
		subscribeErr:  make(map[string]error),
		subscribedSig: make(chan struct{}, 8),
	}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.subscribeErr[topic]; err != nil {
		return err
	}
	b.handlers[topic] = handler
	b.subscribedSig <- struct{}{}
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishCalls++
	if b.publishErr != nil {
		return b.publishErr
	}
	if b.failPublishes > 0 {
		b.failPublishes--
		return errors.New("publish timed out")
	}
	b.published = append(b.published, published{topic: topic, payload: payload})
	return nil
}

// deliver invokes the handler subscribed on filter.
func (b *fakeBroker) deliver(filter, topic string, payload []byte, ack func()) error {
	b.mu.Lock()
	h, ok := b.handlers[filter]
	b.mu.Unlock()
	if !ok {
		return errors.New("no subscription for " + filter)
	}
	return h(mqtt.NewMessage(topic, payload, ack))
}

func (b *fakeBroker) publishedOn(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}
