package realtime

import (
	"context"
	"sync"
)

// LocalBroker delivers messages in-process, synchronously on the publishing
// goroutine. Used when Redis is disabled and in tests.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(Message)
}

// NewLocalBroker creates an empty in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[uint64]func(Message))}
}

// Publish delivers to every current subscriber of topic.
func (b *LocalBroker) Publish(_ context.Context, topic, event string, payload interface{}) error {
	msg, err := newMessage(topic, event, payload)
	if err != nil {
		return err
	}
	b.mu.RLock()
	fns := make([]func(Message), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

// Subscribe registers fn for topic.
func (b *LocalBroker) Subscribe(topic string, fn func(Message)) (func(), error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]func(Message))
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}, nil
}
