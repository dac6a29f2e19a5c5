package memory

import (
	"context"
	"sync"
)

// Broker is a synchronous in-process loopback: Publish delivers to every
// subscriber before returning, so per-topic order equals publish order.
type Broker struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(topic string, payload []byte)
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]func(string, []byte))}
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	subs := make([]func(string, []byte), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(topic, payload)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, deliver func(topic string, payload []byte)) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = deliver
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	b.subs = make(map[int]func(string, []byte))
	b.mu.Unlock()
	return nil
}
