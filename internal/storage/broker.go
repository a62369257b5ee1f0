package storage

import (
	"context"
	"fmt"
	"sync"
)

// Message is one payload captured by MemoryBroker.
type Message struct {
	RoutingKey string
	Payload    []byte
}

// MemoryBroker records published messages instead of sending them.
type MemoryBroker struct {
	mu       sync.Mutex
	messages []Message

	// Fail holds routing keys whose publish returns an error.
	Fail map[string]bool
}

// NewMemoryBroker constructs an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{Fail: make(map[string]bool)}
}

// Publish appends the message unless its routing key is marked to fail.
func (b *MemoryBroker) Publish(_ context.Context, routingKey string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Fail[routingKey] {
		return fmt.Errorf("publish %s: broker rejected message", routingKey)
	}
	b.messages = append(b.messages, Message{RoutingKey: routingKey, Payload: append([]byte(nil), payload...)})
	return nil
}

// Messages returns everything published so far.
func (b *MemoryBroker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// Close is a no-op.
func (b *MemoryBroker) Close() error { return nil }
