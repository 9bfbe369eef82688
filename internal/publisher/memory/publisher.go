// Package memory contains an in-process Publisher used in tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Message is one recorded publish, encoded exactly as it would go on the wire.
type Message struct {
	ID          string
	Topic       string
	Data        []byte
	PublishedAt time.Time
}

// Publisher keeps published messages in memory.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload as JSON and records it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{
		ID:          id,
		Topic:       topic,
		Data:        data,
		PublishedAt: time.Now().UTC(),
	})
	return id, nil
}

// Messages returns a copy of the recorded messages in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Decode unmarshals the i-th recorded message into v.
func (p *Publisher) Decode(i int, v any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.messages) {
		return fmt.Errorf("message %d out of range (have %d)", i, len(p.messages))
	}
	if err := json.Unmarshal(p.messages[i].Data, v); err != nil {
		return fmt.Errorf("decode message %d: %w", i, err)
	}
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
