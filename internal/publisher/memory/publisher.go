// Package memory contains an in-memory publisher for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded publish, encoded the way it would go on the wire.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher records JSON-encoded payloads. Setting Err makes every publish fail.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	Err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the encoded payload and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns the recorded publishes, optionally limited to topic.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
