// Package pubsub publishes ingest events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gcps "cloud.google.com/go/pubsub"
)

// Publisher implements harvest.Publisher on Cloud Pub/Sub. Topic handles are
// cached per topic name.
type Publisher struct {
	client *gcps.Client

	mu     sync.Mutex
	topics map[string]*gcps.Topic
}

// New creates a Pub/Sub publisher for the project.
func New(ctx context.Context, projectID string) (*Publisher, error) {
	client, err := gcps.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	return &Publisher{client: client, topics: make(map[string]*gcps.Topic)}, nil
}

// Publish marshals the payload as JSON and publishes it, returning the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	result := p.topicHandle(topic).Publish(ctx, &gcps.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}

func (p *Publisher) topicHandle(name string) *gcps.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}
