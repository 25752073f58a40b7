// Package pubsub publishes comic update events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	client     *pubsub.Client
	publisher  *pubsub.Publisher
	propagator propagation.TextMapPropagator
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithPropagator injects trace context with p instead of the global propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(pub *Publisher) { pub.propagator = p }
}

// New creates a Publisher for topic on client. Close stops the publisher
// and closes the client. The active trace context of each Publish call is
// attached to the message attributes.
func New(client *pubsub.Client, topic string, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	p := &Publisher{
		client:     client,
		publisher:  client.Publisher(topic),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish marshals payload to JSON and waits for the server to accept it.
// The topic argument is informational; messages always go to the bound topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": topic},
	}
	p.propagator.Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
