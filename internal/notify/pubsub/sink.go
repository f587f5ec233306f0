// Package pubsub publishes notifications to a Google Cloud Pub/Sub topic for
// a downstream mail/SMS delivery service.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/numberwatch/internal/notify"
)

// Sink wraps a Pub/Sub topic.
type Sink struct {
	topic *pubsub.Topic
}

// New creates a Sink publishing to topic.
func New(topic *pubsub.Topic) *Sink {
	return &Sink{topic: topic}
}

// Send marshals msg to JSON and publishes it, carrying the trace context in
// the message attributes.
func (s *Sink) Send(ctx context.Context, msg notify.Message) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	out := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: out.Attributes})
	if msg.SendEmail {
		out.Attributes["channel_email"] = "true"
	}
	if msg.SendSMS {
		out.Attributes["channel_sms"] = "true"
	}

	if _, err := s.topic.Publish(ctx, out).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
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
