package pubsub

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/cloudevents/sdk-go/v2/event"
)

// PubSubAdapter provides message publishing using Google Cloud Pub/Sub
type PubSubAdapter struct {
	Client *pubsub.Client
}

func (a *PubSubAdapter) Publish(ctx context.Context, topicID string, data []byte, attrs map[string]string) (string, error) {
	topic := a.Client.Topic(topicID)
	res := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return res.Get(ctx)
}

// PublishCloudEvent sends the event in binary mode: data as the message body,
// context attributes as ce-* message attributes.
func (a *PubSubAdapter) PublishCloudEvent(ctx context.Context, topicID string, e event.Event) (string, error) {
	return a.Publish(ctx, topicID, e.Data(), attributes(e))
}

// LogPublisher is a mock publisher for local development
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) PublishCloudEvent(ctx context.Context, topicID string, e event.Event) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("MOCK PUBLISH", "topic", topicID, "type", e.Type(), "id", e.ID(), "data", string(e.Data()))
	return "mock-msg-id", nil
}
