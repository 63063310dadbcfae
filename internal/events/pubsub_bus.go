package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus wraps the in-memory Bus and additionally publishes every
// lifecycle event to a Pub/Sub topic for durable, cross-service delivery.
// Messages are ordered per tenant via the ordering key.
type PubSubBus struct {
	*Bus // in-process subscribers keep working

	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBus connects to the topic, creating it when absent.
func NewPubSubBus(projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("Created Pub/Sub topic", "topic", topicID)
	}

	// Per-tenant ordering.
	topic.EnableMessageOrdering = true

	slog.Info("Pub/Sub lifecycle bus connected",
		"topic", fmt.Sprintf("projects/%s/topics/%s", projectID, topicID))
	return &PubSubBus{Bus: NewBus(), client: client, topic: topic}, nil
}

// Emit publishes durably to Pub/Sub and fans out in process.
func (pb *PubSubBus) Emit(eventType, tenantID, subject string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, tenantID, subject, data)
	pb.publish(event)
	pb.Bus.Publish(event)
}

// publish serializes the event as a Pub/Sub message with CloudEvents
// attributes for server-side filtering. Failures are logged, never surfaced:
// the store already holds the authoritative event chain.
func (pb *PubSubBus) publish(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		slog.Error("marshal lifecycle event failed", "event", event.ID, "error", err)
		return
	}

	result := pb.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion": event.SpecVersion,
			"ce-type":        event.Type,
			"ce-source":      event.Source,
			"ce-id":          event.ID,
			"ce-time":        event.Time.Format(time.RFC3339Nano),
			"ce-tenantid":    event.TenantID,
		},
		OrderingKey: event.TenantID,
	})

	// Resolve off the hot path.
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Warn("Pub/Sub publish failed", "event", event.ID, "error", err)
		}
	}()
}

// HealthCheck verifies the topic is still reachable.
func (pb *PubSubBus) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

// Close stops the publisher and closes the client.
func (pb *PubSubBus) Close() error {
	pb.topic.Stop()
	return pb.client.Close()
}
