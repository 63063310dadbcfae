// Package events fans intent lifecycle events out to in-process subscribers
// and, when configured, to a Pub/Sub topic for downstream consumers. Events
// use the CloudEvents 1.0 envelope.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/intentgate/backend/internal/clock"
)

// Emitter publishes lifecycle events. Both the in-memory Bus and PubSubBus
// satisfy it; emission is fire-and-forget on the submission path.
type Emitter interface {
	Emit(eventType, tenantID, subject string, data map[string]interface{})
}

// NopEmitter discards events. Used when no bus is configured.
type NopEmitter struct{}

func (NopEmitter) Emit(string, string, string, map[string]interface{}) {}

// Source identifies this service in the CloudEvents envelope.
const Source = "/intent-gateway"

// CloudEvent is the CloudEvents 1.0 envelope.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	TenantID    string                 `json:"tenantid,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// NewCloudEvent builds a CloudEvents 1.0 compliant event. Subject is the
// intent or escalation ID the event concerns.
func NewCloudEvent(eventType, tenantID, subject string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      Source,
		ID:          clock.NewID(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		TenantID:    tenantID,
		Data:        data,
	}
}

// JSON serializes the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// Bus is an in-process pub/sub bus. Delivery is best-effort: a subscriber
// with a full buffer misses the event rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent
	allSubs     []chan *CloudEvent
	bufferSize  int
}

// NewBus creates an in-memory bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *CloudEvent),
		bufferSize:  100,
	}
}

// Subscribe returns a channel receiving the named event types, or all events
// when none are given.
func (b *Bus) Subscribe(eventTypes ...string) chan *CloudEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *CloudEvent, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *CloudEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		filtered := subs[:0]
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[et] = filtered
	}

	filtered := b.allSubs[:0]
	for _, s := range b.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.allSubs = filtered

	close(ch)
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(event *CloudEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Buffer full, drop for this subscriber.
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit builds and publishes an event.
func (b *Bus) Emit(eventType, tenantID, subject string, data map[string]interface{}) {
	b.Publish(NewCloudEvent(eventType, tenantID, subject, data))
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
