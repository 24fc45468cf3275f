// Package event implements the project-scoped event bus. Events for a
// project are delivered to every subscriber of that project in publish
// order. Subscribers never observe events from other projects.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/kilnworks/kiln/internal/logging"
)

// Type identifies an event kind.
type Type string

// Event types published by the session engine.
const (
	MessageAdded       Type = "message.added"
	StreamingUpdate    Type = "message.streaming"
	GenerationFinished Type = "generation.finished"
	GenerationFailed   Type = "generation.failed"
)

// Event is a single bus event scoped to one project.
type Event struct {
	Type      Type            `json:"type"`
	ProjectID string          `json:"projectID"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an Event, marshaling data to JSON. Marshal failures are logged
// and produce an event with empty data rather than an error; event payloads
// are plain structs and do not fail to marshal in practice.
func New(t Type, projectID string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		logging.Error().Err(err).Str("type", string(t)).Msg("failed to marshal event data")
		raw = nil
	}
	return Event{Type: t, ProjectID: projectID, Data: raw}
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Bus fans events out to per-project subscribers.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// subscriberBuffer bounds each subscriber's delivery channel.
const subscriberBuffer = 256

// NewBus creates an in-process bus.
func NewBus() *Bus {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: subscriberBuffer,
	}, watermill.NopLogger{})
	return &Bus{pubsub: ps}
}

func topic(projectID string) string {
	return "project." + projectID
}

// Publish sends an event to all current subscribers of its project.
// Publishing with no subscribers is a no-op.
func (b *Bus) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logging.Error().Err(err).Str("type", string(e.Type)).Msg("failed to marshal event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic(e.ProjectID), msg); err != nil {
		logging.Error().Err(err).Str("project", e.ProjectID).Msg("failed to publish event")
	}
}

// Subscribe returns a channel of events for one project. The channel is
// closed when ctx is cancelled or the bus shuts down. Events arrive in the
// order they were published.
func (b *Bus) Subscribe(ctx context.Context, projectID string) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic(projectID))
	if err != nil {
		return nil, fmt.Errorf("subscribe to project %s: %w", projectID, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				logging.Error().Err(err).Msg("failed to decode event payload")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
