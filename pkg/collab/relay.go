package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/processflow/pkg/models"
)

const (
	// Topic carries every mutation event of every flow.
	Topic = "processflow.mutations"

	FlowIDMetadataKey    = "flow_id"
	EventTypeMetadataKey = "event_type"
	OriginMetadataKey    = "origin"
)

// Relay connects a local Hub to a watermill transport so that sessions attached to
// different API instances share the same rooms. Every instance, including the publisher,
// receives the event back from the transport and delivers it to its own hub.
type Relay struct {
	hub        *Hub
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

// NewRelay creates a relay feeding hub.
func NewRelay(logger *slog.Logger, hub *Hub, pub message.Publisher, sub message.Subscriber) *Relay {
	return &Relay{
		hub:        hub,
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "collab_relay"),
	}
}

// Publish is fire-and-forget from the caller's point of view; an error only means the
// transport refused the message.
func (r *Relay) Publish(ctx context.Context, event models.MutationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation event: %w", err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(FlowIDMetadataKey, strconv.FormatInt(event.FlowID, 10))
	msg.Metadata.Set(EventTypeMetadataKey, string(event.Type))
	msg.Metadata.Set(OriginMetadataKey, event.Origin)

	err = r.publisher.Publish(Topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish mutation event: %w", err)
	}

	return nil
}

// Start subscribes to the transport and delivers events to the hub until ctx is done or
// the subscriber is closed. The subscription is in place when Start returns.
func (r *Relay) Start(ctx context.Context) error {
	messages, err := r.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	go func() {
		for msg := range messages {
			r.handle(msg)
		}

		r.logger.InfoContext(ctx, "Collaboration relay stopped")
	}()

	return nil
}

func (r *Relay) handle(msg *message.Message) {
	// Always acked: a redelivered mutation is stale by the time it arrives.
	defer msg.Ack()

	var event models.MutationEvent

	err := json.Unmarshal(msg.Payload, &event)
	if err != nil {
		r.logger.Warn("Dropping malformed mutation event", "message_id", msg.UUID, "error", err)

		return
	}

	delivered := r.hub.Deliver(event)

	r.logger.Debug("Mutation event relayed",
		"flow_id", event.FlowID,
		"type", event.Type,
		"delivered", delivered)
}

// Close closes the transport. The hub is left to its owner.
func (r *Relay) Close() error {
	err := r.publisher.Close()
	if err != nil {
		return err
	}

	return r.subscriber.Close()
}
