package collab_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/processflow/pkg/channels/gochannel"
	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *collab.Subscription) models.MutationEvent {
	t.Helper()

	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")

		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")

		return models.MutationEvent{}
	}
}

func TestRelay_SharesRoomsAcrossHubs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})

	hubA := collab.NewHub(slog.Default())
	hubB := collab.NewHub(slog.Default())

	relayA := collab.NewRelay(slog.Default(), hubA, pub, sub)
	relayB := collab.NewRelay(slog.Default(), hubB, pub, sub)

	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))

	defer func() { _ = relayA.Close() }()

	onA := hubA.Subscribe(42, "session-a")
	onB := hubB.Subscribe(42, "session-b")

	require.NoError(t, relayA.Publish(ctx, nodesChange(42, "session-a", "Login to SAP")))

	event := receive(t, onB)
	assert.Equal(t, int64(42), event.FlowID)
	assert.Equal(t, "Login to SAP", event.Nodes[0].Label)

	// The origin sees nothing, even though its own hub received the event back.
	require.NoError(t, relayB.Publish(ctx, nodesChange(42, "session-b", "Open ME21N")))
	assert.Equal(t, "Open ME21N", receive(t, onA).Nodes[0].Label)
	assert.Empty(t, onB.Events())
}

func TestRelay_DropsMalformedPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{})
	hub := collab.NewHub(slog.Default())
	relay := collab.NewRelay(slog.Default(), hub, pub, sub)
	require.NoError(t, relay.Start(ctx))

	defer func() { _ = relay.Close() }()

	listener := hub.Subscribe(42, "listener")

	require.NoError(t, pub.Publish(collab.Topic, message.NewMessage(watermill.NewULID(), []byte("not json"))))
	require.NoError(t, relay.Publish(ctx, nodesChange(42, "writer", "after garbage")))

	assert.Equal(t, "after garbage", receive(t, listener).Nodes[0].Label)
}
