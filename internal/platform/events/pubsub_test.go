package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/brewline/api/internal/services"
)

func TestPubSubPublisherPublishesOrderEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer func() {
		_ = publisher.Close()
	}()
	publisher.builder.newID = func() string { return "evt-1" }

	occurred := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.paid",
		OrderID:        "ord-1",
		OrderNumber:    "ORD202403090800000001",
		StoreID:        "store-1",
		PreviousStatus: "PENDING_PAYMENT",
		CurrentStatus:  "PENDING_PRODUCTION",
		OccurredAt:     occurred,
		Metadata:       map[string]any{"pickupNumber": "D001"},
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload Envelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != "evt-1" || payload.Type != "order.paid" || payload.OrderID != "ord-1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("expected occurred_at %s, got %s", occurred, payload.OccurredAt)
	}
	if got := messages[0].Attributes["eventType"]; got != "order.paid" {
		t.Fatalf("expected eventType attribute, got %q", got)
	}
	if got := messages[0].OrderingKey; got != "ord-1" {
		t.Fatalf("expected ordering key ord-1, got %q", got)
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
