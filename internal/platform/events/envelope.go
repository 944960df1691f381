package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/brewline/api/internal/services"
)

// Envelope is the wire representation shared by every publisher backend.
type Envelope struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_number,omitempty"`
	StoreID        string         `json:"store_id,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type envelopeBuilder struct {
	newID func() string
	now   func() time.Time
}

func defaultEnvelopeBuilder() envelopeBuilder {
	return envelopeBuilder{
		newID: func() string { return ulid.Make().String() },
		now:   time.Now,
	}
}

func (b envelopeBuilder) build(event services.OrderEvent) Envelope {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = b.now()
	}
	return Envelope{
		ID:             b.newID(),
		Type:           strings.TrimSpace(event.Type),
		OrderID:        strings.TrimSpace(event.OrderID),
		OrderNumber:    event.OrderNumber,
		StoreID:        event.StoreID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     occurred.UTC(),
		Metadata:       event.Metadata,
	}
}

func (b envelopeBuilder) encode(event services.OrderEvent) (Envelope, []byte, error) {
	envelope := b.build(event)
	if envelope.Type == "" {
		return Envelope{}, nil, fmt.Errorf("order event: type is required")
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("marshal order event: %w", err)
	}
	return envelope, data, nil
}

func attributes(envelope Envelope) map[string]string {
	attrs := make(map[string]string)
	setAttr(attrs, "eventId", envelope.ID)
	setAttr(attrs, "eventType", envelope.Type)
	setAttr(attrs, "orderId", envelope.OrderID)
	setAttr(attrs, "storeId", envelope.StoreID)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
