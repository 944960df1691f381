package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/brewline/api/internal/services"
)

// LogPublisher records order events in the application log. It backs the "none" events backend.
type LogPublisher struct {
	logger  *zap.Logger
	builder envelopeBuilder
}

var _ services.OrderEventPublisher = (*LogPublisher)(nil)

// NewLogPublisher returns a publisher that only logs at debug level.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events"), builder: defaultEnvelopeBuilder()}
}

// PublishOrderEvent never fails.
func (p *LogPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	envelope := p.builder.build(event)
	p.logger.Debug("order event",
		zap.String("event_id", envelope.ID),
		zap.String("type", envelope.Type),
		zap.String("order_id", envelope.OrderID),
		zap.String("status", envelope.CurrentStatus),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
