package services

import (
	"fmt"
	"slices"
	"time"

	domain "github.com/brewline/api/internal/domain"
)

// orderStateTransitions lists the targets reachable through status updates. PENDING_PAYMENT moves
// to PENDING_PRODUCTION only through Pay, so that edge is absent here.
var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPendingPayment:    {domain.OrderStatusCancelled},
	domain.OrderStatusPendingProduction: {domain.OrderStatusProducing, domain.OrderStatusCancelled},
	domain.OrderStatusProducing:         {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusCompleted:         {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// OrderTransitionError reports a status change the state machine does not allow.
type OrderTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *OrderTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.From, e.To)
}

// Is matches ErrOrderInvalidTransition.
func (e *OrderTransitionError) Is(target error) bool {
	return target == ErrOrderInvalidTransition
}

func canTransition(current, target OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// AllowedTransitions returns the statuses reachable from current through status updates.
func AllowedTransitions(current OrderStatus) []OrderStatus {
	return slices.Clone(orderStateTransitions[current])
}

func applyStatus(order *Order, target OrderStatus, now time.Time) {
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusProducing:
		order.ProductionStartedAt = valuePtr(now)
	case domain.OrderStatusCompleted:
		order.CompletedAt = valuePtr(now)
	case domain.OrderStatusDelivered:
		order.DeliveredAt = valuePtr(now)
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = valuePtr(now)
		}
	}
}
