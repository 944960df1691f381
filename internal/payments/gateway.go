package payments

import (
	"context"
	"errors"

	"github.com/brewline/api/internal/services"
)

// Gateway adapts a Manager to the order service's payment contract.
type Gateway struct {
	manager *Manager
}

var _ services.PaymentGateway = (*Gateway)(nil)

// NewGateway wraps manager.
func NewGateway(manager *Manager) (*Gateway, error) {
	if manager == nil {
		return nil, errors.New("payments: manager is required")
	}
	return &Gateway{manager: manager}, nil
}

// Charge captures the order total through the provider routed for method.
func (g *Gateway) Charge(ctx context.Context, order services.Order, method string) (services.PaymentReceipt, error) {
	details, err := g.manager.Charge(ctx, ChargeRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalPrice,
		Method:      method,
		Metadata: map[string]string{
			"storeId": order.StoreID,
			"userId":  order.UserID,
		},
	})
	if err != nil {
		return services.PaymentReceipt{}, err
	}
	return services.PaymentReceipt{
		Method:        details.Method,
		TransactionID: details.TransactionID,
		PaidAt:        details.CapturedAt,
	}, nil
}
