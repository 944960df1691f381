package services

import (
	"context"
	"time"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	PickupNumber         = domain.PickupNumber
	RecipeComponent      = domain.RecipeComponent
	MaterialRequirement  = domain.MaterialRequirement
	MaterialShortage     = domain.MaterialShortage
	DeductionResult      = domain.DeductionResult
	SystemHealthReport   = domain.SystemHealthReport
	StockDeductionStatus = domain.StockDeductionStatus
)

// OrderListFilter narrows order history queries.
type OrderListFilter = repositories.OrderListFilter

// OrderService orchestrates the create, pay and fulfilment flows of beverage orders.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Pay(ctx context.Context, cmd PayOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	StartProduction(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Complete(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Deliver(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error)
}

// OrderNumberGenerator issues human readable order numbers.
type OrderNumberGenerator interface {
	Generate(ctx context.Context) (string, error)
	IsValid(orderNumber string) bool
	Normalize(orderNumber string) string
}

// PickupNumberService issues daily pickup tickets per store.
type PickupNumberService interface {
	// Allocate issues the next ticket for the store's current business day. It joins the transaction on
	// ctx when one is active.
	Allocate(ctx context.Context, storeID string, orderID string) (PickupNumber, error)
	// Reset deletes every ticket issued for the store on date (YYYY-MM-DD). Administrative use only.
	Reset(ctx context.Context, storeID string, date string) (int64, error)
	BusinessDate(now time.Time) string
}

// RecipeService resolves the bill of materials for catalog items.
type RecipeService interface {
	Components(ctx context.Context, catalogItemID string) ([]RecipeComponent, error)
}

// StockDeductionService consumes raw materials for fulfilled orders.
type StockDeductionService interface {
	// Plan aggregates the order's bill of materials by material.
	Plan(ctx context.Context, order Order) ([]MaterialRequirement, error)
	// DeductMaterialsForOrder validates every material before adjusting any stock.
	DeductMaterialsForOrder(ctx context.Context, order Order) (DeductionResult, error)
}

// PaymentGateway charges orders. The default implementation simulates a provider round trip.
type PaymentGateway interface {
	Charge(ctx context.Context, order Order, method string) (PaymentReceipt, error)
}

// PaymentReceipt is returned by a successful charge.
type PaymentReceipt struct {
	Method        string
	TransactionID string
	PaidAt        time.Time
}

// SystemService exposes health information for operational endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderMetrics records order lifecycle counters. Implementations must be safe for concurrent use.
type OrderMetrics interface {
	OrderCreated(storeID string)
	OrderStatusChanged(from, to OrderStatus)
	PickupAllocated(storeID string)
	StockDeduction(outcome StockDeductionStatus)
}

// CreateOrderCommand carries the customer's basket.
type CreateOrderCommand struct {
	UserID  string
	StoreID string
	Items   []CreateOrderItem
	Note    *string
}

// CreateOrderItem is one requested line.
type CreateOrderItem struct {
	CatalogItemID string
	Quantity      int
	Options       map[string]string
	Note          *string
}

// PayOrderCommand requests payment of a pending order.
type PayOrderCommand struct {
	OrderID       string
	PaymentMethod string
	ActorID       string
}

// OrderStatusCommand moves an order to an explicit target status.
type OrderStatusCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Reason       string
}

// OrderActionCommand identifies the order for a fixed transition such as cancel or deliver.
type OrderActionCommand struct {
	OrderID string
	ActorID string
	Reason  string
}
