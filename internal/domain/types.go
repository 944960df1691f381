package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of a beverage order.
type OrderStatus string

const (
	// OrderStatusPendingPayment is the initial state after order creation.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPendingProduction marks a paid order waiting for the bar.
	OrderStatusPendingProduction OrderStatus = "PENDING_PRODUCTION"
	// OrderStatusProducing marks an order being prepared.
	OrderStatusProducing OrderStatus = "PRODUCING"
	// OrderStatusCompleted marks a prepared order waiting for pickup.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusDelivered marks an order handed to the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled marks an order that will not be fulfilled.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPendingProduction, OrderStatusProducing,
		OrderStatusCompleted, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// StockDeductionStatus records the outcome of the material deduction run on completion.
type StockDeductionStatus string

const (
	StockDeductionPending  StockDeductionStatus = "PENDING"
	StockDeductionDeducted StockDeductionStatus = "DEDUCTED"
	StockDeductionSkipped  StockDeductionStatus = "SKIPPED"
	StockDeductionFailed   StockDeductionStatus = "FAILED"
)

// Valid reports whether s is a known deduction status.
func (s StockDeductionStatus) Valid() bool {
	switch s {
	case StockDeductionPending, StockDeductionDeducted, StockDeductionSkipped, StockDeductionFailed:
		return true
	default:
		return false
	}
}

// Order is the root aggregate for a walk-up beverage purchase.
type Order struct {
	ID                   string
	OrderNumber          string
	StoreID              string
	UserID               string
	Items                []OrderItem
	TotalPrice           int64
	Status               OrderStatus
	PaymentMethod        *string
	TransactionID        *string
	PaidAt               *time.Time
	PickupNumber         *string
	Note                 *string
	StockDeductionStatus StockDeductionStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ProductionStartedAt  *time.Time
	CompletedAt          *time.Time
	DeliveredAt          *time.Time
	CancelledAt          *time.Time
}

// OrderItem is an immutable order line captured at creation time.
type OrderItem struct {
	ID            string
	OrderID       string
	CatalogItemID string
	Name          string
	ImageURL      string
	Options       map[string]string
	Quantity      int
	UnitPrice     int64
	Subtotal      int64
	Note          *string
}

// PickupNumberStatus describes the state of an issued pickup ticket.
type PickupNumberStatus string

// PickupNumberActive is the only status assigned on issuance.
const PickupNumberActive PickupNumberStatus = "ACTIVE"

// PickupNumber is a daily, per-store pickup ticket bound to one order.
type PickupNumber struct {
	ID           string
	StoreID      string
	OrderID      string
	Ticket       string
	Sequence     int
	BusinessDate string
	Status       PickupNumberStatus
	CreatedAt    time.Time
}

// CatalogItem is the sellable beverage as seen by order pricing.
type CatalogItem struct {
	ID        string
	Name      string
	ImageURL  string
	BasePrice int64
	Active    bool
	Options   []CatalogOption
}

// CatalogOption is one selectable choice within an option group (e.g. size=large).
type CatalogOption struct {
	Group           string
	Choice          string
	PriceAdjustment int64
}

// RecipeComponent is a single bill-of-materials entry for one unit of a catalog item.
type RecipeComponent struct {
	MaterialID      string
	MaterialName    string
	QuantityPerUnit decimal.Decimal
	Unit            string
}

// MaterialStock reports stock levels of a raw material at a store.
type MaterialStock struct {
	MaterialID   string
	StoreID      string
	MaterialName string
	Available    decimal.Decimal
	OnHand       decimal.Decimal
	Reserved     decimal.Decimal
	Unit         string
}

// StockAdjustmentType classifies a stock movement.
type StockAdjustmentType string

// StockAdjustmentShortage records consumption of material by fulfilled orders.
const StockAdjustmentShortage StockAdjustmentType = "SHORTAGE"

// StockAdjustment is a request to move stock for a material at a store.
type StockAdjustment struct {
	MaterialID string
	StoreID    string
	Type       StockAdjustmentType
	Quantity   decimal.Decimal
	ReasonCode string
	ReasonText string
	Note       string
	OrderID    string
	CreatedAt  time.Time
}

// MaterialRequirement is the aggregated quantity of a material needed by an order.
type MaterialRequirement struct {
	MaterialID   string
	MaterialName string
	StoreID      string
	Quantity     decimal.Decimal
	Unit         string
}

// MaterialShortage describes a material that cannot cover an order.
type MaterialShortage struct {
	MaterialID   string
	MaterialName string
	Available    decimal.Decimal
	Required     decimal.Decimal
	Unit         string
}

// DeductedMaterial is a material quantity removed from stock.
type DeductedMaterial struct {
	MaterialID   string
	MaterialName string
	Quantity     decimal.Decimal
	Unit         string
}

// DeductionResult summarises one stock deduction run.
type DeductionResult struct {
	Success       bool
	MaterialCount int
	Deducted      []DeductedMaterial
	Shortages     []MaterialShortage
}

const (
	// HealthStatusOK indicates the dependency is healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates partial availability.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck captures the result of one dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time

	// DeductionMode is "strict" or "lenient", see the order service StrictDeduction flag.
	DeductionMode string
}
