package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/platform/textutil"
	"github.com/brewline/api/internal/repositories"
)

const (
	orderEventCreated              = "order.created"
	orderEventPaid                 = "order.paid"
	orderEventStatusChanged        = "order.status.changed"
	orderEventStockDeductionFailed = "order.stock.deduction.failed"

	defaultPaymentMethod = "MOCK"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrCatalogItemNotFound indicates an order line references an item missing from the catalog.
	ErrCatalogItemNotFound = errors.New("order: catalog item not found")
	// ErrOrderInvalidState indicates the order is not in the status an operation requires.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderInvalidTransition indicates the state machine does not allow the requested status change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent write or duplicate.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRepositoryUnavailable indicates the order store could not be reached.
	ErrOrderRepositoryUnavailable = errors.New("order: repository unavailable")
	// ErrOrderPaymentFailed indicates the payment gateway did not approve the charge.
	ErrOrderPaymentFailed = errors.New("order: payment failed")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	StoreID        string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Numbers     OrderNumberGenerator
	Pickups     PickupNumberService
	Stock       StockDeductionService
	Payments    PaymentGateway
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     OrderMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// StrictDeduction makes stock store failures block completion instead of marking the order FAILED.
	StrictDeduction      bool
	DefaultPaymentMethod string
}

type orderService struct {
	orders          repositories.OrderRepository
	catalog         repositories.CatalogRepository
	numbers         OrderNumberGenerator
	pickups         PickupNumberService
	stock           StockDeductionService
	payments        PaymentGateway
	unitOfWork      repositories.UnitOfWork
	clock           func() time.Time
	newID           func() string
	events          OrderEventPublisher
	metrics         OrderMetrics
	logger          func(context.Context, string, map[string]any)
	strictDeduction bool
	paymentMethod   string
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}
	if deps.Pickups == nil {
		return nil, errors.New("order service: pickup number service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	method := strings.ToUpper(strings.TrimSpace(deps.DefaultPaymentMethod))
	if method == "" {
		method = defaultPaymentMethod
	}

	return &orderService{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		numbers:    deps.Numbers,
		pickups:    deps.Pickups,
		stock:      deps.Stock,
		payments:   deps.Payments,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:           idGen,
		events:          deps.Events,
		metrics:         deps.Metrics,
		logger:          logger,
		strictDeduction: deps.StrictDeduction,
		paymentMethod:   method,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	storeID := strings.TrimSpace(cmd.StoreID)
	if storeID == "" {
		return Order{}, fmt.Errorf("%w: store id is required", ErrOrderInvalidInput)
	}

	orderID := s.newID()
	pricer := orderPricer{catalog: s.catalog, newID: s.newID}
	items, total, err := pricer.price(ctx, orderID, cmd.Items)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	number, err := s.numbers.Generate(ctx)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	order := Order{
		ID:                   orderID,
		OrderNumber:          number,
		StoreID:              storeID,
		UserID:               userID,
		Items:                items,
		TotalPrice:           total,
		Status:               domain.OrderStatusPendingPayment,
		Note:                 textutil.SanitizeNotePtr(cmd.Note),
		StockDeductionStatus: domain.StockDeductionPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if s.metrics != nil {
		s.metrics.OrderCreated(storeID)
	}
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		StoreID:       order.StoreID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalPrice": order.TotalPrice,
			"itemCount":  len(order.Items),
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	normalized := s.numbers.Normalize(orderNumber)
	if normalized == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	if !s.numbers.IsValid(normalized) {
		return Order{}, fmt.Errorf("%w: malformed order number %q", ErrOrderInvalidInput, normalized)
	}

	order, err := s.orders.FindByOrderNumber(ctx, normalized)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	filter.StoreID = strings.TrimSpace(filter.StoreID)
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	switch filter.DeductionStatus {
	case "", domain.StockDeductionPending, domain.StockDeductionDeducted, domain.StockDeductionSkipped, domain.StockDeductionFailed:
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown deduction status %q", ErrOrderInvalidInput, filter.DeductionStatus)
	}
	if filter.CreatedAfter != nil && filter.CreatedBefore != nil && filter.CreatedAfter.After(*filter.CreatedBefore) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: created_after must not be later than created_before", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Pay(ctx context.Context, cmd PayOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return Order{}, invalidStateError(order, domain.OrderStatusPendingPayment)
	}

	method := strings.ToUpper(strings.TrimSpace(cmd.PaymentMethod))
	if method == "" {
		method = s.paymentMethod
	}

	receipt, err := s.payments.Charge(ctx, order, method)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, err)
	}

	var (
		paid   Order
		pickup PickupNumber
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.orders.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if locked.Status != domain.OrderStatusPendingPayment {
			return invalidStateError(locked, domain.OrderStatusPendingPayment)
		}

		pickup, err = s.pickups.Allocate(txCtx, locked.StoreID, locked.ID)
		if err != nil {
			return err
		}

		now := s.now()
		paidAt := receipt.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		paymentMethod := receipt.Method
		if paymentMethod == "" {
			paymentMethod = method
		}
		locked.PaymentMethod = valuePtr(paymentMethod)
		locked.TransactionID = valuePtr(receipt.TransactionID)
		locked.PaidAt = valuePtr(paidAt.UTC())
		locked.PickupNumber = valuePtr(pickup.Ticket)
		locked.Status = domain.OrderStatusPendingProduction
		locked.UpdatedAt = now

		if err := s.orders.Update(txCtx, locked); err != nil {
			return s.mapRepositoryError(err)
		}
		paid = locked
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.pay.commit.failed", map[string]any{
			"orderId":       orderID,
			"transactionId": receipt.TransactionID,
			"error":         err.Error(),
		})
		return Order{}, err
	}

	if s.metrics != nil {
		s.metrics.OrderStatusChanged(domain.OrderStatusPendingPayment, paid.Status)
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        paid.ID,
		OrderNumber:    paid.OrderNumber,
		StoreID:        paid.StoreID,
		PreviousStatus: string(domain.OrderStatusPendingPayment),
		CurrentStatus:  string(paid.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     paid.UpdatedAt,
		Metadata: map[string]any{
			"pickupNumber":  pickup.Ticket,
			"businessDate":  pickup.BusinessDate,
			"paymentMethod": *paid.PaymentMethod,
			"transactionId": receipt.TransactionID,
		},
	})

	return paid, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.TargetStatus))))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}
	return s.transition(ctx, cmd.OrderID, target, cmd.ActorID, cmd.Reason)
}

func (s *orderService) StartProduction(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusProducing, cmd.ActorID, cmd.Reason)
}

func (s *orderService) Complete(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusCompleted, cmd.ActorID, cmd.Reason)
}

func (s *orderService) Deliver(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusDelivered, cmd.ActorID, cmd.Reason)
}

func (s *orderService) Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusCancelled, cmd.ActorID, cmd.Reason)
}

// deductionOutcome is the stock result attached to a completion.
type deductionOutcome struct {
	status StockDeductionStatus
	result DeductionResult
	cause  error
}

func (s *orderService) transition(ctx context.Context, orderID string, target OrderStatus, actorID string, reason string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(actorID)

	var (
		updated   Order
		previous  OrderStatus
		deduction *deductionOutcome
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status
		if !canTransition(order.Status, target) {
			return &OrderTransitionError{OrderID: order.ID, From: order.Status, To: target}
		}

		if target == domain.OrderStatusCompleted {
			outcome, err := s.deductStock(txCtx, order)
			if err != nil {
				return err
			}
			order.StockDeductionStatus = outcome.status
			deduction = &outcome
		}

		applyStatus(&order, target, s.now())
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		var shortage *InsufficientStockError
		if errors.As(err, &shortage) {
			s.logger(ctx, "order.stock.insufficient", map[string]any{
				"orderId":   orderID,
				"shortages": len(shortage.Shortages),
			})
		}
		return Order{}, err
	}

	if s.metrics != nil {
		s.metrics.OrderStatusChanged(previous, updated.Status)
		if deduction != nil {
			s.metrics.StockDeduction(deduction.status)
		}
	}

	metadata := map[string]any{}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata["reason"] = reason
	}
	if deduction != nil {
		metadata["stockDeductionStatus"] = string(deduction.status)
		metadata["materialCount"] = deduction.result.MaterialCount
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		StoreID:        updated.StoreID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		ActorID:        actor,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       metadata,
	})

	if deduction != nil && deduction.status == domain.StockDeductionFailed {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventStockDeductionFailed,
			OrderID:       updated.ID,
			OrderNumber:   updated.OrderNumber,
			StoreID:       updated.StoreID,
			CurrentStatus: string(updated.Status),
			ActorID:       actor,
			OccurredAt:    updated.UpdatedAt,
			Metadata: map[string]any{
				"error": deduction.cause.Error(),
			},
		})
	}

	return updated, nil
}

// deductStock runs the deduction for a completing order. Shortages and failures before any adjustment
// always block completion; a failed adjustment blocks only in strict mode and otherwise marks the
// order FAILED.
func (s *orderService) deductStock(ctx context.Context, order Order) (deductionOutcome, error) {
	if s.stock == nil {
		return deductionOutcome{status: domain.StockDeductionSkipped}, nil
	}

	result, err := s.stock.DeductMaterialsForOrder(ctx, order)
	if err == nil {
		status := domain.StockDeductionDeducted
		if result.MaterialCount == 0 {
			status = domain.StockDeductionSkipped
		}
		return deductionOutcome{status: status, result: result}, nil
	}
	if errors.Is(err, ErrInsufficientStock) || s.strictDeduction {
		return deductionOutcome{}, err
	}
	var deductionErr *StockDeductionError
	if !errors.As(err, &deductionErr) || !deductionErr.Mutating() {
		// Nothing was adjusted and sufficiency is unknown, so completion waits for a retry.
		return deductionOutcome{}, err
	}

	s.logger(ctx, "order.stock.deduction.failed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"storeId":     order.StoreID,
		"stage":       deductionErr.Stage,
		"materialId":  deductionErr.MaterialID,
		"materials":   deductionErr.Attempted,
		"error":       err.Error(),
	})

	return deductionOutcome{status: domain.StockDeductionFailed, result: result, cause: err}, nil
}

func invalidStateError(order Order, expected OrderStatus) error {
	return fmt.Errorf("%w: order %s is %s, expected %s", ErrOrderInvalidState, order.ID, order.Status, expected)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderRepositoryUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func valuePtr[T any](v T) *T {
	return &v
}
