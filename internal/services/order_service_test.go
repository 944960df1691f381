package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/repositories"
)

type memoryOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	updates  int
	updateFn func(context.Context, domain.Order) error
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: map[string]domain.Order{}}
}

func (m *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return stubRepoError{conflict: true}
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memoryOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if m.updateFn != nil {
		if err := m.updateFn(ctx, order); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return stubRepoError{notFound: true}
	}
	m.updates++
	m.orders[order.ID] = order
	return nil
}

func (m *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return order, nil
}

func (m *memoryOrderRepo) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return m.FindByID(ctx, orderID)
}

func (m *memoryOrderRepo) FindByOrderNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, stubRepoError{notFound: true}
}

func (m *memoryOrderRepo) ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error) {
	_, err := m.FindByOrderNumber(ctx, orderNumber)
	return err == nil, nil
}

func (m *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []domain.Order
	for _, order := range m.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		items = append(items, order)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (m *memoryOrderRepo) seed(order domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

func (m *memoryOrderRepo) get(t *testing.T, orderID string) domain.Order {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		t.Fatalf("order %s not stored", orderID)
	}
	return order
}

type stubCatalogRepo struct {
	items map[string]domain.CatalogItem
}

func (s *stubCatalogRepo) FindItem(_ context.Context, itemID string) (domain.CatalogItem, error) {
	item, ok := s.items[itemID]
	if !ok {
		return domain.CatalogItem{}, stubRepoError{notFound: true}
	}
	return item, nil
}

func menuCatalog() *stubCatalogRepo {
	return &stubCatalogRepo{items: map[string]domain.CatalogItem{
		"latte": {
			ID:        "latte",
			Name:      "Caffe Latte",
			ImageURL:  "https://cdn.example.com/latte.png",
			BasePrice: 1500,
			Active:    true,
			Options: []domain.CatalogOption{
				{Group: "size", Choice: "regular", PriceAdjustment: 0},
				{Group: "size", Choice: "large", PriceAdjustment: 300},
				{Group: "milk", Choice: "oat", PriceAdjustment: 50},
			},
		},
		"americano": {ID: "americano", Name: "Americano", BasePrice: 1200, Active: true},
		"seasonal":  {ID: "seasonal", Name: "Seasonal Special", BasePrice: 1800, Active: false},
	}}
}

type stubPaymentGateway struct {
	chargeFn func(context.Context, domain.Order, string) (PaymentReceipt, error)
	calls    int
}

func (s *stubPaymentGateway) Charge(ctx context.Context, order domain.Order, method string) (PaymentReceipt, error) {
	s.calls++
	if s.chargeFn != nil {
		return s.chargeFn(ctx, order, method)
	}
	return PaymentReceipt{
		Method:        method,
		TransactionID: fmt.Sprintf("txn_%s", order.ID),
		PaidAt:        time.Date(2024, 3, 9, 8, 16, 0, 0, time.UTC),
	}, nil
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.events))
	for _, event := range c.events {
		types = append(types, event.Type)
	}
	return types
}

type recordingMetrics struct {
	mu         sync.Mutex
	created    int
	changes    []string
	pickups    int
	deductions []StockDeductionStatus
}

func (r *recordingMetrics) OrderCreated(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *recordingMetrics) OrderStatusChanged(from, to OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, fmt.Sprintf("%s>%s", from, to))
}

func (r *recordingMetrics) PickupAllocated(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pickups++
}

func (r *recordingMetrics) StockDeduction(outcome StockDeductionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deductions = append(r.deductions, outcome)
}

type orderFixture struct {
	svc      OrderService
	orders   *memoryOrderRepo
	pickups  *memoryPickupStore
	stock    *spyStockRepo
	recipes  *stubRecipeService
	payments *stubPaymentGateway
	events   *captureOrderEvents
	metrics  *recordingMetrics
	logged   []string
}

type orderFixtureOption func(*OrderServiceDeps)

func withStrictDeduction() orderFixtureOption {
	return func(deps *OrderServiceDeps) { deps.StrictDeduction = true }
}

func newOrderFixture(t *testing.T, opts ...orderFixtureOption) *orderFixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, 3, 9, 8, 15, 42, 0, time.UTC) }
	fx := &orderFixture{
		orders:   newMemoryOrderRepo(),
		pickups:  newMemoryPickupStore(),
		stock:    &spyStockRepo{},
		recipes:  menuRecipes(),
		payments: &stubPaymentGateway{},
		events:   &captureOrderEvents{},
		metrics:  &recordingMetrics{},
	}
	logger := func(_ context.Context, event string, _ map[string]any) {
		fx.logged = append(fx.logged, event)
	}

	random := 0
	numbers, err := NewOrderNumberGenerator(OrderNumberGeneratorDeps{
		Orders: fx.orders,
		Clock:  clock,
		Random: func(int) int {
			random++
			return random
		},
	})
	if err != nil {
		t.Fatalf("NewOrderNumberGenerator: %v", err)
	}
	pickups, err := NewPickupNumberService(PickupNumberServiceDeps{
		Repository: fx.pickups,
		UnitOfWork: fx.pickups,
		Clock:      clock,
		Metrics:    fx.metrics,
	})
	if err != nil {
		t.Fatalf("NewPickupNumberService: %v", err)
	}
	deduction, err := NewStockDeductionService(StockDeductionServiceDeps{
		Recipes:    fx.recipes,
		Stock:      fx.stock,
		UnitOfWork: fx.pickups,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewStockDeductionService: %v", err)
	}

	ids := 0
	deps := OrderServiceDeps{
		Orders:     fx.orders,
		Catalog:    menuCatalog(),
		Numbers:    numbers,
		Pickups:    pickups,
		Stock:      deduction,
		Payments:   fx.payments,
		UnitOfWork: fx.pickups,
		Clock:      clock,
		IDGenerator: func() string {
			ids++
			return fmt.Sprintf("id-%03d", ids)
		},
		Events:  fx.events,
		Metrics: fx.metrics,
		Logger:  logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx *orderFixture) seedOrder(status OrderStatus) domain.Order {
	order := domain.Order{
		ID:          "order-" + string(status),
		OrderNumber: "ORD202403090800000001",
		StoreID:     "store-1",
		UserID:      "user-1",
		Items: []domain.OrderItem{
			{ID: "item-1", CatalogItemID: "latte", Quantity: 1, UnitPrice: 1500, Subtotal: 1500},
		},
		TotalPrice:           1500,
		Status:               status,
		StockDeductionStatus: domain.StockDeductionPending,
	}
	fx.orders.seed(order)
	return order
}

func TestOrderServiceEndToEndFlow(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()

	created, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:  "user-1",
		StoreID: "store-1",
		Items: []CreateOrderItem{
			{CatalogItemID: "latte", Quantity: 2, Options: map[string]string{"size": "large"}},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if created.TotalPrice != 3600 {
		t.Fatalf("expected total 3600, got %d", created.TotalPrice)
	}
	if created.Items[0].UnitPrice != 1800 || created.Items[0].Subtotal != 3600 {
		t.Fatalf("unexpected line pricing %+v", created.Items[0])
	}
	if created.Items[0].Name != "Caffe Latte" || created.Items[0].OrderID != created.ID {
		t.Fatalf("expected denormalised line, got %+v", created.Items[0])
	}
	if created.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT, got %s", created.Status)
	}
	if !regexp.MustCompile(`^ORD\d{18}$`).MatchString(created.OrderNumber) {
		t.Fatalf("unexpected order number %s", created.OrderNumber)
	}

	paid, err := fx.svc.Pay(ctx, PayOrderCommand{OrderID: created.ID})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if paid.Status != domain.OrderStatusPendingProduction {
		t.Fatalf("expected PENDING_PRODUCTION, got %s", paid.Status)
	}
	if paid.PickupNumber == nil || !regexp.MustCompile(`^D\d{3}$`).MatchString(*paid.PickupNumber) {
		t.Fatalf("expected pickup number, got %v", paid.PickupNumber)
	}
	if paid.PaymentMethod == nil || *paid.PaymentMethod != "MOCK" || paid.TransactionID == nil || paid.PaidAt == nil {
		t.Fatalf("expected payment metadata, got %+v", paid)
	}

	if _, err := fx.svc.StartProduction(ctx, OrderActionCommand{OrderID: created.ID}); err != nil {
		t.Fatalf("StartProduction: %v", err)
	}
	completed, err := fx.svc.Complete(ctx, OrderActionCommand{OrderID: created.ID})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("expected COMPLETED, got %+v", completed)
	}
	if completed.StockDeductionStatus != domain.StockDeductionDeducted {
		t.Fatalf("expected DEDUCTED, got %s", completed.StockDeductionStatus)
	}
	if len(fx.stock.adjusts) != 2 || len(fx.stock.queries) != 2 {
		t.Fatalf("expected one deduction pass over 2 materials, got %d adjusts %d queries", len(fx.stock.adjusts), len(fx.stock.queries))
	}

	if _, err := fx.svc.UpdateStatus(ctx, OrderStatusCommand{OrderID: created.ID, TargetStatus: domain.OrderStatusProducing}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected COMPLETED -> PRODUCING to fail, got %v", err)
	}

	delivered, err := fx.svc.Deliver(ctx, OrderActionCommand{OrderID: created.ID})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if delivered.Status != domain.OrderStatusDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("expected DELIVERED, got %+v", delivered)
	}
	if len(fx.stock.adjusts) != 2 {
		t.Fatalf("expected deduction to run exactly once, got %d adjusts", len(fx.stock.adjusts))
	}

	wantEvents := []string{orderEventCreated, orderEventPaid, orderEventStatusChanged, orderEventStatusChanged, orderEventStatusChanged}
	gotEvents := fx.events.types()
	if fmt.Sprint(gotEvents) != fmt.Sprint(wantEvents) {
		t.Fatalf("unexpected events %v", gotEvents)
	}
	if fx.metrics.created != 1 || fx.metrics.pickups != 1 || len(fx.metrics.deductions) != 1 {
		t.Fatalf("unexpected metrics %+v", fx.metrics)
	}
}

func TestOrderServiceRejectsIllegalTransition(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusCompleted)

	_, err := fx.svc.UpdateStatus(context.Background(), OrderStatusCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusPendingProduction,
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var transitionErr *OrderTransitionError
	if !errors.As(err, &transitionErr) || transitionErr.From != domain.OrderStatusCompleted || transitionErr.To != domain.OrderStatusPendingProduction {
		t.Fatalf("expected transition detail, got %v", err)
	}
	if fx.orders.get(t, order.ID).Status != domain.OrderStatusCompleted || fx.orders.updates != 0 {
		t.Fatalf("expected order to remain unchanged")
	}
}

func TestOrderServiceUpdateStatusCannotSkipPayment(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusPendingPayment)

	_, err := fx.svc.UpdateStatus(context.Background(), OrderStatusCommand{OrderID: order.ID, TargetStatus: "pending_production"})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := fx.svc.UpdateStatus(context.Background(), OrderStatusCommand{OrderID: order.ID, TargetStatus: "BREWING"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
}

func TestOrderServiceCancel(t *testing.T) {
	cases := []struct {
		status  OrderStatus
		wantErr error
	}{
		{status: domain.OrderStatusPendingPayment},
		{status: domain.OrderStatusPendingProduction},
		{status: domain.OrderStatusProducing},
		{status: domain.OrderStatusCompleted},
		{status: domain.OrderStatusDelivered, wantErr: ErrOrderInvalidTransition},
		{status: domain.OrderStatusCancelled, wantErr: ErrOrderInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			fx := newOrderFixture(t)
			order := fx.seedOrder(tc.status)

			cancelled, err := fx.svc.Cancel(context.Background(), OrderActionCommand{OrderID: order.ID, Reason: "customer left"})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if fx.orders.get(t, order.ID).Status != tc.status {
					t.Fatalf("expected status to stay %s", tc.status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
				t.Fatalf("expected CANCELLED with timestamp, got %+v", cancelled)
			}
			events := fx.events.types()
			if len(events) != 1 || events[0] != orderEventStatusChanged {
				t.Fatalf("unexpected events %v", events)
			}
			if fx.events.events[0].Metadata["reason"] != "customer left" {
				t.Fatalf("expected reason in event metadata, got %v", fx.events.events[0].Metadata)
			}
		})
	}
}

func TestOrderServicePayRequiresPendingPayment(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusProducing)

	_, err := fx.svc.Pay(context.Background(), PayOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if fx.payments.calls != 0 {
		t.Fatalf("expected no charge for invalid state")
	}
}

func TestOrderServicePayFailures(t *testing.T) {
	t.Run("payment declined", func(t *testing.T) {
		fx := newOrderFixture(t)
		order := fx.seedOrder(domain.OrderStatusPendingPayment)
		fx.payments.chargeFn = func(context.Context, domain.Order, string) (PaymentReceipt, error) {
			return PaymentReceipt{}, errors.New("declined")
		}

		if _, err := fx.svc.Pay(context.Background(), PayOrderCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderPaymentFailed) {
			t.Fatalf("expected payment failure, got %v", err)
		}
		if fx.orders.get(t, order.ID).Status != domain.OrderStatusPendingPayment {
			t.Fatalf("expected order to stay pending payment")
		}
	})

	t.Run("pickup quota exhausted", func(t *testing.T) {
		fx := newOrderFixture(t)
		order := fx.seedOrder(domain.OrderStatusPendingPayment)
		fx.pickups.seed("store-1", "2024-03-09", MaxPickupSequence)

		_, err := fx.svc.Pay(context.Background(), PayOrderCommand{OrderID: order.ID})
		if !errors.Is(err, ErrPickupQuotaExhausted) {
			t.Fatalf("expected quota exhausted, got %v", err)
		}
		stored := fx.orders.get(t, order.ID)
		if stored.Status != domain.OrderStatusPendingPayment || stored.PickupNumber != nil {
			t.Fatalf("expected order untouched, got %+v", stored)
		}
		if len(fx.logged) == 0 || fx.logged[len(fx.logged)-1] != "order.pay.commit.failed" {
			t.Fatalf("expected commit failure to be logged, got %v", fx.logged)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		fx := newOrderFixture(t)
		if _, err := fx.svc.Pay(context.Background(), PayOrderCommand{OrderID: "missing"}); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestOrderServiceCompleteBlocksOnShortage(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusProducing)
	fx.stock.queryFn = func(_ context.Context, materialID string, _ string) (domain.MaterialStock, error) {
		return domain.MaterialStock{MaterialID: materialID, Available: dec("1")}, nil
	}

	_, err := fx.svc.Complete(context.Background(), OrderActionCommand{OrderID: order.ID})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	stored := fx.orders.get(t, order.ID)
	if stored.Status != domain.OrderStatusProducing || stored.StockDeductionStatus != domain.StockDeductionPending {
		t.Fatalf("expected order unchanged, got %+v", stored)
	}
	if len(fx.stock.adjusts) != 0 {
		t.Fatalf("expected zero adjust calls, got %d", len(fx.stock.adjusts))
	}
}

func TestOrderServiceCompleteContinuesAfterStockFailure(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusProducing)
	fx.stock.adjustFn = func(context.Context, domain.StockAdjustment) error {
		return stubRepoError{unavailable: true}
	}

	completed, err := fx.svc.Complete(context.Background(), OrderActionCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.StockDeductionStatus != domain.StockDeductionFailed {
		t.Fatalf("expected COMPLETED with FAILED deduction, got %+v", completed)
	}
	found := false
	for _, event := range fx.logged {
		if event == "order.stock.deduction.failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected deduction failure to be logged, got %v", fx.logged)
	}
	events := fx.events.types()
	if len(events) != 2 || events[1] != orderEventStockDeductionFailed {
		t.Fatalf("unexpected events %v", events)
	}
	if len(fx.metrics.deductions) != 1 || fx.metrics.deductions[0] != domain.StockDeductionFailed {
		t.Fatalf("unexpected deduction metrics %v", fx.metrics.deductions)
	}
}

func TestOrderServiceStrictDeductionBlocksCompletion(t *testing.T) {
	fx := newOrderFixture(t, withStrictDeduction())
	order := fx.seedOrder(domain.OrderStatusProducing)
	fx.stock.adjustFn = func(context.Context, domain.StockAdjustment) error {
		return stubRepoError{unavailable: true}
	}

	_, err := fx.svc.Complete(context.Background(), OrderActionCommand{OrderID: order.ID})
	if !errors.Is(err, ErrStockDeductionFailed) {
		t.Fatalf("expected deduction failure, got %v", err)
	}
	if fx.orders.get(t, order.ID).Status != domain.OrderStatusProducing {
		t.Fatalf("expected order to remain PRODUCING")
	}
}

func TestOrderServiceCompleteBlocksOnStockQueryFailure(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusProducing)
	fx.stock.queryFn = func(context.Context, string, string) (domain.MaterialStock, error) {
		return domain.MaterialStock{}, stubRepoError{unavailable: true}
	}

	_, err := fx.svc.Complete(context.Background(), OrderActionCommand{OrderID: order.ID})
	if !errors.Is(err, ErrStockDeductionFailed) {
		t.Fatalf("expected deduction failure, got %v", err)
	}
	stored := fx.orders.get(t, order.ID)
	if stored.Status != domain.OrderStatusProducing || stored.StockDeductionStatus != domain.StockDeductionPending {
		t.Fatalf("expected order unchanged, got %+v", stored)
	}
	if len(fx.stock.adjusts) != 0 {
		t.Fatalf("expected zero adjust calls, got %d", len(fx.stock.adjusts))
	}
	if events := fx.events.types(); len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}

func TestOrderServiceCompleteBlocksOnRecipeLookupFailure(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusProducing)
	fx.recipes.componentsFn = func(context.Context, string) ([]domain.RecipeComponent, error) {
		return nil, errors.New("recipe store offline")
	}

	_, err := fx.svc.Complete(context.Background(), OrderActionCommand{OrderID: order.ID})
	if !errors.Is(err, ErrStockDeductionFailed) {
		t.Fatalf("expected deduction failure, got %v", err)
	}
	if fx.orders.get(t, order.ID).Status != domain.OrderStatusProducing {
		t.Fatalf("expected order to remain PRODUCING")
	}
}

func TestOrderServiceCompleteWithoutRecipeIsSkipped(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusProducing)
	order.Items[0].CatalogItemID = "water"
	fx.orders.seed(order)

	completed, err := fx.svc.Complete(context.Background(), OrderActionCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.StockDeductionStatus != domain.StockDeductionSkipped {
		t.Fatalf("expected SKIPPED, got %s", completed.StockDeductionStatus)
	}
}

func TestOrderServiceCreateValidatesInput(t *testing.T) {
	cases := map[string]CreateOrderCommand{
		"missing user":   {StoreID: "store-1", Items: []CreateOrderItem{{CatalogItemID: "latte", Quantity: 1}}},
		"missing store":  {UserID: "user-1", Items: []CreateOrderItem{{CatalogItemID: "latte", Quantity: 1}}},
		"no items":       {UserID: "user-1", StoreID: "store-1"},
		"zero quantity":  {UserID: "user-1", StoreID: "store-1", Items: []CreateOrderItem{{CatalogItemID: "latte"}}},
		"unknown option": {UserID: "user-1", StoreID: "store-1", Items: []CreateOrderItem{{CatalogItemID: "latte", Quantity: 1, Options: map[string]string{"size": "venti"}}}},
		"inactive item":  {UserID: "user-1", StoreID: "store-1", Items: []CreateOrderItem{{CatalogItemID: "seasonal", Quantity: 1}}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newOrderFixture(t)
			if _, err := fx.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if len(fx.orders.orders) != 0 {
				t.Fatalf("expected nothing persisted")
			}
		})
	}
}

func TestOrderServiceCreateUnknownCatalogItemIsNotFound(t *testing.T) {
	fx := newOrderFixture(t)

	_, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:  "user-1",
		StoreID: "store-1",
		Items: []CreateOrderItem{
			{CatalogItemID: "latte", Quantity: 1},
			{CatalogItemID: "mocha", Quantity: 2},
		},
	})
	if !errors.Is(err, ErrCatalogItemNotFound) {
		t.Fatalf("expected catalog item not found, got %v", err)
	}
	if errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("unknown catalog item must not be reported as invalid input")
	}
	if len(fx.orders.orders) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestOrderServiceCreateSanitisesNotes(t *testing.T) {
	fx := newOrderFixture(t)
	note := "<i>extra hot</i>"

	order, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:  "user-1",
		StoreID: "store-1",
		Note:    &note,
		Items: []CreateOrderItem{
			{CatalogItemID: "latte", Quantity: 1, Options: map[string]string{" Milk ": "OAT"}, Note: &note},
			{CatalogItemID: "americano", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Note == nil || *order.Note != "extra hot" {
		t.Fatalf("expected sanitised order note, got %v", order.Note)
	}
	if order.Items[0].Note == nil || *order.Items[0].Note != "extra hot" {
		t.Fatalf("expected sanitised line note, got %v", order.Items[0].Note)
	}
	if order.TotalPrice != 1550+1200 {
		t.Fatalf("expected case-insensitive option match, got total %d", order.TotalPrice)
	}
}

func TestOrderServiceGetOrderByNumberNormalises(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.seedOrder(domain.OrderStatusPendingPayment)

	found, err := fx.svc.GetOrderByNumber(context.Background(), " ｏｒｄ２０２４０３０９０８０００００００１ ")
	if err != nil {
		t.Fatalf("GetOrderByNumber: %v", err)
	}
	if found.ID != order.ID {
		t.Fatalf("unexpected order %s", found.ID)
	}

	if _, err := fx.svc.GetOrderByNumber(context.Background(), "ORD-123"); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := fx.svc.GetOrderByNumber(context.Background(), "ORD202403090800009999"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceListOrdersValidatesFilter(t *testing.T) {
	fx := newOrderFixture(t)
	fx.seedOrder(domain.OrderStatusPendingPayment)

	page, err := fx.svc.ListOrders(context.Background(), OrderListFilter{UserID: " user-1 "})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(page.Items))
	}

	if _, err := fx.svc.ListOrders(context.Background(), OrderListFilter{Statuses: []OrderStatus{"BREWING"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid status filter error, got %v", err)
	}
	after := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	before := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if _, err := fx.svc.ListOrders(context.Background(), OrderListFilter{CreatedAfter: &after, CreatedBefore: &before}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid range error, got %v", err)
	}
}

func TestOrderServiceCreateNumberExhausted(t *testing.T) {
	orders := newMemoryOrderRepo()
	numbers, _ := NewOrderNumberGenerator(OrderNumberGeneratorDeps{
		Orders: &stubOrderNumberLookup{existsFn: func(context.Context, string) (bool, error) { return true, nil }},
	})
	pickups := newMemoryPickupStore()
	pickupSvc, _ := NewPickupNumberService(PickupNumberServiceDeps{Repository: pickups, UnitOfWork: pickups})
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Catalog:  menuCatalog(),
		Numbers:  numbers,
		Pickups:  pickupSvc,
		Payments: &stubPaymentGateway{},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:  "user-1",
		StoreID: "store-1",
		Items:   []CreateOrderItem{{CatalogItemID: "americano", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if len(orders.orders) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}
