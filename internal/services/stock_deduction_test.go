package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/brewline/api/internal/domain"
)

type stubRecipeService struct {
	componentsFn func(context.Context, string) ([]domain.RecipeComponent, error)
}

func (s *stubRecipeService) Components(ctx context.Context, catalogItemID string) ([]domain.RecipeComponent, error) {
	if s.componentsFn != nil {
		return s.componentsFn(ctx, catalogItemID)
	}
	return nil, nil
}

type spyStockRepo struct {
	queryFn  func(context.Context, string, string) (domain.MaterialStock, error)
	adjustFn func(context.Context, domain.StockAdjustment) error
	queries  []string
	adjusts  []domain.StockAdjustment
}

func (s *spyStockRepo) Query(ctx context.Context, materialID string, storeID string) (domain.MaterialStock, error) {
	s.queries = append(s.queries, materialID)
	if s.queryFn != nil {
		return s.queryFn(ctx, materialID, storeID)
	}
	return domain.MaterialStock{MaterialID: materialID, StoreID: storeID, Available: decimal.NewFromInt(1000)}, nil
}

func (s *spyStockRepo) Adjust(ctx context.Context, adjustment domain.StockAdjustment) error {
	s.adjusts = append(s.adjusts, adjustment)
	if s.adjustFn != nil {
		return s.adjustFn(ctx, adjustment)
	}
	return nil
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func menuRecipes() *stubRecipeService {
	return &stubRecipeService{componentsFn: func(_ context.Context, itemID string) ([]domain.RecipeComponent, error) {
		switch itemID {
		case "latte":
			return []domain.RecipeComponent{
				{MaterialID: "beans", MaterialName: "Espresso beans", QuantityPerUnit: dec("18"), Unit: "g"},
				{MaterialID: "milk", MaterialName: "Whole milk", QuantityPerUnit: dec("0.2"), Unit: "l"},
			}, nil
		case "americano":
			return []domain.RecipeComponent{
				{MaterialID: "beans", MaterialName: "Espresso beans", QuantityPerUnit: dec("18"), Unit: "g"},
			}, nil
		default:
			return []domain.RecipeComponent{}, nil
		}
	}}
}

func deductionOrder(items ...domain.OrderItem) domain.Order {
	return domain.Order{
		ID:          "order-1",
		OrderNumber: "ORD202403090815420007",
		StoreID:     "store-1",
		Items:       items,
	}
}

func newTestDeductionService(t *testing.T, recipes RecipeService, stock *spyStockRepo) StockDeductionService {
	t.Helper()
	svc, err := NewStockDeductionService(StockDeductionServiceDeps{
		Recipes: recipes,
		Stock:   stock,
		Clock:   func() time.Time { return time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewStockDeductionService: %v", err)
	}
	return svc
}

func TestStockDeductionMergesMaterialsAcrossLines(t *testing.T) {
	stock := &spyStockRepo{}
	svc := newTestDeductionService(t, menuRecipes(), stock)
	order := deductionOrder(
		domain.OrderItem{CatalogItemID: "latte", Quantity: 2},
		domain.OrderItem{CatalogItemID: "americano", Quantity: 1},
	)

	result, err := svc.DeductMaterialsForOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("DeductMaterialsForOrder: %v", err)
	}
	if !result.Success || result.MaterialCount != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(stock.adjusts) != 2 {
		t.Fatalf("expected one adjust per material, got %d", len(stock.adjusts))
	}
	beans := stock.adjusts[0]
	if beans.MaterialID != "beans" || !beans.Quantity.Equal(dec("54")) {
		t.Fatalf("expected beans summed to 54, got %+v", beans)
	}
	if beans.Type != domain.StockAdjustmentShortage || beans.ReasonCode != StockReasonOrderFulfillment {
		t.Fatalf("unexpected adjustment classification %+v", beans)
	}
	if beans.Note != "order ORD202403090815420007" || beans.ReasonText != "order fulfillment" {
		t.Fatalf("unexpected adjustment note %+v", beans)
	}
	if beans.StoreID != "store-1" || beans.OrderID != "order-1" {
		t.Fatalf("unexpected adjustment scope %+v", beans)
	}
	if milk := stock.adjusts[1]; !milk.Quantity.Equal(dec("0.4")) {
		t.Fatalf("expected milk 0.4, got %s", milk.Quantity)
	}
}

func TestStockDeductionShortageSkipsAllAdjustments(t *testing.T) {
	stock := &spyStockRepo{queryFn: func(_ context.Context, materialID string, _ string) (domain.MaterialStock, error) {
		if materialID == "milk" {
			return domain.MaterialStock{MaterialID: materialID, Available: dec("0.3")}, nil
		}
		return domain.MaterialStock{MaterialID: materialID, Available: dec("500")}, nil
	}}
	svc := newTestDeductionService(t, menuRecipes(), stock)
	order := deductionOrder(domain.OrderItem{CatalogItemID: "latte", Quantity: 2})

	result, err := svc.DeductMaterialsForOrder(context.Background(), order)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var shortageErr *InsufficientStockError
	if !errors.As(err, &shortageErr) || len(shortageErr.Shortages) != 1 {
		t.Fatalf("expected one shortage, got %v", err)
	}
	shortage := shortageErr.Shortages[0]
	if shortage.MaterialID != "milk" || !shortage.Available.Equal(dec("0.3")) || !shortage.Required.Equal(dec("0.4")) {
		t.Fatalf("unexpected shortage %+v", shortage)
	}
	if len(stock.adjusts) != 0 {
		t.Fatalf("expected zero adjust calls, got %d", len(stock.adjusts))
	}
	if result.Success || len(result.Shortages) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestStockDeductionMissingStockRecordIsShortage(t *testing.T) {
	stock := &spyStockRepo{queryFn: func(_ context.Context, materialID string, _ string) (domain.MaterialStock, error) {
		return domain.MaterialStock{}, stubRepoError{notFound: true}
	}}
	svc := newTestDeductionService(t, menuRecipes(), stock)

	_, err := svc.DeductMaterialsForOrder(context.Background(), deductionOrder(domain.OrderItem{CatalogItemID: "americano", Quantity: 1}))
	var shortageErr *InsufficientStockError
	if !errors.As(err, &shortageErr) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !shortageErr.Shortages[0].Available.IsZero() {
		t.Fatalf("expected zero availability, got %s", shortageErr.Shortages[0].Available)
	}
	if len(stock.adjusts) != 0 {
		t.Fatalf("expected zero adjust calls")
	}
}

func TestStockDeductionWithoutRecipeSucceeds(t *testing.T) {
	stock := &spyStockRepo{}
	svc := newTestDeductionService(t, menuRecipes(), stock)

	result, err := svc.DeductMaterialsForOrder(context.Background(), deductionOrder(domain.OrderItem{CatalogItemID: "water", Quantity: 3}))
	if err != nil {
		t.Fatalf("DeductMaterialsForOrder: %v", err)
	}
	if !result.Success || result.MaterialCount != 0 || len(stock.queries) != 0 {
		t.Fatalf("expected empty successful run, got %+v (queries %v)", result, stock.queries)
	}
}

func TestStockDeductionAdjustFailureIsTransportError(t *testing.T) {
	stock := &spyStockRepo{adjustFn: func(_ context.Context, adjustment domain.StockAdjustment) error {
		if adjustment.MaterialID == "milk" {
			return stubRepoError{unavailable: true}
		}
		return nil
	}}
	var events []string
	svc, _ := NewStockDeductionService(StockDeductionServiceDeps{
		Recipes: menuRecipes(),
		Stock:   stock,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})

	result, err := svc.DeductMaterialsForOrder(context.Background(), deductionOrder(domain.OrderItem{CatalogItemID: "latte", Quantity: 1}))
	if !errors.Is(err, ErrStockDeductionFailed) {
		t.Fatalf("expected deduction failed, got %v", err)
	}
	if errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("transport failure must not be reported as shortage")
	}
	var deductionErr *StockDeductionError
	if !errors.As(err, &deductionErr) {
		t.Fatalf("expected StockDeductionError, got %T", err)
	}
	if deductionErr.Stage != "adjust" || deductionErr.MaterialID != "milk" || len(deductionErr.Attempted) != 2 {
		t.Fatalf("unexpected error detail %+v", deductionErr)
	}
	if !deductionErr.Mutating() {
		t.Fatalf("expected adjust failure to be mutating")
	}
	if result.Success {
		t.Fatalf("expected unsuccessful result")
	}
	if len(events) != 1 || events[0] != "stock.adjust.failed" {
		t.Fatalf("expected adjust failure log, got %v", events)
	}
}

func TestStockDeductionQueryFailureIsTransportError(t *testing.T) {
	stock := &spyStockRepo{queryFn: func(context.Context, string, string) (domain.MaterialStock, error) {
		return domain.MaterialStock{}, errors.New("connection reset")
	}}
	svc := newTestDeductionService(t, menuRecipes(), stock)

	_, err := svc.DeductMaterialsForOrder(context.Background(), deductionOrder(domain.OrderItem{CatalogItemID: "latte", Quantity: 1}))
	if !errors.Is(err, ErrStockDeductionFailed) {
		t.Fatalf("expected deduction failed, got %v", err)
	}
	if len(stock.adjusts) != 0 {
		t.Fatalf("expected no adjustments after query failure")
	}
	var deductionErr *StockDeductionError
	if !errors.As(err, &deductionErr) || deductionErr.Stage != "query" || deductionErr.Mutating() {
		t.Fatalf("expected non-mutating query failure, got %+v", deductionErr)
	}
}

func TestStockDeductionRunsInsideUnitOfWork(t *testing.T) {
	stock := &spyStockRepo{}
	uow := &countingUnitOfWork{}
	svc, _ := NewStockDeductionService(StockDeductionServiceDeps{
		Recipes:    menuRecipes(),
		Stock:      stock,
		UnitOfWork: uow,
	})

	if _, err := svc.DeductMaterialsForOrder(context.Background(), deductionOrder(domain.OrderItem{CatalogItemID: "latte", Quantity: 1})); err != nil {
		t.Fatalf("DeductMaterialsForOrder: %v", err)
	}
	if uow.calls != 1 {
		t.Fatalf("expected a single transaction, got %d", uow.calls)
	}
}

type countingUnitOfWork struct {
	calls int
}

func (c *countingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	c.calls++
	return fn(ctx)
}
