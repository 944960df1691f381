package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/repositories"
)

const (
	// StockReasonOrderFulfillment tags adjustments made when an order completes.
	StockReasonOrderFulfillment = "ORDER_FULFILLMENT"
	stockReasonText             = "order fulfillment"

	deductionStagePlan   = "plan"
	deductionStageQuery  = "query"
	deductionStageAdjust = "adjust"
)

var (
	// ErrInsufficientStock indicates at least one material cannot cover the order.
	ErrInsufficientStock = errors.New("stock deduction: insufficient stock")
	// ErrStockDeductionFailed indicates the stock store failed while planning, validating or adjusting.
	ErrStockDeductionFailed = errors.New("stock deduction: failed")
)

// InsufficientStockError lists every material short for an order.
type InsufficientStockError struct {
	OrderID   string
	Shortages []MaterialShortage
}

func (e *InsufficientStockError) Error() string {
	names := make([]string, 0, len(e.Shortages))
	for _, shortage := range e.Shortages {
		names = append(names, fmt.Sprintf("%s (available %s, required %s %s)",
			shortage.MaterialName, shortage.Available.String(), shortage.Required.String(), shortage.Unit))
	}
	return fmt.Sprintf("stock deduction: insufficient stock for order %s: %s", e.OrderID, strings.Join(names, ", "))
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StockDeductionError reports a stock store failure together with the materials the run covered.
type StockDeductionError struct {
	OrderID    string
	Stage      string
	MaterialID string
	Attempted  []string
	Err        error
}

func (e *StockDeductionError) Error() string {
	if e.MaterialID != "" {
		return fmt.Sprintf("stock deduction: %s failed for order %s material %s: %v", e.Stage, e.OrderID, e.MaterialID, e.Err)
	}
	return fmt.Sprintf("stock deduction: %s failed for order %s: %v", e.Stage, e.OrderID, e.Err)
}

// Is matches ErrStockDeductionFailed.
func (e *StockDeductionError) Is(target error) bool {
	return target == ErrStockDeductionFailed
}

func (e *StockDeductionError) Unwrap() error {
	return e.Err
}

// Mutating reports whether the failure happened while adjusting stock. Earlier stages leave the
// stock store untouched.
func (e *StockDeductionError) Mutating() bool {
	return e.Stage == deductionStageAdjust
}

// StockDeductionServiceDeps bundles collaborators required to construct the deduction engine.
type StockDeductionServiceDeps struct {
	Recipes    RecipeService
	Stock      repositories.StockRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type stockDeductionService struct {
	recipes    RecipeService
	stock      repositories.StockRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ StockDeductionService = (*stockDeductionService)(nil)

// NewStockDeductionService constructs the engine. Without a unit of work each adjustment commits independently.
func NewStockDeductionService(deps StockDeductionServiceDeps) (StockDeductionService, error) {
	if deps.Recipes == nil {
		return nil, errors.New("stock deduction service: recipe service is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("stock deduction service: stock repository is required")
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockDeductionService{
		recipes:    deps.Recipes,
		stock:      deps.Stock,
		unitOfWork: uow,
		clock:      clock,
		logger:     logger,
	}, nil
}

func (s *stockDeductionService) Plan(ctx context.Context, order Order) ([]MaterialRequirement, error) {
	requirements := make([]MaterialRequirement, 0)
	index := make(map[string]int)
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			continue
		}
		components, err := s.recipes.Components(ctx, item.CatalogItemID)
		if err != nil {
			return nil, err
		}
		lineQty := decimal.NewFromInt(int64(item.Quantity))
		for _, component := range components {
			if !component.QuantityPerUnit.IsPositive() {
				continue
			}
			needed := component.QuantityPerUnit.Mul(lineQty)
			if pos, ok := index[component.MaterialID]; ok {
				requirements[pos].Quantity = requirements[pos].Quantity.Add(needed)
				continue
			}
			index[component.MaterialID] = len(requirements)
			requirements = append(requirements, MaterialRequirement{
				MaterialID:   component.MaterialID,
				MaterialName: component.MaterialName,
				StoreID:      order.StoreID,
				Quantity:     needed,
				Unit:         component.Unit,
			})
		}
	}
	return requirements, nil
}

func (s *stockDeductionService) DeductMaterialsForOrder(ctx context.Context, order Order) (result DeductionResult, err error) {
	ctx, span := startSpan(ctx, "stock.deduct", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("store.id", order.StoreID),
	))
	defer func() { endSpan(span, err) }()

	requirements, err := s.Plan(ctx, order)
	if err != nil {
		return DeductionResult{}, &StockDeductionError{OrderID: order.ID, Stage: deductionStagePlan, Err: err}
	}
	span.SetAttributes(attribute.Int("stock.material_count", len(requirements)))
	if len(requirements) == 0 {
		return DeductionResult{Success: true, Deducted: []domain.DeductedMaterial{}}, nil
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		shortages, err := s.validate(txCtx, order, requirements)
		if err != nil {
			return err
		}
		if len(shortages) > 0 {
			result = DeductionResult{Success: false, MaterialCount: len(requirements), Shortages: shortages}
			return &InsufficientStockError{OrderID: order.ID, Shortages: shortages}
		}

		deducted, err := s.adjust(txCtx, order, requirements)
		if err != nil {
			return err
		}
		result = DeductionResult{Success: true, MaterialCount: len(requirements), Deducted: deducted}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientStock) {
			result = DeductionResult{Success: false, MaterialCount: len(requirements)}
		}
		return result, err
	}
	return result, nil
}

func (s *stockDeductionService) validate(ctx context.Context, order Order, requirements []MaterialRequirement) ([]MaterialShortage, error) {
	var shortages []MaterialShortage
	for _, req := range requirements {
		stock, err := s.stock.Query(ctx, req.MaterialID, req.StoreID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				shortages = append(shortages, MaterialShortage{
					MaterialID:   req.MaterialID,
					MaterialName: req.MaterialName,
					Available:    decimal.Zero,
					Required:     req.Quantity,
					Unit:         req.Unit,
				})
				continue
			}
			return nil, &StockDeductionError{
				OrderID:    order.ID,
				Stage:      deductionStageQuery,
				MaterialID: req.MaterialID,
				Attempted:  materialIDs(requirements),
				Err:        err,
			}
		}
		if stock.Available.LessThan(req.Quantity) {
			shortages = append(shortages, MaterialShortage{
				MaterialID:   req.MaterialID,
				MaterialName: req.MaterialName,
				Available:    stock.Available,
				Required:     req.Quantity,
				Unit:         req.Unit,
			})
		}
	}
	return shortages, nil
}

func (s *stockDeductionService) adjust(ctx context.Context, order Order, requirements []MaterialRequirement) ([]domain.DeductedMaterial, error) {
	now := s.clock().UTC()
	note := fmt.Sprintf("order %s", order.OrderNumber)
	deducted := make([]domain.DeductedMaterial, 0, len(requirements))
	for _, req := range requirements {
		err := s.stock.Adjust(ctx, domain.StockAdjustment{
			MaterialID: req.MaterialID,
			StoreID:    req.StoreID,
			Type:       domain.StockAdjustmentShortage,
			Quantity:   req.Quantity,
			ReasonCode: StockReasonOrderFulfillment,
			ReasonText: stockReasonText,
			Note:       note,
			OrderID:    order.ID,
			CreatedAt:  now,
		})
		if err != nil {
			s.logger(ctx, "stock.adjust.failed", map[string]any{
				"orderId":    order.ID,
				"materialId": req.MaterialID,
				"quantity":   req.Quantity.String(),
				"applied":    len(deducted),
				"error":      err.Error(),
			})
			return nil, &StockDeductionError{
				OrderID:    order.ID,
				Stage:      deductionStageAdjust,
				MaterialID: req.MaterialID,
				Attempted:  materialIDs(requirements),
				Err:        err,
			}
		}
		deducted = append(deducted, domain.DeductedMaterial{
			MaterialID:   req.MaterialID,
			MaterialName: req.MaterialName,
			Quantity:     req.Quantity,
			Unit:         req.Unit,
		})
	}
	return deducted, nil
}

func materialIDs(requirements []MaterialRequirement) []string {
	ids := make([]string, 0, len(requirements))
	for _, req := range requirements {
		ids = append(ids, req.MaterialID)
	}
	return ids
}
