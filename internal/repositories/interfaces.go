package repositories

import (
	"context"
	"time"

	domain "github.com/brewline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	PickupNumbers() PickupNumberRepository
	Catalog() CatalogRepository
	Recipes() RecipeRepository
	Stock() StockRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Calling RunInTx with a context that already carries a transaction opens a nested savepoint.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIDForUpdate loads the order and locks its row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID          string
	StoreID         string
	Statuses        []domain.OrderStatus
	DeductionStatus domain.StockDeductionStatus
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Pagination      domain.Pagination
}

// PickupNumberRepository stores daily pickup tickets. All methods except FindByOrderID and
// DeleteByStoreDate must run inside a transaction.
type PickupNumberRepository interface {
	// LockScope blocks until the caller holds the transaction-scoped lock for (store, date).
	LockScope(ctx context.Context, storeID string, businessDate string) error
	MaxSequence(ctx context.Context, storeID string, businessDate string) (int, error)
	Insert(ctx context.Context, pickup domain.PickupNumber) error
	FindByOrderID(ctx context.Context, orderID string) (domain.PickupNumber, error)
	DeleteByStoreDate(ctx context.Context, storeID string, businessDate string) (int64, error)
}

// CatalogRepository provides read access to sellable items and their option price adjustments.
type CatalogRepository interface {
	FindItem(ctx context.Context, itemID string) (domain.CatalogItem, error)
}

// RecipeRepository resolves the bill of materials for catalog items.
type RecipeRepository interface {
	ListComponents(ctx context.Context, catalogItemID string) ([]domain.RecipeComponent, error)
}

// StockRepository queries and adjusts raw material stock. Query returns an error satisfying
// RepositoryError.IsNotFound when the material has no stock record for the store.
type StockRepository interface {
	Query(ctx context.Context, materialID string, storeID string) (domain.MaterialStock, error)
	Adjust(ctx context.Context, adjustment domain.StockAdjustment) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
