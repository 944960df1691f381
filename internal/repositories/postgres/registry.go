package postgres

import (
	"context"
	"errors"
	"fmt"

	ppostgres "github.com/brewline/api/internal/platform/postgres"
	"github.com/brewline/api/internal/repositories"
)

// Registry wires the PostgreSQL repositories around one provider and unit of work.
type Registry struct {
	provider *ppostgres.Provider
	uow      *ppostgres.UnitOfWork

	orders  *OrderRepository
	pickups *PickupNumberRepository
	catalog *CatalogRepository
	recipes *RecipeRepository
	stock   repositories.StockRepository
	health  repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	stock        repositories.StockRepository
	healthChecks []repositories.DependencyCheck
	txOptions    []ppostgres.TxOption
}

// WithStockRepository replaces the PostgreSQL stock store, e.g. with the inventory service client.
func WithStockRepository(stock repositories.StockRepository) RegistryOption {
	return func(o *registryOptions) {
		o.stock = stock
	}
}

// WithHealthChecks adds dependency checks reported next to the database check.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.healthChecks = append(o.healthChecks, checks...)
	}
}

// WithTxOptions forwards options to the unit of work.
func WithTxOptions(opts ...ppostgres.TxOption) RegistryOption {
	return func(o *registryOptions) {
		o.txOptions = append(o.txOptions, opts...)
	}
}

// NewRegistry builds all repositories backed by provider.
func NewRegistry(provider *ppostgres.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("postgres registry: provider is required")
	}
	var options registryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	uow := ppostgres.NewUnitOfWork(provider, options.txOptions...)
	reg := &Registry{provider: provider, uow: uow}

	var err error
	if reg.orders, err = NewOrderRepository(provider, uow); err != nil {
		return nil, err
	}
	if reg.pickups, err = NewPickupNumberRepository(provider); err != nil {
		return nil, err
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.recipes, err = NewRecipeRepository(provider); err != nil {
		return nil, err
	}
	if options.stock != nil {
		reg.stock = options.stock
	} else if reg.stock, err = NewStockRepository(provider, uow); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:  "postgres",
		Check: provider.Ping,
	}}, options.healthChecks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, fmt.Errorf("postgres registry: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PickupNumbers() repositories.PickupNumberRepository { return r.pickups }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Recipes() repositories.RecipeRepository { return r.recipes }

func (r *Registry) Stock() repositories.StockRepository { return r.stock }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
