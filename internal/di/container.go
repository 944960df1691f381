package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brewline/api/internal/platform/config"
	"github.com/brewline/api/internal/platform/observability"
	"github.com/brewline/api/internal/repositories"
	"github.com/brewline/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders  services.OrderService
	Pickups services.PickupNumberService
	Numbers services.OrderNumberGenerator
	Recipes services.RecipeService
	Stock   services.StockDeductionService
	System  services.SystemService
}

// Dependencies carries collaborators built outside the repository registry.
type Dependencies struct {
	Payments    services.PaymentGateway
	Events      services.OrderEventPublisher
	Metrics     services.OrderMetrics
	RecipeCache services.RecipeCache
	Build       services.BuildInfo
	Logger      *zap.Logger
	Clock       func() time.Time

	// CriticalDependencies are health checks that take the service out of rotation when failing.
	CriticalDependencies []string
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	location, err := time.LoadLocation(cfg.Orders.BusinessTimezone)
	if err != nil {
		return Services{}, fmt.Errorf("load business timezone: %w", err)
	}

	svc.Numbers, err = services.NewOrderNumberGenerator(services.OrderNumberGeneratorDeps{
		Orders:   reg.Orders(),
		Prefix:   cfg.Orders.NumberPrefix,
		Clock:    clock,
		Location: location,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number generator: %w", err)
	}

	svc.Pickups, err = services.NewPickupNumberService(services.PickupNumberServiceDeps{
		Repository: reg.PickupNumbers(),
		UnitOfWork: reg,
		Clock:      clock,
		Location:   location,
		Metrics:    deps.Metrics,
		Logger:     observability.EventLogger(logger.Named("pickup")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pickup number service: %w", err)
	}

	svc.Recipes, err = services.NewRecipeService(services.RecipeServiceDeps{
		Recipes:  reg.Recipes(),
		Cache:    deps.RecipeCache,
		CacheTTL: cfg.Recipes.CacheTTL,
		Logger:   observability.EventLogger(logger.Named("recipes")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build recipe service: %w", err)
	}

	svc.Stock, err = services.NewStockDeductionService(services.StockDeductionServiceDeps{
		Recipes:    svc.Recipes,
		Stock:      reg.Stock(),
		UnitOfWork: reg,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("stock")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock deduction service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:               reg.Orders(),
		Catalog:              reg.Catalog(),
		Numbers:              svc.Numbers,
		Pickups:              svc.Pickups,
		Stock:                svc.Stock,
		Payments:             deps.Payments,
		UnitOfWork:           reg,
		Clock:                clock,
		Events:               deps.Events,
		Metrics:              deps.Metrics,
		Logger:               observability.EventLogger(logger.Named("orders")),
		StrictDeduction:      cfg.Orders.StrictDeduction,
		DefaultPaymentMethod: cfg.Orders.PaymentMethod,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if health := reg.Health(); health != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            clock,
			Build:            deps.Build,
			Critical:         deps.CriticalDependencies,
			StrictDeduction:  cfg.Orders.StrictDeduction,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
