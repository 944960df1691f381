package di

import (
	"context"
	"strings"
	"testing"

	"github.com/brewline/api/internal/platform/config"
	"github.com/brewline/api/internal/repositories"
	"github.com/brewline/api/internal/services"
)

type emptyRegistry struct{}

func (emptyRegistry) Close(context.Context) error { return nil }
func (emptyRegistry) Orders() repositories.OrderRepository { return nil }
func (emptyRegistry) PickupNumbers() repositories.PickupNumberRepository { return nil }
func (emptyRegistry) Catalog() repositories.CatalogRepository { return nil }
func (emptyRegistry) Recipes() repositories.RecipeRepository { return nil }
func (emptyRegistry) Stock() repositories.StockRepository { return nil }
func (emptyRegistry) Health() repositories.HealthRepository { return nil }
func (emptyRegistry) RunInTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

type noopGateway struct{}

func (noopGateway) Charge(context.Context, services.Order, string) (services.PaymentReceipt, error) {
	return services.PaymentReceipt{}, nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, Dependencies{Payments: noopGateway{}}); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestNewContainerRequiresPayments(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, emptyRegistry{}, Dependencies{}); err == nil {
		t.Fatalf("expected error for missing payment gateway")
	}
}

func TestNewContainerRejectsUnknownTimezone(t *testing.T) {
	cfg := config.Config{Orders: config.OrdersConfig{BusinessTimezone: "Mars/Olympus"}}
	_, err := NewContainer(context.Background(), cfg, emptyRegistry{}, Dependencies{Payments: noopGateway{}})
	if err == nil || !strings.Contains(err.Error(), "business timezone") {
		t.Fatalf("expected timezone error, got %v", err)
	}
}

func TestNewContainerSurfacesMissingRepositories(t *testing.T) {
	cfg := config.Config{Orders: config.OrdersConfig{BusinessTimezone: "UTC"}}
	_, err := NewContainer(context.Background(), cfg, emptyRegistry{}, Dependencies{Payments: noopGateway{}})
	if err == nil || !strings.Contains(err.Error(), "order number generator") {
		t.Fatalf("expected order number generator error, got %v", err)
	}
}

func TestContainerCloseNil(t *testing.T) {
	var c *Container
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
