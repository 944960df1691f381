package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/brewline/api/internal/domain"
	ppostgres "github.com/brewline/api/internal/platform/postgres"
	"github.com/brewline/api/internal/repositories"
)

// RecipeRepository resolves bills of materials from the recipe_components table.
type RecipeRepository struct {
	source ppostgres.PoolSource
}

var _ repositories.RecipeRepository = (*RecipeRepository)(nil)

// NewRecipeRepository constructs a PostgreSQL-backed recipe lookup.
func NewRecipeRepository(source ppostgres.PoolSource) (*RecipeRepository, error) {
	if source == nil {
		return nil, errors.New("recipe repository requires postgres pool source")
	}
	return &RecipeRepository{source: source}, nil
}

// ListComponents returns the per-unit materials of the item. Items without a recipe yield an empty slice.
func (r *RecipeRepository) ListComponents(ctx context.Context, catalogItemID string) ([]domain.RecipeComponent, error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, `SELECT rc.material_id, m.name, rc.quantity_per_unit::text, m.unit
		FROM recipe_components rc
		JOIN materials m ON m.id = rc.material_id
		WHERE rc.catalog_item_id = $1
		ORDER BY rc.position, rc.material_id`, catalogItemID)
	if err != nil {
		return nil, ppostgres.WrapError("recipes.list", err)
	}
	components, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RecipeComponent, error) {
		var (
			component domain.RecipeComponent
			quantity  string
		)
		if err := row.Scan(&component.MaterialID, &component.MaterialName, &quantity, &component.Unit); err != nil {
			return domain.RecipeComponent{}, err
		}
		parsed, err := decimal.NewFromString(quantity)
		if err != nil {
			return domain.RecipeComponent{}, err
		}
		component.QuantityPerUnit = parsed
		return component, nil
	})
	if err != nil {
		return nil, ppostgres.WrapError("recipes.list", err)
	}
	return components, nil
}
