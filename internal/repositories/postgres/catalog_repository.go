package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	domain "github.com/brewline/api/internal/domain"
	ppostgres "github.com/brewline/api/internal/platform/postgres"
	"github.com/brewline/api/internal/repositories"
)

// CatalogRepository reads catalog items and option price adjustments owned by catalog management.
type CatalogRepository struct {
	source ppostgres.PoolSource
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a PostgreSQL-backed catalog reader.
func NewCatalogRepository(source ppostgres.PoolSource) (*CatalogRepository, error) {
	if source == nil {
		return nil, errors.New("catalog repository requires postgres pool source")
	}
	return &CatalogRepository{source: source}, nil
}

func (r *CatalogRepository) FindItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	var item domain.CatalogItem
	err = db.QueryRow(ctx, `SELECT id, name, image_url, base_price, active FROM catalog_items WHERE id = $1`, itemID).
		Scan(&item.ID, &item.Name, &item.ImageURL, &item.BasePrice, &item.Active)
	if err != nil {
		return domain.CatalogItem{}, ppostgres.WrapError("catalog.find_item", err)
	}

	rows, err := db.Query(ctx, `SELECT option_group, choice, price_adjustment FROM catalog_item_options
		WHERE item_id = $1 ORDER BY option_group, choice`, itemID)
	if err != nil {
		return domain.CatalogItem{}, ppostgres.WrapError("catalog.find_options", err)
	}
	options, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CatalogOption, error) {
		var opt domain.CatalogOption
		err := row.Scan(&opt.Group, &opt.Choice, &opt.PriceAdjustment)
		return opt, err
	})
	if err != nil {
		return domain.CatalogItem{}, ppostgres.WrapError("catalog.find_options", err)
	}
	item.Options = options
	return item, nil
}
