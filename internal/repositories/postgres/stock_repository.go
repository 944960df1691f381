package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domain "github.com/brewline/api/internal/domain"
	ppostgres "github.com/brewline/api/internal/platform/postgres"
	"github.com/brewline/api/internal/repositories"
)

// StockRepository keeps material stock alongside orders so deductions share the order transaction.
type StockRepository struct {
	source ppostgres.PoolSource
	uow    repositories.UnitOfWork
}

var _ repositories.StockRepository = (*StockRepository)(nil)

// NewStockRepository constructs a PostgreSQL-backed stock store.
func NewStockRepository(source ppostgres.PoolSource, uow repositories.UnitOfWork) (*StockRepository, error) {
	if source == nil {
		return nil, errors.New("stock repository requires postgres pool source")
	}
	if uow == nil {
		return nil, errors.New("stock repository requires unit of work")
	}
	return &StockRepository{source: source, uow: uow}, nil
}

// Query reads the stock row. Inside a transaction the row is locked so a later Adjust sees the
// same quantities.
func (r *StockRepository) Query(ctx context.Context, materialID string, storeID string) (domain.MaterialStock, error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return domain.MaterialStock{}, err
	}
	query := `SELECT s.material_id, s.store_id, m.name, s.on_hand::text, s.reserved::text, m.unit
		FROM material_stocks s JOIN materials m ON m.id = s.material_id
		WHERE s.material_id = $1 AND s.store_id = $2`
	if _, inTx := ppostgres.TxFromContext(ctx); inTx {
		query += ` FOR UPDATE OF s`
	}

	var (
		stock            domain.MaterialStock
		onHand, reserved string
	)
	err = db.QueryRow(ctx, query, materialID, storeID).
		Scan(&stock.MaterialID, &stock.StoreID, &stock.MaterialName, &onHand, &reserved, &stock.Unit)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MaterialStock{}, repositories.NewStockError("stock.query", repositories.StockErrorNotFound,
			fmt.Sprintf("no stock record for material %s at store %s", materialID, storeID), err)
	}
	if err != nil {
		return domain.MaterialStock{}, ppostgres.WrapError("stock.query", err)
	}
	if stock.OnHand, err = decimal.NewFromString(onHand); err != nil {
		return domain.MaterialStock{}, fmt.Errorf("stock.query: decode on_hand: %w", err)
	}
	if stock.Reserved, err = decimal.NewFromString(reserved); err != nil {
		return domain.MaterialStock{}, fmt.Errorf("stock.query: decode reserved: %w", err)
	}
	stock.Available = stock.OnHand.Sub(stock.Reserved)
	return stock, nil
}

// Adjust applies a consumption adjustment and records it in the adjustment ledger.
func (r *StockRepository) Adjust(ctx context.Context, adj domain.StockAdjustment) error {
	if !adj.Quantity.IsPositive() {
		return repositories.NewStockError("stock.adjust", repositories.StockErrorRejected, "adjustment quantity must be positive", nil)
	}
	if adj.Type != domain.StockAdjustmentShortage {
		return repositories.NewStockError("stock.adjust", repositories.StockErrorRejected,
			fmt.Sprintf("unsupported adjustment type %s", adj.Type), nil)
	}

	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		tx, err := ppostgres.RequireTx(ctx)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE material_stocks
			SET on_hand = on_hand - $3::numeric, updated_at = $4
			WHERE material_id = $1 AND store_id = $2 AND on_hand - reserved >= $3::numeric`,
			adj.MaterialID, adj.StoreID, adj.Quantity.String(), adj.CreatedAt)
		if err != nil {
			return ppostgres.WrapError("stock.adjust", err)
		}
		if tag.RowsAffected() == 0 {
			return repositories.NewStockError("stock.adjust", repositories.StockErrorRejected,
				fmt.Sprintf("material %s at store %s cannot cover %s", adj.MaterialID, adj.StoreID, adj.Quantity), nil)
		}
		_, err = tx.Exec(ctx, `INSERT INTO stock_adjustments
			(material_id, store_id, adjustment_type, quantity, reason_code, reason_text, note, order_id, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, NULLIF($8, ''), $9)`,
			adj.MaterialID, adj.StoreID, string(adj.Type), adj.Quantity.String(), adj.ReasonCode,
			adj.ReasonText, adj.Note, adj.OrderID, adj.CreatedAt)
		return ppostgres.WrapError("stock.adjust_ledger", err)
	})
}
