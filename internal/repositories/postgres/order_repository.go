package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/platform/pagination"
	ppostgres "github.com/brewline/api/internal/platform/postgres"
	"github.com/brewline/api/internal/repositories"
)

const orderColumns = `id, order_number, store_id, user_id, total_price, status, payment_method, transaction_id,
	paid_at, pickup_number, note, stock_deduction_status, created_at, updated_at,
	production_started_at, completed_at, delivered_at, cancelled_at`

// OrderRepository persists orders and their line items in PostgreSQL.
type OrderRepository struct {
	source ppostgres.PoolSource
	uow    repositories.UnitOfWork
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a PostgreSQL-backed order repository.
func NewOrderRepository(source ppostgres.PoolSource, uow repositories.UnitOfWork) (*OrderRepository, error) {
	if source == nil {
		return nil, errors.New("order repository requires postgres pool source")
	}
	if uow == nil {
		return nil, errors.New("order repository requires unit of work")
	}
	return &OrderRepository{source: source, uow: uow}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		db, err := ppostgres.Conn(ctx, r.source)
		if err != nil {
			return err
		}
		_, err = db.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			order.ID, order.OrderNumber, order.StoreID, order.UserID, order.TotalPrice, string(order.Status),
			order.PaymentMethod, order.TransactionID, order.PaidAt, order.PickupNumber, order.Note,
			string(deductionStatusOrPending(order.StockDeductionStatus)), order.CreatedAt, order.UpdatedAt,
			order.ProductionStartedAt, order.CompletedAt, order.DeliveredAt, order.CancelledAt)
		if err != nil {
			return ppostgres.WrapError("orders.insert", err)
		}

		batch := &pgx.Batch{}
		for i, item := range order.Items {
			options, err := json.Marshal(nonNilOptions(item.Options))
			if err != nil {
				return fmt.Errorf("orders.insert: encode options for item %s: %w", item.ID, err)
			}
			batch.Queue(`INSERT INTO order_items
				(id, order_id, position, catalog_item_id, name, image_url, options, quantity, unit_price, subtotal, note)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				item.ID, order.ID, i, item.CatalogItemID, item.Name, item.ImageURL, options,
				item.Quantity, item.UnitPrice, item.Subtotal, item.Note)
		}
		if batch.Len() == 0 {
			return nil
		}
		tx, err := ppostgres.RequireTx(ctx)
		if err != nil {
			return err
		}
		return ppostgres.WrapError("orders.insert_items", tx.SendBatch(ctx, batch).Close())
	})
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx, `UPDATE orders SET
			status = $2, payment_method = $3, transaction_id = $4, paid_at = $5, pickup_number = $6,
			stock_deduction_status = $7, updated_at = $8, production_started_at = $9,
			completed_at = $10, delivered_at = $11, cancelled_at = $12
		WHERE id = $1`,
		order.ID, string(order.Status), order.PaymentMethod, order.TransactionID, order.PaidAt,
		order.PickupNumber, string(deductionStatusOrPending(order.StockDeductionStatus)), order.UpdatedAt,
		order.ProductionStartedAt, order.CompletedAt, order.DeliveredAt, order.CancelledAt)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.update", "order %s not found", order.ID)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	if _, err := ppostgres.RequireTx(ctx); err != nil {
		return domain.Order{}, err
	}
	return r.findOne(ctx, "orders.find_for_update", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find_by_number", `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
}

func (r *OrderRepository) ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, orderNumber).Scan(&exists); err != nil {
		return false, ppostgres.WrapError("orders.exists", err)
	}
	return exists, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = "+arg(filter.UserID))
	}
	if filter.StoreID != "" {
		where = append(where, "store_id = "+arg(filter.StoreID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if filter.DeductionStatus != "" {
		where = append(where, "stock_deduction_status = "+arg(string(filter.DeductionStatus)))
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at >= "+arg(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at < "+arg(*filter.CreatedBefore))
	}
	if !cursor.IsZero() {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(pageSize+1)

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	if err := r.attachItems(ctx, db, orders); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.Items = orders
	return page, nil
}

func (r *OrderRepository) findOne(ctx context.Context, op string, query string, arg string) (domain.Order, error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return domain.Order{}, err
	}
	rows, err := db.Query(ctx, query, arg)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	order, err := pgx.CollectOneRow(rows, scanOrder)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	orders := []domain.Order{order}
	if err := r.attachItems(ctx, db, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *OrderRepository) attachItems(ctx context.Context, db ppostgres.DBTX, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}

	rows, err := db.Query(ctx, `SELECT id, order_id, catalog_item_id, name, image_url, options, quantity, unit_price, subtotal, note
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return ppostgres.WrapError("orders.items", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var (
			item    domain.OrderItem
			options []byte
		)
		if err := row.Scan(&item.ID, &item.OrderID, &item.CatalogItemID, &item.Name, &item.ImageURL, &options,
			&item.Quantity, &item.UnitPrice, &item.Subtotal, &item.Note); err != nil {
			return domain.OrderItem{}, err
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &item.Options); err != nil {
				return domain.OrderItem{}, fmt.Errorf("decode options for item %s: %w", item.ID, err)
			}
		}
		return item, nil
	})
	if err != nil {
		return ppostgres.WrapError("orders.items", err)
	}
	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		order           domain.Order
		status          string
		deductionStatus string
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.StoreID, &order.UserID, &order.TotalPrice, &status,
		&order.PaymentMethod, &order.TransactionID, &order.PaidAt, &order.PickupNumber, &order.Note,
		&deductionStatus, &order.CreatedAt, &order.UpdatedAt, &order.ProductionStartedAt,
		&order.CompletedAt, &order.DeliveredAt, &order.CancelledAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.StockDeductionStatus = domain.StockDeductionStatus(deductionStatus)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.PaidAt = utcPtr(order.PaidAt)
	order.ProductionStartedAt = utcPtr(order.ProductionStartedAt)
	order.CompletedAt = utcPtr(order.CompletedAt)
	order.DeliveredAt = utcPtr(order.DeliveredAt)
	order.CancelledAt = utcPtr(order.CancelledAt)
	return order, nil
}

func deductionStatusOrPending(status domain.StockDeductionStatus) domain.StockDeductionStatus {
	if status == "" {
		return domain.StockDeductionPending
	}
	return status
}

func nonNilOptions(options map[string]string) map[string]string {
	if options == nil {
		return map[string]string{}
	}
	return options
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
