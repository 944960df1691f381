package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/brewline/api/internal/domain"
	ppostgres "github.com/brewline/api/internal/platform/postgres"
	"github.com/brewline/api/internal/repositories"
)

// pickupLockNamespace separates pickup advisory locks from any other advisory lock users.
const pickupLockNamespace = "pickup:"

// PickupNumberRepository stores daily pickup tickets and serialises their issuance per store and day
// with transaction-scoped advisory locks.
type PickupNumberRepository struct {
	source ppostgres.PoolSource
}

var _ repositories.PickupNumberRepository = (*PickupNumberRepository)(nil)

// NewPickupNumberRepository constructs a PostgreSQL-backed pickup number repository.
func NewPickupNumberRepository(source ppostgres.PoolSource) (*PickupNumberRepository, error) {
	if source == nil {
		return nil, errors.New("pickup number repository requires postgres pool source")
	}
	return &PickupNumberRepository{source: source}, nil
}

// LockScope takes pg_advisory_xact_lock on a 64-bit hash of the store and business date. The lock is
// released by the server when the enclosing transaction commits or rolls back.
func (r *PickupNumberRepository) LockScope(ctx context.Context, storeID string, businessDate string) error {
	tx, err := ppostgres.RequireTx(ctx)
	if err != nil {
		return err
	}
	key := pickupLockNamespace + storeID + ":" + businessDate
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return ppostgres.WrapError("pickup_numbers.lock", err)
	}
	return nil
}

func (r *PickupNumberRepository) MaxSequence(ctx context.Context, storeID string, businessDate string) (int, error) {
	tx, err := ppostgres.RequireTx(ctx)
	if err != nil {
		return 0, err
	}
	var maxSeq int
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM pickup_numbers
		WHERE store_id = $1 AND business_date = $2::date`, storeID, businessDate).Scan(&maxSeq)
	if err != nil {
		return 0, ppostgres.WrapError("pickup_numbers.max_sequence", err)
	}
	return maxSeq, nil
}

func (r *PickupNumberRepository) Insert(ctx context.Context, pickup domain.PickupNumber) error {
	tx, err := ppostgres.RequireTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO pickup_numbers
		(id, store_id, order_id, ticket, sequence, business_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8)`,
		pickup.ID, pickup.StoreID, pickup.OrderID, pickup.Ticket, pickup.Sequence,
		pickup.BusinessDate, string(pickup.Status), pickup.CreatedAt)
	return ppostgres.WrapError("pickup_numbers.insert", err)
}

func (r *PickupNumberRepository) FindByOrderID(ctx context.Context, orderID string) (domain.PickupNumber, error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return domain.PickupNumber{}, err
	}
	rows, err := db.Query(ctx, `SELECT id, store_id, order_id, ticket, sequence, business_date, status, created_at
		FROM pickup_numbers WHERE order_id = $1`, orderID)
	if err != nil {
		return domain.PickupNumber{}, ppostgres.WrapError("pickup_numbers.find", err)
	}
	pickup, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (domain.PickupNumber, error) {
		var (
			p      domain.PickupNumber
			date   time.Time
			status string
		)
		if err := row.Scan(&p.ID, &p.StoreID, &p.OrderID, &p.Ticket, &p.Sequence, &date, &status, &p.CreatedAt); err != nil {
			return domain.PickupNumber{}, err
		}
		p.BusinessDate = date.Format(time.DateOnly)
		p.Status = domain.PickupNumberStatus(status)
		p.CreatedAt = p.CreatedAt.UTC()
		return p, nil
	})
	if err != nil {
		return domain.PickupNumber{}, ppostgres.WrapError("pickup_numbers.find", err)
	}
	return pickup, nil
}

func (r *PickupNumberRepository) DeleteByStoreDate(ctx context.Context, storeID string, businessDate string) (int64, error) {
	db, err := ppostgres.Conn(ctx, r.source)
	if err != nil {
		return 0, err
	}
	tag, err := db.Exec(ctx, `DELETE FROM pickup_numbers WHERE store_id = $1 AND business_date = $2::date`, storeID, businessDate)
	if err != nil {
		return 0, ppostgres.WrapError("pickup_numbers.delete", err)
	}
	return tag.RowsAffected(), nil
}
