package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/repositories"
)

const (
	// MaxPickupSequence is the largest ticket issued per store and business day.
	MaxPickupSequence  = 999
	pickupTicketPrefix = "D"
)

var (
	// ErrPickupInvalidInput signals missing store, order or date values.
	ErrPickupInvalidInput = errors.New("pickup number: invalid input")
	// ErrPickupQuotaExhausted indicates the daily ticket range is used up.
	ErrPickupQuotaExhausted = errors.New("pickup number: daily quota exhausted")
	// ErrPickupConflict indicates the order already holds a ticket or the sequence was taken.
	ErrPickupConflict = errors.New("pickup number: conflict")
)

// PickupQuotaError reports which store and day ran out of tickets.
type PickupQuotaError struct {
	StoreID      string
	BusinessDate string
	Cap          int
}

func (e *PickupQuotaError) Error() string {
	return fmt.Sprintf("pickup number: daily quota of %d exhausted for store %s on %s", e.Cap, e.StoreID, e.BusinessDate)
}

// Is matches ErrPickupQuotaExhausted.
func (e *PickupQuotaError) Is(target error) bool {
	return target == ErrPickupQuotaExhausted
}

// PickupNumberServiceDeps bundles collaborators required to construct the pickup number service.
type PickupNumberServiceDeps struct {
	Repository  repositories.PickupNumberRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	Location    *time.Location
	IDGenerator func() string
	Metrics     OrderMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type pickupNumberService struct {
	repo       repositories.PickupNumberRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	location   *time.Location
	newID      func() string
	metrics    OrderMetrics
	logger     func(context.Context, string, map[string]any)
}

var _ PickupNumberService = (*pickupNumberService)(nil)

// NewPickupNumberService wires the allocator. Business days follow Location (UTC when unset).
func NewPickupNumberService(deps PickupNumberServiceDeps) (PickupNumberService, error) {
	if deps.Repository == nil {
		return nil, errors.New("pickup number service: repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("pickup number service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pickupNumberService{
		repo:       deps.Repository,
		unitOfWork: deps.UnitOfWork,
		clock:      clock,
		location:   location,
		newID:      idGen,
		metrics:    deps.Metrics,
		logger:     logger,
	}, nil
}

func (s *pickupNumberService) BusinessDate(now time.Time) string {
	return now.In(s.location).Format(time.DateOnly)
}

func (s *pickupNumberService) Allocate(ctx context.Context, storeID string, orderID string) (_ PickupNumber, err error) {
	storeID = strings.TrimSpace(storeID)
	orderID = strings.TrimSpace(orderID)
	if storeID == "" {
		return PickupNumber{}, fmt.Errorf("%w: store id is required", ErrPickupInvalidInput)
	}
	if orderID == "" {
		return PickupNumber{}, fmt.Errorf("%w: order id is required", ErrPickupInvalidInput)
	}

	now := s.clock().UTC()
	date := s.BusinessDate(now)

	ctx, span := startSpan(ctx, "pickup.allocate", trace.WithAttributes(
		attribute.String("store.id", storeID),
		attribute.String("pickup.business_date", date),
	))
	defer func() { endSpan(span, err) }()

	var issued PickupNumber
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.LockScope(txCtx, storeID, date); err != nil {
			return s.mapRepositoryError(err)
		}
		current, err := s.repo.MaxSequence(txCtx, storeID, date)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		next := current + 1
		if next > MaxPickupSequence {
			return &PickupQuotaError{StoreID: storeID, BusinessDate: date, Cap: MaxPickupSequence}
		}
		pickup := domain.PickupNumber{
			ID:           s.newID(),
			StoreID:      storeID,
			OrderID:      orderID,
			Ticket:       FormatPickupTicket(next),
			Sequence:     next,
			BusinessDate: date,
			Status:       domain.PickupNumberActive,
			CreatedAt:    now,
		}
		if err := s.repo.Insert(txCtx, pickup); err != nil {
			return s.mapRepositoryError(err)
		}
		issued = pickup
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPickupQuotaExhausted) {
			s.logger(ctx, "pickup.quota.exhausted", map[string]any{
				"storeId": storeID,
				"date":    date,
				"cap":     MaxPickupSequence,
			})
		}
		return PickupNumber{}, err
	}

	span.SetAttributes(attribute.Int("pickup.sequence", issued.Sequence))
	if s.metrics != nil {
		s.metrics.PickupAllocated(storeID)
	}
	return issued, nil
}

func (s *pickupNumberService) Reset(ctx context.Context, storeID string, date string) (int64, error) {
	storeID = strings.TrimSpace(storeID)
	date = strings.TrimSpace(date)
	if storeID == "" {
		return 0, fmt.Errorf("%w: store id is required", ErrPickupInvalidInput)
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return 0, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrPickupInvalidInput)
	}
	deleted, err := s.repo.DeleteByStoreDate(ctx, storeID, date)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	s.logger(ctx, "pickup.reset", map[string]any{
		"storeId": storeID,
		"date":    date,
		"deleted": deleted,
	})
	return deleted, nil
}

func (s *pickupNumberService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %v", ErrPickupConflict, err)
	}
	return err
}

// FormatPickupTicket renders a sequence as the customer-facing ticket, e.g. 7 -> D007.
func FormatPickupTicket(sequence int) string {
	return fmt.Sprintf("%s%03d", pickupTicketPrefix, sequence)
}
