package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:pay:"

// RedisOption customises the RedisStore behaviour.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the namespace applied to every stored key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(store *RedisStore) {
		if prefix != "" {
			store.prefix = prefix
		}
	}
}

// RedisStore keeps records as JSON values whose TTL matches the record expiry, so instances share
// pay reservations and Redis handles eviction.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve claims the key with SETNX. When the key exists, the stored record decides the outcome.
func (s *RedisStore) Reserve(ctx context.Context, key string, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := newPendingRecord(key, scope, fingerprint, now, ttl)
	payload, err := json.Marshal(toRedisRecord(record))
	if err != nil {
		return Reservation{}, err
	}

	created, err := s.client.SetNX(ctx, s.prefix+key, payload, ttl).Result()
	if err != nil {
		return Reservation{}, err
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	existing, found, err := s.load(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	if !found {
		// Evicted between SETNX and GET.
		created, err := s.client.SetNX(ctx, s.prefix+key, payload, ttl).Result()
		if err != nil {
			return Reservation{}, err
		}
		if !created {
			return Reservation{State: ReservationStatePending, Record: record}, nil
		}
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	if err := checkReuse(existing, scope, fingerprint); err != nil {
		return Reservation{Record: existing}, err
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: existing}, nil
	}
	return Reservation{State: ReservationStatePending, Record: existing}, nil
}

// Complete stores the outcome so later attempts replay it.
func (s *RedisStore) Complete(ctx context.Context, key string, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record, found, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return ErrReservationLost
	}
	if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}

	payload, err := json.Marshal(toRedisRecord(completeRecord(record, outcome, now, ttl)))
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, payload, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// CleanupExpired is a no-op; Redis evicts records once their TTL lapses.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var stored redisRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Record{}, false, err
	}
	return stored.toRecord(), true, nil
}

type redisRecord struct {
	Key           string    `json:"key"`
	Operation     string    `json:"operation"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id,omitempty"`
	Fingerprint   string    `json:"fingerprint"`
	Status        string    `json:"status"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	OrderStatus   string    `json:"order_status,omitempty"`
	PickupNumber  string    `json:"pickup_number,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Body          []byte    `json:"body,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func toRedisRecord(r Record) redisRecord {
	return redisRecord{
		Key:           r.Key,
		Operation:     r.Scope.Operation,
		OrderID:       r.Scope.OrderID,
		UserID:        r.Scope.UserID,
		Fingerprint:   r.Fingerprint,
		Status:        string(r.Status),
		HTTPStatus:    r.Outcome.HTTPStatus,
		OrderStatus:   r.Outcome.OrderStatus,
		PickupNumber:  r.Outcome.PickupNumber,
		TransactionID: r.Outcome.TransactionID,
		Body:          r.Outcome.Body,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}

func (r redisRecord) toRecord() Record {
	return Record{
		Key:         r.Key,
		Scope:       Scope{Operation: r.Operation, OrderID: r.OrderID, UserID: r.UserID},
		Fingerprint: r.Fingerprint,
		Status:      Status(r.Status),
		Outcome: Outcome{
			HTTPStatus:    r.HTTPStatus,
			OrderStatus:   r.OrderStatus,
			PickupNumber:  r.PickupNumber,
			TransactionID: r.TransactionID,
			Body:          r.Body,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}
