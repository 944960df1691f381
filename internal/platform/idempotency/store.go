package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is how long a completed pay attempt can be replayed.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should run the operation.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means the stored outcome should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is still running the operation.
	ReservationStatePending
)

var (
	// ErrScopeMismatch is returned when a key is reused for a different operation or order.
	ErrScopeMismatch = errors.New("idempotency: key already used for another order operation")
	// ErrFingerprintMismatch is returned when a key is reused with a different request body.
	ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request body")
	// ErrReservationLost is returned by Complete when the pending record expired or was released.
	ErrReservationLost = errors.New("idempotency: reservation no longer held")
)

// Scope names the order operation a key was first used for.
type Scope struct {
	Operation string
	OrderID   string
	UserID    string
}

func (s Scope) matches(other Scope) bool {
	return s.Operation == other.Operation && s.OrderID == other.OrderID
}

// Outcome is what a completed operation produced. The order fields let operators see what a key
// resolved to without decoding the replay body.
type Outcome struct {
	HTTPStatus    int
	OrderStatus   string
	PickupNumber  string
	TransactionID string
	Body          []byte
}

// Record is the persisted state of one key.
type Record struct {
	Key         string
	Scope       Scope
	Fingerprint string
	Status      Status
	Outcome     Outcome
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Reservation is the result of Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Store persists key reservations and operation outcomes.
type Store interface {
	Reserve(ctx context.Context, key string, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key string, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// RecordKey derives the storage key for a client supplied key. Keys are private to a user.
func RecordKey(userID, clientKey string) string {
	return sha256Hex([]byte(strings.TrimSpace(userID) + "\x00" + strings.TrimSpace(clientKey)))
}

// checkReuse rejects a key presented for a different order operation or body.
func checkReuse(existing Record, scope Scope, fingerprint string) error {
	if !existing.Scope.matches(scope) {
		return ErrScopeMismatch
	}
	if existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	return nil
}

func newPendingRecord(key string, scope Scope, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Scope:       scope,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func completeRecord(record Record, outcome Outcome, now time.Time, ttl time.Duration) Record {
	record.Status = StatusCompleted
	record.Outcome = outcome
	if len(outcome.Body) > 0 {
		record.Outcome.Body = append([]byte(nil), outcome.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
