package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brewline/api/internal/platform/httpx"
	"github.com/brewline/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	orderStatusHeader = "X-Order-Status"
	anonymousUser     = "anonymous"
	pendingRetryAfter = time.Second
)

// ScopeFunc resolves the order operation a request targets. Returning false lets the request through
// unguarded.
type ScopeFunc func(r *http.Request) (Scope, bool)

// OutcomeFunc extracts the resulting order state from a handler response.
type OutcomeFunc func(status int, body []byte) Outcome

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     *zap.Logger
	optional   bool
	outcome    OutcomeFunc
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the client key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed outcomes are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithOptionalKey lets requests without the header pass through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.optional = true
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithOutcome sets how order state is read from a completed response.
func WithOutcome(fn OutcomeFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.outcome = fn
	}
}

// Middleware makes an order operation safe to retry: the first request carrying a key runs the
// operation, later requests with the same key replay its outcome. A key is bound to the user, the
// operation, the order and the request body it was first seen with.
func Middleware(store Store, scope ScopeFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil || scope == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				if cfg.optional {
					next.ServeHTTP(w, r)
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.headerName+" header", http.StatusBadRequest))
				return
			}

			target, ok := scope(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if target.UserID == "" {
				target.UserID = requestctx.UserID(ctx)
			}
			if target.UserID == "" {
				target.UserID = anonymousUser
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			fingerprint := hashBody(body)
			recordKey := RecordKey(target.UserID, key)
			logger := cfg.logger.With(
				zap.String("operation", target.Operation),
				zap.String("order_id", target.OrderID),
				zap.String("user_id", target.UserID),
			)

			reservation, err := store.Reserve(ctx, recordKey, target, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				writeReserveError(w, r, logger, reservation.Record, err)
				return
			}
			switch reservation.State {
			case ReservationStateCompleted:
				logger.Debug("idempotency replay",
					zap.String("order_status", reservation.Record.Outcome.OrderStatus),
					zap.String("pickup_number", reservation.Record.Outcome.PickupNumber))
				writeOutcome(w, reservation.Record.Outcome)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "order "+target.OrderID+" is already being processed for this key", http.StatusConflict).
					WithRetryAfter(pendingRetryAfter))
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)
			status := recorder.Status()

			if status >= http.StatusInternalServerError {
				// The operation may not have run; the key stays usable for a retry.
				if err := store.Release(ctx, recordKey); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
				recorder.commit(logger)
				return
			}

			outcome := Outcome{}
			if cfg.outcome != nil {
				outcome = cfg.outcome(status, recorder.body.Bytes())
			}
			outcome.HTTPStatus = status
			outcome.Body = recorder.body.Bytes()

			if err := store.Complete(ctx, recordKey, fingerprint, outcome, cfg.clock().UTC(), cfg.ttl); err != nil {
				// The order already changed, so the real response still goes out; without a stored
				// outcome a retry reaches the service and fails its state check instead of replaying.
				logger.Warn("idempotency outcome not stored", zap.Error(err), zap.String("order_status", outcome.OrderStatus))
				if err := store.Release(ctx, recordKey); err != nil {
					logger.Warn("idempotency release failed", zap.Error(err))
				}
			}
			recorder.commit(logger)
		})
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func hashBody(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	return sha256Hex(body)
}

func writeReserveError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, existing Record, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ErrScopeMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was already used for another order", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"operation": existing.Scope.Operation, "order_id": existing.Scope.OrderID}))
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used with a different request body", http.StatusConflict))
	default:
		logger.Error("idempotency store error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable).
			WithRetryAfter(pendingRetryAfter))
	}
}

func writeOutcome(w http.ResponseWriter, outcome Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(replayHeaderName, "true")
	if outcome.OrderStatus != "" {
		w.Header().Set(orderStatusHeader, outcome.OrderStatus)
	}
	status := outcome.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(outcome.Body) > 0 {
		_, _ = w.Write(outcome.Body)
	}
}

// responseRecorder buffers the handler response until the outcome is stored.
type responseRecorder struct {
	parent http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent}
}

// Header writes through; handlers set headers before the body and nothing is replayed from them.
func (r *responseRecorder) Header() http.Header {
	return r.parent.Header()
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) commit(logger *zap.Logger) {
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return
	}
	if _, err := r.parent.Write(r.body.Bytes()); err != nil {
		logger.Debug("idempotency response flush failed", zap.Error(err))
	}
}
