package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/platform/httpx"
	"github.com/brewline/api/internal/platform/idempotency"
	"github.com/brewline/api/internal/platform/pagination"
	"github.com/brewline/api/internal/platform/requestctx"
	"github.com/brewline/api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 32 * 1024
	maxOrderActionBodySize = 4 * 1024
	transientRetryAfter    = 2 * time.Second
)

type createOrderRequest struct {
	StoreID string                   `json:"store_id"`
	Items   []createOrderItemRequest `json:"items"`
	Note    *string                  `json:"note"`
}

type createOrderItemRequest struct {
	CatalogItemID string            `json:"catalog_item_id"`
	Quantity      int               `json:"quantity"`
	Options       map[string]string `json:"options"`
	Note          *string           `json:"note"`
}

type payOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type orderActionRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithPayIdempotency makes pay retry-safe: a repeated Idempotency-Key for the same order replays the
// first outcome instead of charging again.
func WithPayIdempotency(store idempotency.Store, opts ...idempotency.MiddlewareOption) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if store == nil {
			return
		}
		all := append([]idempotency.MiddlewareOption{idempotency.WithOutcome(payOutcome)}, opts...)
		h.idempotency = idempotency.Middleware(store, payScope, all...)
	}
}

const payOperation = "order.pay"

func payScope(r *http.Request) (idempotency.Scope, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		return idempotency.Scope{}, false
	}
	return idempotency.Scope{
		Operation: payOperation,
		OrderID:   orderID,
		UserID:    requestctx.UserID(r.Context()),
	}, true
}

// payOutcome reads the paid order back out of the success envelope.
func payOutcome(status int, body []byte) idempotency.Outcome {
	if status >= http.StatusBadRequest {
		return idempotency.Outcome{}
	}
	var envelope struct {
		Data orderPayload `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return idempotency.Outcome{}
	}
	return idempotency.Outcome{
		OrderStatus:   envelope.Data.Status,
		PickupNumber:  envelope.Data.PickupNumber,
		TransactionID: envelope.Data.TransactionID,
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/by-number/{orderNumber}", h.getOrderByNumber)
	r.Get("/{orderID}", h.getOrder)

	var pay http.Handler = http.HandlerFunc(h.payOrder)
	if h.idempotency != nil {
		pay = h.idempotency(pay)
	}
	r.Method(http.MethodPost, "/{orderID}:pay", pay)

	r.Post("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}:start-production", h.orderAction(h.startProduction))
	r.Post("/{orderID}:complete", h.orderAction(h.complete))
	r.Post("/{orderID}:deliver", h.orderAction(h.deliver))
	r.Post("/{orderID}:cancel", h.orderAction(h.cancel))
}

// UserRoutes registers the /users/{userID}/orders history endpoint.
func (h *OrderHandlers) UserRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{userID}/orders", h.listUserOrders)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	userID := requestctx.UserID(ctx)
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "X-User-ID header is required", http.StatusBadRequest))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderCreateBodySize, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:  userID,
		StoreID: strings.TrimSpace(req.StoreID),
		Note:    req.Note,
		Items:   make([]services.CreateOrderItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			CatalogItemID: strings.TrimSpace(item.CatalogItemID),
			Quantity:      item.Quantity,
			Options:       item.Options,
			Note:          item.Note,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = requestctx.UserID(r.Context())
	}
	h.writeOrderList(w, r, userID)
}

func (h *OrderHandlers) listUserOrders(w http.ResponseWriter, r *http.Request) {
	h.writeOrderList(w, r, strings.TrimSpace(chi.URLParam(r, "userID")))
}

func (h *OrderHandlers) writeOrderList(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		UserID:  userID,
		StoreID: strings.TrimSpace(query.Get("store_id")),
	}
	if filter.UserID == "" && filter.StoreID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user_id or store_id is required", http.StatusBadRequest))
		return
	}

	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown order status %q", raw), http.StatusBadRequest))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if raw := strings.ToUpper(strings.TrimSpace(query.Get("deduction_status"))); raw != "" {
		status := domain.StockDeductionStatus(raw)
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown deduction status %q", raw), http.StatusBadRequest))
			return
		}
		filter.DeductionStatus = status
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedAfter = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedBefore = &ts
	}

	params, err := pagination.Parse(query, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination = services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteData(w, http.StatusOK, orderListPayload{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	number := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if number == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.GetOrderByNumber(ctx, number)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req payOrderRequest
	if err := decodeJSONBody(r, maxOrderActionBodySize, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Pay(ctx, services.PayOrderCommand{
		OrderID:       orderID,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		ActorID:       requestctx.UserID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(r, maxOrderActionBodySize, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown order status %q", req.Status), http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.OrderStatusCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      requestctx.UserID(ctx),
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildOrderPayload(order))
}

type orderActionFunc func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error)

func (h *OrderHandlers) startProduction(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return h.orders.StartProduction(ctx, cmd)
}

func (h *OrderHandlers) complete(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return h.orders.Complete(ctx, cmd)
}

func (h *OrderHandlers) deliver(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return h.orders.Deliver(ctx, cmd)
}

func (h *OrderHandlers) cancel(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return h.orders.Cancel(ctx, cmd)
}

func (h *OrderHandlers) orderAction(action orderActionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !h.available(ctx, w) {
			return
		}
		orderID, ok := orderIDParam(ctx, w, r)
		if !ok {
			return
		}

		var req orderActionRequest
		if err := decodeJSONBody(r, maxOrderActionBodySize, &req, true); err != nil {
			writeBodyError(ctx, w, err)
			return
		}

		order, err := action(ctx, services.OrderActionCommand{
			OrderID: orderID,
			ActorID: requestctx.UserID(ctx),
			Reason:  strings.TrimSpace(req.Reason),
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		httpx.WriteData(w, http.StatusOK, buildOrderPayload(order))
	}
}

func (h *OrderHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var shortage *services.InsufficientStockError
	if errors.As(err, &shortage) {
		details := make([]map[string]any, 0, len(shortage.Shortages))
		for _, s := range shortage.Shortages {
			details = append(details, map[string]any{
				"material_id":   s.MaterialID,
				"material_name": s.MaterialName,
				"available":     s.Available.String(),
				"required":      s.Required.String(),
				"unit":          s.Unit,
			})
		}
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"shortages": details}))
		return
	}

	var quota *services.PickupQuotaError
	if errors.As(err, &quota) {
		httpx.WriteError(ctx, w, httpx.NewError("pickup_quota_exhausted", err.Error(), http.StatusServiceUnavailable).
			WithDetails(map[string]any{"store_id": quota.StoreID, "business_date": quota.BusinessDate}))
		return
	}

	var deduction *services.StockDeductionError
	if errors.As(err, &deduction) {
		apiErr := httpx.NewError("stock_deduction_failed", err.Error(), http.StatusBadGateway).
			WithDetails(map[string]any{"stage": deduction.Stage, "material_id": deduction.MaterialID})
		if !deduction.Mutating() {
			// Nothing was adjusted, so completing again is safe.
			apiErr = apiErr.WithRetryAfter(transientRetryAfter)
		}
		httpx.WriteError(ctx, w, apiErr)
		return
	}

	var transition *services.OrderTransitionError
	if errors.As(err, &transition) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{"from": string(transition.From), "to": string(transition.To)}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderNumberExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_number_exhausted", "order number allocation exhausted", http.StatusInternalServerError))
	case errors.Is(err, services.ErrPickupQuotaExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("pickup_quota_exhausted", err.Error(), http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_item_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrPickupInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrStockDeductionFailed):
		httpx.WriteError(ctx, w, httpx.NewError("stock_deduction_failed", err.Error(), http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrPickupConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderRepositoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order repository unavailable", http.StatusServiceUnavailable).
			WithRetryAfter(transientRetryAfter))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID                   string             `json:"id"`
	OrderNumber          string             `json:"order_number"`
	StoreID              string             `json:"store_id"`
	UserID               string             `json:"user_id"`
	Status               string             `json:"status"`
	TotalPrice           int64              `json:"total_price"`
	Items                []orderItemPayload `json:"items"`
	PaymentMethod        string             `json:"payment_method,omitempty"`
	TransactionID        string             `json:"transaction_id,omitempty"`
	PickupNumber         string             `json:"pickup_number,omitempty"`
	Note                 string             `json:"note,omitempty"`
	StockDeductionStatus string             `json:"stock_deduction_status"`
	CreatedAt            string             `json:"created_at"`
	UpdatedAt            string             `json:"updated_at,omitempty"`
	PaidAt               string             `json:"paid_at,omitempty"`
	ProductionStartedAt  string             `json:"production_started_at,omitempty"`
	CompletedAt          string             `json:"completed_at,omitempty"`
	DeliveredAt          string             `json:"delivered_at,omitempty"`
	CancelledAt          string             `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ID            string            `json:"id"`
	CatalogItemID string            `json:"catalog_item_id"`
	Name          string            `json:"name"`
	ImageURL      string            `json:"image_url,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
	Quantity      int               `json:"quantity"`
	UnitPrice     int64             `json:"unit_price"`
	Subtotal      int64             `json:"subtotal"`
	Note          string            `json:"note,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                   order.ID,
		OrderNumber:          order.OrderNumber,
		StoreID:              order.StoreID,
		UserID:               order.UserID,
		Status:               string(order.Status),
		TotalPrice:           order.TotalPrice,
		Items:                make([]orderItemPayload, 0, len(order.Items)),
		PaymentMethod:        derefString(order.PaymentMethod),
		TransactionID:        derefString(order.TransactionID),
		PickupNumber:         derefString(order.PickupNumber),
		Note:                 derefString(order.Note),
		StockDeductionStatus: string(order.StockDeductionStatus),
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
		PaidAt:               formatTime(pointerTime(order.PaidAt)),
		ProductionStartedAt:  formatTime(pointerTime(order.ProductionStartedAt)),
		CompletedAt:          formatTime(pointerTime(order.CompletedAt)),
		DeliveredAt:          formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:          formatTime(pointerTime(order.CancelledAt)),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:            item.ID,
			CatalogItemID: item.CatalogItemID,
			Name:          item.Name,
			ImageURL:      item.ImageURL,
			Options:       item.Options,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			Subtotal:      item.Subtotal,
			Note:          derefString(item.Note),
		})
	}
	return payload
}
