// Package stockclient talks to an external inventory service over HTTP.
package stockclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/shopspring/decimal"

	"github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/repositories"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultQueryRetries = 3
	maxErrorBody        = 4 << 10
)

// Config configures the HTTP stock client.
type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	QueryRetries int
	HTTPClient   *http.Client
	Backoff      gax.Backoff
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Client implements repositories.StockRepository against the inventory service.
// Only Query is retried; Adjust is sent exactly once.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	retries int
	backoff gax.Backoff
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ repositories.StockRepository = (*Client)(nil)

// New validates cfg and returns a ready client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("stock client: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("stock client: invalid base url %q", raw)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retries := cfg.QueryRetries
	if retries <= 0 {
		retries = defaultQueryRetries
	}
	backoff := cfg.Backoff
	if backoff.Initial <= 0 {
		backoff = gax.Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}

	return &Client{
		base:    base,
		token:   strings.TrimSpace(cfg.Token),
		http:    httpClient,
		retries: retries,
		backoff: backoff,
		sleep:   sleep,
	}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type stockPayload struct {
	MaterialID   string          `json:"material_id"`
	StoreID      string          `json:"store_id"`
	MaterialName string          `json:"material_name"`
	Available    decimal.Decimal `json:"available"`
	OnHand       decimal.Decimal `json:"on_hand"`
	Reserved     decimal.Decimal `json:"reserved"`
	Unit         string          `json:"unit"`
}

type adjustPayload struct {
	Type       string          `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReasonCode string          `json:"reason_code"`
	ReasonText string          `json:"reason_text,omitempty"`
	Note       string          `json:"note,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
}

// Query fetches the stock level of a material at a store.
func (c *Client) Query(ctx context.Context, materialID string, storeID string) (domain.MaterialStock, error) {
	const op = "stock.query"
	endpoint := c.endpoint("stores", storeID, "materials", materialID, "stock")

	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		stock, err := c.queryOnce(ctx, op, endpoint)
		if err == nil {
			if stock.MaterialID == "" {
				stock.MaterialID = materialID
			}
			if stock.StoreID == "" {
				stock.StoreID = storeID
			}
			return stock, nil
		}
		lastErr = err
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || !stockErr.IsUnavailable() || attempt == c.retries {
			break
		}
		if sleepErr := c.sleep(ctx, backoff.Pause()); sleepErr != nil {
			return domain.MaterialStock{}, repositories.NewStockError(op, repositories.StockErrorUnavailable, "query cancelled", sleepErr)
		}
	}
	return domain.MaterialStock{}, lastErr
}

func (c *Client) queryOnce(ctx context.Context, op, endpoint string) (domain.MaterialStock, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.MaterialStock{}, repositories.NewStockError(op, repositories.StockErrorUnknown, "build request", err)
	}
	var payload stockPayload
	if err := c.do(req, op, &payload); err != nil {
		return domain.MaterialStock{}, err
	}
	return domain.MaterialStock{
		MaterialID:   payload.MaterialID,
		StoreID:      payload.StoreID,
		MaterialName: payload.MaterialName,
		Available:    payload.Available,
		OnHand:       payload.OnHand,
		Reserved:     payload.Reserved,
		Unit:         payload.Unit,
	}, nil
}

// Adjust records a stock movement. It is not retried because the remote call is not idempotent.
func (c *Client) Adjust(ctx context.Context, adjustment domain.StockAdjustment) error {
	const op = "stock.adjust"
	body, err := json.Marshal(adjustPayload{
		Type:       string(adjustment.Type),
		Quantity:   adjustment.Quantity,
		ReasonCode: adjustment.ReasonCode,
		ReasonText: adjustment.ReasonText,
		Note:       adjustment.Note,
		OrderID:    adjustment.OrderID,
	})
	if err != nil {
		return repositories.NewStockError(op, repositories.StockErrorUnknown, "encode adjustment", err)
	}
	endpoint := c.endpoint("stores", adjustment.StoreID, "materials", adjustment.MaterialID, "adjustments")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return repositories.NewStockError(op, repositories.StockErrorUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, nil)
}

// Ping checks that the inventory service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	const op = "stock.ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("health"), nil)
	if err != nil {
		return repositories.NewStockError(op, repositories.StockErrorUnknown, "build request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return repositories.NewStockError(op, repositories.StockErrorUnavailable, "stock service unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	return nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return repositories.NewStockError(op, repositories.StockErrorUnavailable, "stock service unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) && out == nil {
			return nil
		}
		return repositories.NewStockError(op, repositories.StockErrorUnknown, "decode response", err)
	}
	if !env.Success {
		return repositories.NewStockError(op, repositories.StockErrorRejected, firstNonEmpty(env.Message, env.Error, "stock service rejected request"), nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return repositories.NewStockError(op, repositories.StockErrorUnknown, "decode response data", err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	var env envelope
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &env)
	message := firstNonEmpty(env.Message, env.Error, http.StatusText(resp.StatusCode))

	code := repositories.StockErrorUnknown
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = repositories.StockErrorNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		code = repositories.StockErrorUnavailable
	case resp.StatusCode >= 400:
		code = repositories.StockErrorRejected
	}
	return repositories.NewStockError(op, code, message, fmt.Errorf("http status %d", resp.StatusCode))
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments)+2)
	escaped = append(escaped, "api", "v1")
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return strings.TrimRight(c.base.String(), "/") + "/" + strings.Join(escaped, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
