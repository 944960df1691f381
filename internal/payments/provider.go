package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusSucceeded indicates the provider captured the payment.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider declined the payment.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrPaymentDeclined is returned when a provider refuses the charge.
	ErrPaymentDeclined = errors.New("payments: declined")
)

// ChargeRequest captures the data required to charge an order.
type ChargeRequest struct {
	OrderID     string
	OrderNumber string
	Amount      int64
	Method      string
	Metadata    map[string]string
}

// PaymentDetails normalises provider specific fields for storage on the order.
type PaymentDetails struct {
	Provider      string
	Method        string
	TransactionID string
	Status        Status
	Amount        int64
	CapturedAt    time.Time
}

// Provider defines the contract for payment adapters to implement.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection by payment method.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	methodRoutes    map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used for methods without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// WithMethodRoutes configures static payment method to provider mappings.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.methodRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(strings.ToLower(v))
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap[SimulatedProviderName]; ok {
		m.defaultProvider = SimulatedProviderName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(method string) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != "" && m.methodRoutes != nil {
		if key, ok := m.methodRoutes[method]; ok {
			if p, ok := m.providers[key]; ok {
				return key, p, nil
			}
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
		}
	}
	if def := m.defaultProvider; def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Charge delegates to the provider resolved from the payment method.
func (m *Manager) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	if req.Amount < 0 {
		return PaymentDetails{}, errors.New("payments: amount must not be negative")
	}
	key, provider, err := m.resolveProvider(req.Method)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.Charge(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	if details.Method == "" {
		details.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	}
	if details.Status == StatusFailed {
		return PaymentDetails{}, fmt.Errorf("%w: order %s", ErrPaymentDeclined, req.OrderID)
	}
	return details, nil
}
