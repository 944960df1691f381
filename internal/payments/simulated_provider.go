package payments

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SimulatedProviderName registers the simulated provider with a Manager.
const SimulatedProviderName = "simulated"

const defaultSimulatedMethod = "MOCK"

// SimulatedProviderConfig configures the SimulatedProvider.
type SimulatedProviderConfig struct {
	// Delay emulates the provider round trip. Zero disables waiting.
	Delay         time.Duration
	DefaultMethod string
	Clock         func() time.Time
	IDGenerator   func() string
}

// SimulatedProvider approves every charge after a fixed delay.
type SimulatedProvider struct {
	delay  time.Duration
	method string
	clock  func() time.Time
	newID  func() string
}

var _ Provider = (*SimulatedProvider)(nil)

// NewSimulatedProvider constructs the in-process payment stand-in.
func NewSimulatedProvider(cfg SimulatedProviderConfig) *SimulatedProvider {
	method := strings.ToUpper(strings.TrimSpace(cfg.DefaultMethod))
	if method == "" {
		method = defaultSimulatedMethod
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := cfg.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return "txn_" + ulid.Make().String()
		}
	}
	delay := cfg.Delay
	if delay < 0 {
		delay = 0
	}
	return &SimulatedProvider{
		delay:  delay,
		method: method,
		clock:  clock,
		newID:  idGen,
	}
}

// Charge waits for the configured delay, honouring cancellation, and approves the payment.
func (p *SimulatedProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return PaymentDetails{}, ctx.Err()
		case <-timer.C:
		}
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = p.method
	}
	return PaymentDetails{
		Method:        method,
		TransactionID: p.newID(),
		Status:        StatusSucceeded,
		Amount:        req.Amount,
		CapturedAt:    p.clock().UTC(),
	}, nil
}
