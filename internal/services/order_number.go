package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/width"
)

const (
	defaultOrderNumberPrefix   = "ORD"
	orderNumberTimestampLayout = "20060102150405"
	orderNumberRandomSpace     = 10000
	maxOrderNumberAttempts     = 10
)

// ErrOrderNumberExhausted indicates every candidate collided with an existing order.
var ErrOrderNumberExhausted = errors.New("order number: allocation exhausted")

// OrderNumberLookup reports whether an order number is already persisted.
type OrderNumberLookup interface {
	ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error)
}

// OrderNumberGeneratorDeps bundles collaborators for the order number generator.
type OrderNumberGeneratorDeps struct {
	Orders      OrderNumberLookup
	Prefix      string
	Clock       func() time.Time
	Location    *time.Location
	Random      func(n int) int
	MaxAttempts int
}

type orderNumberGenerator struct {
	orders      OrderNumberLookup
	prefix      string
	clock       func() time.Time
	location    *time.Location
	random      func(n int) int
	maxAttempts int
	pattern     *regexp.Regexp
}

var _ OrderNumberGenerator = (*orderNumberGenerator)(nil)

// NewOrderNumberGenerator builds a generator producing PREFIX + yyyyMMddHHmmss + 4 random digits.
func NewOrderNumberGenerator(deps OrderNumberGeneratorDeps) (OrderNumberGenerator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order number generator: order lookup is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	random := deps.Random
	if random == nil {
		random = rand.IntN
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = maxOrderNumberAttempts
	}

	return &orderNumberGenerator{
		orders:      deps.Orders,
		prefix:      prefix,
		clock:       clock,
		location:    location,
		random:      random,
		maxAttempts: attempts,
		pattern:     regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(\d{14})\d{4}$`),
	}, nil
}

func (g *orderNumberGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate := g.candidate()
		exists, err := g.orders.ExistsByOrderNumber(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("order number: existence check: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrOrderNumberExhausted, g.maxAttempts)
}

func (g *orderNumberGenerator) candidate() string {
	stamp := g.clock().In(g.location).Format(orderNumberTimestampLayout)
	return fmt.Sprintf("%s%s%04d", g.prefix, stamp, g.random(orderNumberRandomSpace))
}

// IsValid checks the prefix, digit layout and that the embedded timestamp is a real instant.
func (g *orderNumberGenerator) IsValid(orderNumber string) bool {
	match := g.pattern.FindStringSubmatch(orderNumber)
	if match == nil {
		return false
	}
	_, err := time.Parse(orderNumberTimestampLayout, match[1])
	return err == nil
}

// Normalize folds full-width characters and case so numbers typed on kiosks or phones compare equal.
func (g *orderNumberGenerator) Normalize(orderNumber string) string {
	return strings.ToUpper(strings.TrimSpace(width.Narrow.String(orderNumber)))
}
