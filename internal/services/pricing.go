package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	domain "github.com/brewline/api/internal/domain"
	"github.com/brewline/api/internal/platform/textutil"
	"github.com/brewline/api/internal/repositories"
)

const (
	maxOrderLines   = 50
	maxLineQuantity = 99
)

// orderPricer prices requested lines from catalog base prices and option adjustments.
type orderPricer struct {
	catalog repositories.CatalogRepository
	newID   func() string
}

func (p orderPricer) price(ctx context.Context, orderID string, requested []CreateOrderItem) ([]OrderItem, int64, error) {
	if len(requested) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if len(requested) > maxOrderLines {
		return nil, 0, fmt.Errorf("%w: at most %d items per order", ErrOrderInvalidInput, maxOrderLines)
	}

	items := make([]OrderItem, 0, len(requested))
	var total int64
	for i, line := range requested {
		itemID := strings.TrimSpace(line.CatalogItemID)
		if itemID == "" {
			return nil, 0, fmt.Errorf("%w: items[%d].catalog_item_id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 || line.Quantity > maxLineQuantity {
			return nil, 0, fmt.Errorf("%w: items[%d].quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxLineQuantity)
		}

		catalogItem, err := p.catalog.FindItem(ctx, itemID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, 0, fmt.Errorf("%w: %s", ErrCatalogItemNotFound, itemID)
			}
			return nil, 0, err
		}
		if !catalogItem.Active {
			return nil, 0, fmt.Errorf("%w: catalog item %s is not available", ErrOrderInvalidInput, itemID)
		}

		options := normalizeSelections(line.Options)
		unitPrice, err := unitPriceFor(catalogItem, options)
		if err != nil {
			return nil, 0, err
		}
		subtotal := unitPrice * int64(line.Quantity)
		total += subtotal

		items = append(items, OrderItem{
			ID:            p.newID(),
			OrderID:       orderID,
			CatalogItemID: catalogItem.ID,
			Name:          catalogItem.Name,
			ImageURL:      catalogItem.ImageURL,
			Options:       options,
			Quantity:      line.Quantity,
			UnitPrice:     unitPrice,
			Subtotal:      subtotal,
			Note:          textutil.SanitizeNotePtr(line.Note),
		})
	}
	return items, total, nil
}

// normalizeSelections trims option groups and choices. A group left without a choice is not a
// selection and is dropped.
func normalizeSelections(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for group, choice := range values {
		group, choice = strings.TrimSpace(group), strings.TrimSpace(choice)
		if group == "" || choice == "" {
			continue
		}
		result[group] = choice
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// unitPriceFor adds the adjustment of every selected option to the base price. Each selection must
// name a known group and choice.
func unitPriceFor(item domain.CatalogItem, selections map[string]string) (int64, error) {
	price := item.BasePrice
	groups := make([]string, 0, len(selections))
	for group := range selections {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	for _, group := range groups {
		choice := selections[group]
		option, ok := findOption(item.Options, group, choice)
		if !ok {
			return 0, fmt.Errorf("%w: option %s=%s is not offered for %s", ErrOrderInvalidInput, group, choice, item.ID)
		}
		price += option.PriceAdjustment
	}
	if price < 0 {
		return 0, fmt.Errorf("%w: price for %s resolves below zero", ErrOrderInvalidInput, item.ID)
	}
	return price, nil
}

func findOption(options []domain.CatalogOption, group, choice string) (domain.CatalogOption, bool) {
	for _, option := range options {
		if strings.EqualFold(option.Group, group) && strings.EqualFold(option.Choice, choice) {
			return option, true
		}
	}
	return domain.CatalogOption{}, false
}
