package services

import (
	"errors"
	"reflect"
	"testing"

	domain "github.com/brewline/api/internal/domain"
)

func TestNormalizeSelections(t *testing.T) {
	got := normalizeSelections(map[string]string{
		" Milk ": " oat ",
		"size":   "",
		" ":      "large",
	})
	want := map[string]string{"Milk": "oat"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
	if normalizeSelections(map[string]string{"size": " "}) != nil {
		t.Fatalf("expected nil when no selection remains")
	}
}

func TestUnitPriceFor(t *testing.T) {
	latte := domain.CatalogItem{
		ID:        "latte",
		BasePrice: 500,
		Options: []domain.CatalogOption{
			{Group: "size", Choice: "L", PriceAdjustment: 80},
			{Group: "milk", Choice: "oat", PriceAdjustment: 50},
			{Group: "size", Choice: "S", PriceAdjustment: -600},
		},
	}

	price, err := unitPriceFor(latte, map[string]string{"Size": "l", "milk": "OAT"})
	if err != nil {
		t.Fatalf("unitPriceFor: %v", err)
	}
	if price != 630 {
		t.Fatalf("expected 630, got %d", price)
	}

	if _, err := unitPriceFor(latte, map[string]string{"size": "XL"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown choice, got %v", err)
	}
	if _, err := unitPriceFor(latte, map[string]string{"size": "S"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for negative price, got %v", err)
	}
}
