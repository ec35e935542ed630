package validation_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-mf/internal/types"
	"github.com/ksred/klear-mf/internal/validation"
)

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestCartItem(t *testing.T) {
	product := &types.Product{ProductID: "1", SchemeName: "Alpha Growth", MinInvestment: dec("5000"), MaxInvestment: decPtr("50000")}

	t.Run("missing product fails immediately", func(t *testing.T) {
		item := types.CartItem{ProductID: "9", TransactionType: types.Purchase, Amount: dec("0")}
		result := validation.CartItem(item, nil, 0)

		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "Product information not available")
	})

	t.Run("full liquidation with zero amount bypasses amount checks", func(t *testing.T) {
		for _, tt := range []types.TransactionType{types.FullRedemption, types.FullSwitch} {
			item := types.CartItem{ProductID: "1", SchemeName: "Alpha Growth", TransactionType: tt, Amount: decimal.Zero, CloseAc: true}
			result := validation.CartItem(item, product, 0)

			assert.True(t, result.IsValid, tt)
			assert.Empty(t, result.Errors, tt)
			assert.Empty(t, result.Warnings, tt)
		}
	})

	t.Run("full liquidation without closeAc warns but stays valid", func(t *testing.T) {
		item := types.CartItem{ProductID: "1", SchemeName: "Alpha Growth", TransactionType: types.FullRedemption}
		result := validation.CartItem(item, product, 2)

		assert.True(t, result.IsValid)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "Item 3 (Alpha Growth)")
		assert.Contains(t, result.Warnings[0], "closeAc")
	})

	t.Run("full liquidation rejects a negative amount", func(t *testing.T) {
		for _, tt := range []types.TransactionType{types.FullRedemption, types.FullSwitch} {
			item := types.CartItem{ProductID: "1", SchemeName: "Alpha Growth", TransactionType: tt, Amount: dec("-100"), CloseAc: true}
			result := validation.CartItem(item, product, 0)

			assert.False(t, result.IsValid, tt)
			require.Len(t, result.Errors, 1, tt)
			assert.Contains(t, result.Errors[0], "Amount cannot be negative", tt)
		}
	})

	t.Run("zero amount purchase must be positive", func(t *testing.T) {
		item := types.CartItem{ProductID: "1", TransactionType: types.Purchase, Amount: decimal.Zero}
		result := validation.CartItem(item, product, 0)

		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "must be greater than 0")
	})

	t.Run("redemption is checked against investment limits", func(t *testing.T) {
		item := types.CartItem{ProductID: "1", TransactionType: types.Redemption, Amount: dec("60000")}
		result := validation.CartItem(item, product, 0)

		assert.True(t, containsSubstring(result.Errors, "exceeds maximum investment"))
	})
}

func TestOrder(t *testing.T) {
	asOf := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	products := map[string]*types.Product{
		"1": {ProductID: "1", SchemeName: "Alpha Growth", MinInvestment: dec("5000")},
		"2": {ProductID: "2", SchemeName: "Beta Debt", MinInvestment: dec("1000"), MaxInvestment: decPtr("200000")},
	}
	adult := types.Nominee{Name: "Ravi Kumar", Relationship: "Spouse", DateOfBirth: "1985-04-12", PAN: "ABCDE1234F", Percentage: 100}

	t.Run("empty cart short circuits", func(t *testing.T) {
		result := validation.Order(validation.OrderCheck{
			Products: products,
			Nominees: []types.Nominee{{Percentage: 10}},
			EUIN:     "bad",
		})

		assert.False(t, result.IsValid)
		assert.Equal(t, []string{"Cart cannot be empty"}, result.Errors)
	})

	t.Run("amount below product minimum", func(t *testing.T) {
		result := validation.Order(validation.OrderCheck{
			CartItems:          []types.CartItem{{ProductID: "1", SchemeName: "Alpha Growth", Amount: dec("4000")}},
			Products:           products,
			OptOutOfNomination: true,
			AsOf:               asOf,
		})

		assert.False(t, result.IsValid)
		assert.True(t, containsSubstring(result.Errors, "below minimum investment"))
	})

	t.Run("full redemption of zero with warning is valid", func(t *testing.T) {
		result := validation.Order(validation.OrderCheck{
			CartItems: []types.CartItem{
				{ProductID: "1", SchemeName: "Alpha Growth", TransactionType: types.FullRedemption, Amount: decimal.Zero},
				{ProductID: "2", SchemeName: "Beta Debt", TransactionType: types.FullSwitch, Amount: decimal.Zero},
			},
			Products:           products,
			MarketValues:       map[string]decimal.Decimal{"1": decimal.Zero, "2": decimal.Zero},
			OptOutOfNomination: true,
			AsOf:               asOf,
		})

		assert.True(t, result.IsValid)
		assert.Empty(t, result.Errors)
		assert.Len(t, result.Warnings, 2)
	})

	t.Run("partial redemption above market value", func(t *testing.T) {
		result := validation.Order(validation.OrderCheck{
			CartItems:          []types.CartItem{{ProductID: "2", SchemeName: "Beta Debt", TransactionType: types.Redemption, Amount: dec("8000")}},
			Products:           products,
			MarketValues:       map[string]decimal.Decimal{"2": dec("7500")},
			OptOutOfNomination: true,
			AsOf:               asOf,
		})

		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "exceeds current market value")
	})

	t.Run("purchase ignores market value", func(t *testing.T) {
		result := validation.Order(validation.OrderCheck{
			CartItems:          []types.CartItem{{ProductID: "2", TransactionType: types.Purchase, Amount: dec("8000")}},
			Products:           products,
			MarketValues:       map[string]decimal.Decimal{"2": dec("10")},
			OptOutOfNomination: true,
			AsOf:               asOf,
		})

		assert.True(t, result.IsValid)
	})

	t.Run("nominees are checked unless opted out", func(t *testing.T) {
		bad := []types.Nominee{{Name: "", Relationship: "Son", DateOfBirth: "2012-01-01", PAN: "abc", Percentage: 90}}
		check := validation.OrderCheck{
			CartItems: []types.CartItem{{ProductID: "1", TransactionType: types.Purchase, Amount: dec("5000")}},
			Products:  products,
			Nominees:  bad,
			AsOf:      asOf,
		}

		result := validation.Order(check)
		assert.False(t, result.IsValid)
		assert.True(t, containsSubstring(result.Errors, "must total exactly 100%"))
		assert.True(t, containsSubstring(result.Errors, "Nominee 1: Name is required"))
		assert.True(t, containsSubstring(result.Errors, "Nominee 1: Invalid PAN format"))
		assert.True(t, containsSubstring(result.Errors, "Guardian name is required"))

		check.OptOutOfNomination = true
		assert.True(t, validation.Order(check).IsValid)
	})

	t.Run("every error is collected", func(t *testing.T) {
		result := validation.Order(validation.OrderCheck{
			CartItems: []types.CartItem{
				{ProductID: "1", TransactionType: types.Purchase, Amount: dec("100")},
				{ProductID: "missing", TransactionType: types.Purchase, Amount: dec("100")},
			},
			Products: products,
			Nominees: []types.Nominee{adult},
			EUIN:     "X123456",
			AsOf:     asOf,
		})

		assert.False(t, result.IsValid)
		assert.Len(t, result.Errors, 3)
	})

	t.Run("valid order", func(t *testing.T) {
		result := validation.Order(validation.OrderCheck{
			CartItems: []types.CartItem{{ProductID: "2", TransactionType: types.Purchase, Amount: dec("25000")}},
			Products:  products,
			Nominees:  []types.Nominee{adult},
			EUIN:      "E123456",
			AsOf:      asOf,
		})

		assert.True(t, result.IsValid)
		assert.Empty(t, result.Errors)
	})
}
