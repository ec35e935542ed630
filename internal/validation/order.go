package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/klear-mf/internal/types"
)

// OrderCheck is the input to Order. Products and MarketValues are keyed by
// product id; MarketValues and EUIN are optional.
type OrderCheck struct {
	CartItems          []types.CartItem
	Products           map[string]*types.Product
	Nominees           []types.Nominee
	OptOutOfNomination bool
	EUIN               string
	MarketValues       map[string]decimal.Decimal
	// AsOf is the evaluation date for nominee ages. Zero means now.
	AsOf time.Time
}

// CartItem checks one item against its product. Full redemptions and switches
// skip the limit checks and only warn when the account is not being closed,
// though a negative amount is still rejected. A nil product fails immediately.
func CartItem(item types.CartItem, product *types.Product, index int) types.ValidationResult {
	result := types.NewValidationResult()
	label := itemLabel(item, index)

	if product == nil {
		result.AddError(label + "Product information not available")
		return result
	}

	if IsFullRedemptionOrSwitch(item.TransactionType) {
		if item.Amount.IsNegative() {
			result.AddError(label + "Amount cannot be negative")
		}
		if !item.CloseAc {
			result.AddWarning(label + fmt.Sprintf("%s without account closure (closeAc not set)", item.TransactionType))
		}
		return result
	}

	if !item.Amount.IsPositive() {
		result.AddError(label + "Amount must be greater than 0")
		return result
	}

	result.Merge(MinInvestment(product, item.Amount), label)
	result.Merge(MaxInvestment(product, item.Amount), label)
	return result
}

// Order is the aggregate pre-flight check. It returns every error and warning
// found; IsValid is true only when no errors were found.
func Order(check OrderCheck) types.ValidationResult {
	result := types.NewValidationResult()

	if len(check.CartItems) == 0 {
		result.AddError("Cart cannot be empty")
		return result
	}

	asOf := check.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	for i, item := range check.CartItems {
		result.Merge(CartItem(item, check.Products[item.ProductID], i), "")

		if item.TransactionType != types.Redemption && item.TransactionType != types.Switch {
			continue
		}
		if marketValue, ok := check.MarketValues[item.ProductID]; ok {
			result.Merge(AmountBasedEntry(item.Amount, marketValue), itemLabel(item, i))
		}
	}

	if !check.OptOutOfNomination {
		result.Merge(nominees(check.Nominees, asOf), "")
	}

	if check.EUIN != "" {
		result.Merge(EUIN(check.EUIN), "")
	}

	return result
}

func nominees(list []types.Nominee, asOf time.Time) types.ValidationResult {
	result := NomineePercentages(list)

	for i, n := range list {
		label := fmt.Sprintf("Nominee %d: ", i+1)
		if strings.TrimSpace(n.Name) == "" {
			result.AddError(label + "Name is required")
		}
		if strings.TrimSpace(n.Relationship) == "" {
			result.AddError(label + "Relationship is required")
		}
		if n.DateOfBirth == "" {
			result.AddError(label + "Date of birth is required")
		} else if _, err := time.Parse(dateOfBirthLayout, n.DateOfBirth); err != nil {
			result.AddError(label + "Date of birth must be in YYYY-MM-DD format")
		}
		result.Merge(PAN(n.PAN), label)
		result.Merge(GuardianInfo(n, asOf), label)
	}
	return result
}

func itemLabel(item types.CartItem, index int) string {
	if item.SchemeName == "" {
		return fmt.Sprintf("Item %d: ", index+1)
	}
	return fmt.Sprintf("Item %d (%s): ", index+1, item.SchemeName)
}
