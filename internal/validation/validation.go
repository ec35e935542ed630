// Package validation holds the business and regulatory rules applied to an
// order before it is submitted. Every rule is a pure function returning a
// types.ValidationResult; rules never stop at the first problem.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/klear-mf/internal/types"
)

const (
	percentageTolerance = 0.01
	majorityAge         = 18
	dateOfBirthLayout   = "2006-01-02"
)

var (
	euinPattern = regexp.MustCompile(`^E[A-Z0-9]{6}$`)
	panPattern  = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
)

// MinInvestment fails when amount is below the product's minimum investment.
func MinInvestment(product *types.Product, amount decimal.Decimal) types.ValidationResult {
	result := types.NewValidationResult()
	if amount.LessThan(product.MinInvestment) {
		result.AddError(fmt.Sprintf("Amount %s is below minimum investment of %s",
			amount.StringFixed(2), product.MinInvestment.StringFixed(2)))
	}
	return result
}

// MaxInvestment fails when the product has a maximum and amount exceeds it.
func MaxInvestment(product *types.Product, amount decimal.Decimal) types.ValidationResult {
	result := types.NewValidationResult()
	if product.MaxInvestment != nil && amount.GreaterThan(*product.MaxInvestment) {
		result.AddError(fmt.Sprintf("Amount %s exceeds maximum investment of %s",
			amount.StringFixed(2), product.MaxInvestment.StringFixed(2)))
	}
	return result
}

// AmountBasedEntry fails when a redemption or switch amount exceeds the
// current market value of the holding.
func AmountBasedEntry(amount, marketValue decimal.Decimal) types.ValidationResult {
	result := types.NewValidationResult()
	if amount.GreaterThan(marketValue) {
		result.AddError(fmt.Sprintf("Amount %s exceeds current market value of %s",
			amount.StringFixed(2), marketValue.StringFixed(2)))
	}
	return result
}

// EUIN accepts an empty code; otherwise it requires E followed by six
// uppercase alphanumeric characters.
func EUIN(code string) types.ValidationResult {
	result := types.NewValidationResult()
	if code == "" {
		return result
	}
	if !euinPattern.MatchString(code) {
		result.AddError("Invalid EUIN format. Expected E followed by 6 alphanumeric characters")
	}
	return result
}

// PAN requires five uppercase letters, four digits and one uppercase letter.
func PAN(code string) types.ValidationResult {
	result := types.NewValidationResult()
	if code == "" {
		result.AddError("PAN is required")
		return result
	}
	if !panPattern.MatchString(code) {
		result.AddError("Invalid PAN format. Expected 5 uppercase letters, 4 digits and 1 uppercase letter (e.g. ABCDE1234F)")
	}
	return result
}

// NomineePercentages requires allocations to total 100 within a tolerance of
// 0.01. An empty list is valid: it is the opt-out case.
func NomineePercentages(nominees []types.Nominee) types.ValidationResult {
	result := types.NewValidationResult()
	if len(nominees) == 0 {
		return result
	}

	total := 0.0
	for i, n := range nominees {
		total += n.Percentage
		if n.Percentage < 0 {
			result.AddError(fmt.Sprintf("Nominee %d percentage cannot be negative", i+1))
		}
		if n.Percentage > 100 {
			result.AddError(fmt.Sprintf("Nominee %d percentage cannot exceed 100%%", i+1))
		}
	}

	if math.Abs(total-100) > percentageTolerance {
		result.AddError(fmt.Sprintf("Nominee percentages must total exactly 100%% (current total: %.2f%%)", total))
	}
	return result
}

// GuardianInfo applies only to nominees younger than 18 on asOf. Minors need a
// guardian name, a valid guardian PAN and the guardian's relationship.
func GuardianInfo(nominee types.Nominee, asOf time.Time) types.ValidationResult {
	result := types.NewValidationResult()

	dob, err := time.Parse(dateOfBirthLayout, nominee.DateOfBirth)
	if err != nil || AgeOn(dob, asOf) >= majorityAge {
		return result
	}

	if strings.TrimSpace(nominee.GuardianName) == "" {
		result.AddError("Guardian name is required for minor nominee")
	}
	if nominee.GuardianPAN == "" {
		result.AddError("Guardian PAN is required for minor nominee")
	} else {
		result.Merge(PAN(nominee.GuardianPAN), "Guardian PAN: ")
	}
	if strings.TrimSpace(nominee.GuardianRelationship) == "" {
		result.AddError("Guardian relationship is required for minor nominee")
	}
	return result
}

// AgeOn returns the age in completed years on the given date.
func AgeOn(dob, asOf time.Time) int {
	age := asOf.Year() - dob.Year()
	if asOf.Month() < dob.Month() || (asOf.Month() == dob.Month() && asOf.Day() < dob.Day()) {
		age--
	}
	return age
}

// IsFullRedemptionOrSwitch is the bypass predicate for amount checks.
func IsFullRedemptionOrSwitch(t types.TransactionType) bool {
	return t.IsFullLiquidation()
}
