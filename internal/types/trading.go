package types

import (
	"github.com/shopspring/decimal"
)

// TransactionType is the kind of mutual fund transaction carried by a cart item.
type TransactionType string

const (
	Purchase       TransactionType = "Purchase"
	Redemption     TransactionType = "Redemption"
	Switch         TransactionType = "Switch"
	FullRedemption TransactionType = "Full Redemption"
	FullSwitch     TransactionType = "Full Switch"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case Purchase, Redemption, Switch, FullRedemption, FullSwitch:
		return true
	}
	return false
}

// IsFullLiquidation reports whether t liquidates or transfers a whole holding.
func (t TransactionType) IsFullLiquidation() bool {
	return t == FullRedemption || t == FullSwitch
}

// TransactionMode describes how units are held for the order.
type TransactionMode string

const (
	ModeDemat    TransactionMode = "DEMAT"
	ModePhysical TransactionMode = "PHYSICAL"
)

// Order is a submitted investment instruction. It is transient: it is validated,
// routed and handed to a connector, never persisted by the routing core itself.
type Order struct {
	ModelOrderID       string          `json:"model_order_id"`
	ClientID           string          `json:"client_id"`
	CartItems          []CartItem      `json:"cart_items"`
	TransactionMode    TransactionMode `json:"transaction_mode"`
	Nominees           []Nominee       `json:"nominees"`
	OptOutOfNomination bool            `json:"opt_out_of_nomination"`
	EUIN               string          `json:"euin,omitempty"`
	IPAddress          string          `json:"ip_address,omitempty"`
	TraceID            string          `json:"trace_id,omitempty"`
}

// HasScheme reports whether any cart item is for the named scheme.
func (o *Order) HasScheme(scheme string) bool {
	for _, item := range o.CartItems {
		if item.SchemeName == scheme {
			return true
		}
	}
	return false
}

// HasTransactionType reports whether any cart item carries the transaction type.
func (o *Order) HasTransactionType(t TransactionType) bool {
	for _, item := range o.CartItems {
		if item.TransactionType == t {
			return true
		}
	}
	return false
}

type CartItem struct {
	ProductID       string           `json:"product_id"`
	SchemeName      string           `json:"scheme_name"`
	TransactionType TransactionType  `json:"transaction_type"`
	Amount          decimal.Decimal  `json:"amount"`
	Units           *decimal.Decimal `json:"units,omitempty"`
	NAV             *decimal.Decimal `json:"nav,omitempty"`
	CloseAc         bool             `json:"close_ac"`
}

type Nominee struct {
	Name                 string  `json:"name"`
	Relationship         string  `json:"relationship"`
	DateOfBirth          string  `json:"date_of_birth"` // YYYY-MM-DD
	PAN                  string  `json:"pan"`
	Percentage           float64 `json:"percentage"`
	GuardianName         string  `json:"guardian_name,omitempty"`
	GuardianPAN          string  `json:"guardian_pan,omitempty"`
	GuardianRelationship string  `json:"guardian_relationship,omitempty"`
}

// Product is scheme reference data. Limits are read-only for the routing core.
type Product struct {
	ProductID     string           `json:"product_id"`
	SchemeName    string           `json:"scheme_name"`
	MinInvestment decimal.Decimal  `json:"min_investment"`
	MaxInvestment *decimal.Decimal `json:"max_investment,omitempty"`
	MinRedemption *decimal.Decimal `json:"min_redemption,omitempty"`
	MaxRedemption *decimal.Decimal `json:"max_redemption,omitempty"`
}
