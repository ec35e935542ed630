package exchange

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/types"
)

// BookEntry is the exchange channel's record of one submission.
type BookEntry struct {
	gorm.Model    `json:"-"`
	OrderID       string            `gorm:"uniqueIndex" json:"order_id"`
	ExchangeRefNo string            `gorm:"uniqueIndex" json:"exchange_ref_no"`
	ModelOrderID  string            `gorm:"index" json:"model_order_id"`
	ClientID      string            `json:"client_id"`
	Status        types.OrderStatus `gorm:"type:varchar(20);index" json:"status"`
	TraceID       string            `json:"trace_id"`
	IPAddress     string            `json:"ip_address"`
	ErrorCode     string            `json:"error_code,omitempty"`
	Error         string            `json:"error,omitempty"`
	CancelReason  string            `json:"cancel_reason,omitempty"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
}

func (BookEntry) TableName() string {
	return "exchange_orders"
}

// Payload is the order as the exchange expects to receive it.
type Payload struct {
	OrderRef        string       `json:"order_ref"`
	MemberOrderID   string       `json:"member_order_id"`
	ModelOrderID    string       `json:"model_order_id"`
	ClientCode      string       `json:"client_code"`
	TransactionMode string       `json:"transaction_mode"`
	EUIN            string       `json:"euin,omitempty"`
	Legs            []PayloadLeg `json:"legs"`
	IPAddress       string       `json:"ip_address"`
	Date            string       `json:"date"` // DDMMYYYY
	Time            string       `json:"time"` // hhmmss
	TraceID         string       `json:"trace_id"`
}

type PayloadLeg struct {
	SchemeCode string           `json:"scheme_code"`
	BuySell    string           `json:"buy_sell"`
	Amount     decimal.Decimal  `json:"amount"`
	Units      *decimal.Decimal `json:"units,omitempty"`
}
