package trading

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/types"
)

// OrderRequest is the body accepted by the order endpoints. MarketValues
// holds the current value of the client's holding per product id and is only
// consulted for partial redemptions and switches.
type OrderRequest struct {
	types.Order
	MarketValues map[string]decimal.Decimal `json:"market_values,omitempty"`
}

// Submission is one order accepted by this service and the channel result.
type Submission struct {
	ID            uint                `gorm:"primaryKey" json:"-"`
	OrderID       string              `gorm:"uniqueIndex" json:"order_id"`
	ModelOrderID  string              `gorm:"index" json:"model_order_id"`
	ClientID      string              `json:"client_id"`
	DistributorID string              `gorm:"index" json:"distributor_id"`
	TraceID       string              `gorm:"index" json:"trace_id"`
	Connector     types.ConnectorType `json:"connector"`
	RefNo         string              `json:"ref_no,omitempty"`
	Success       bool                `json:"success"`
	Status        types.OrderStatus   `gorm:"type:varchar(20)" json:"status"`
	ErrorCode     string              `json:"error_code,omitempty"`
	Error         string              `json:"error,omitempty"`
	Warnings      []string            `gorm:"serializer:json" json:"warnings,omitempty"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (Submission) TableName() string {
	return "order_submissions"
}

// Response rebuilds the connector response stored with the submission.
func (s *Submission) Response() *types.ConnectorResponse {
	resp := &types.ConnectorResponse{
		Success:     s.Success,
		Connector:   s.Connector,
		SubmittedAt: s.SubmittedAt,
		TraceID:     s.TraceID,
		Error:       s.Error,
		ErrorCode:   s.ErrorCode,
	}
	switch s.Connector {
	case types.ConnectorExchange:
		resp.ExchangeRefNo = s.RefNo
	case types.ConnectorRTA:
		resp.RTARefNo = s.RefNo
	}
	return resp
}

type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	DistributorID  string    `json:"distributor_id"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
