package routing

import (
	"time"

	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/types"
)

// Outcome is how a connector was chosen.
type Outcome string

const (
	OutcomeSelected         Outcome = "selected"
	OutcomeFallbackSelected Outcome = "fallback_selected"
	OutcomeDefaultSelected  Outcome = "default_selected"
	OutcomeNoConnector      Outcome = "no_connector"
)

// Decision is the result of connector selection for one order.
type Decision struct {
	Connector     types.ConnectorType `json:"connector"`
	Outcome       Outcome             `json:"outcome"`
	Reason        string              `json:"reason"`
	Rule          *Rule               `json:"rule,omitempty"`
	TraceID       string              `json:"trace_id"`
	ConfigVersion int64               `json:"config_version"`
}

// DecisionRecord is the persisted form of a Decision together with the
// dispatch result.
type DecisionRecord struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	TraceID       string              `gorm:"index" json:"trace_id"`
	ModelOrderID  string              `gorm:"index" json:"model_order_id"`
	ClientID      string              `json:"client_id"`
	Connector     types.ConnectorType `json:"connector"`
	Outcome       Outcome             `json:"outcome"`
	Reason        string              `json:"reason"`
	ConfigVersion int64               `json:"config_version"`
	Success       bool                `json:"success"`
	RefNo         string              `json:"ref_no,omitempty"`
	ErrorCode     string              `json:"error_code,omitempty"`
	Error         string              `json:"error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func (DecisionRecord) TableName() string {
	return "routing_decisions"
}

// RuleRecord stores one routing rule. Position keeps registration order so
// equal priorities resolve the same way after a reload.
type RuleRecord struct {
	gorm.Model
	Position           int
	Priority           int
	Scheme             string
	TransactionType    types.TransactionType
	PreferredConnector types.ConnectorType
	FallbackConnector  types.ConnectorType
}

func (RuleRecord) TableName() string {
	return "routing_rules"
}

// SettingRecord is a name/value row for config-wide settings.
type SettingRecord struct {
	Name      string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (SettingRecord) TableName() string {
	return "routing_settings"
}
