// Package connector defines the capability set every settlement channel
// implements, along with the identifiers and error codes the channels share.
package connector

import (
	"context"
	"errors"

	"github.com/ksred/klear-mf/internal/types"
)

var (
	// ErrNoAvailableConnector is returned when neither the routing rules nor the
	// default connector yield an available channel.
	ErrNoAvailableConnector = errors.New("no available connector")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNilOrder             = errors.New("order is nil")
)

// Connector is a settlement channel. Expected business failures are reported in
// the returned response objects; the error return is reserved for programmer
// errors and lookups of unknown orders.
type Connector interface {
	// SubmitOrder re-validates the order and dispatches it to the channel.
	SubmitOrder(ctx context.Context, order *types.Order) (*types.ConnectorResponse, error)
	// ValidateOrder is the channel's authoritative check. It performs no I/O.
	ValidateOrder(order *types.Order) types.ValidationResult
	// GetStatus looks an order up by model order id or channel reference number.
	GetStatus(ctx context.Context, orderID string) (types.OrderStatus, error)
	// CancelOrder fails with Success false when the order is Executed or Settled.
	CancelOrder(ctx context.Context, orderID, reason string) (*types.CancelResponse, error)
	Type() types.ConnectorType
	IsAvailable(ctx context.Context) bool
}

// Error codes carry a channel prefix so downstream systems can tell
// validation failures (-VAL-) from transport failures (-ERR-).
const (
	ExchangeValidationFailed = "EXCH-VAL-001"
	ExchangeGatewayRejected  = "EXCH-ERR-001"
	ExchangeGatewayTimeout   = "EXCH-ERR-002"
	ExchangeBookWriteFailed  = "EXCH-ERR-003"

	RTAValidationFailed = "RTA-VAL-001"
	RTAUnavailable      = "RTA-ERR-001"
)
