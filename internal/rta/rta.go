// Package rta provides the transfer-agent settlement channel. The transfer
// agent's own processing is external; this connector keeps an in-memory book
// of what was handed over so status and cancellation follow the channel
// contract.
package rta

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/types"
)

type entry struct {
	refNo        string
	modelOrderID string
	status       types.OrderStatus
	submittedAt  time.Time
}

// Connector accepts every transaction type, including full redemptions and
// full switches.
type Connector struct {
	mu        sync.RWMutex
	byModelID map[string]*entry
	byRef     map[string]*entry
	refs      *connector.RefGenerator
	available atomic.Bool
	now       func() time.Time
}

var _ connector.Connector = (*Connector)(nil)

func NewConnector() *Connector {
	c := &Connector{
		byModelID: make(map[string]*entry),
		byRef:     make(map[string]*entry),
		refs:      connector.NewRefGenerator("RTA"),
		now:       time.Now,
	}
	c.available.Store(true)
	return c
}

// SetAvailable toggles the result of IsAvailable.
func (c *Connector) SetAvailable(available bool) {
	c.available.Store(available)
}

func (c *Connector) Type() types.ConnectorType {
	return types.ConnectorRTA
}

func (c *Connector) IsAvailable(ctx context.Context) bool {
	return ctx.Err() == nil && c.available.Load()
}

func (c *Connector) ValidateOrder(order *types.Order) types.ValidationResult {
	result := types.NewValidationResult()
	if order == nil {
		result.AddError("Order is required")
		return result
	}
	if strings.TrimSpace(order.ModelOrderID) == "" {
		result.AddError("Model order ID is required")
	}
	if len(order.CartItems) == 0 {
		result.AddError("Cart cannot be empty")
		return result
	}
	for i, item := range order.CartItems {
		if !item.TransactionType.Valid() {
			result.AddError(fmt.Sprintf("Item %d: unknown transaction type %q", i+1, item.TransactionType))
		}
	}
	return result
}

func (c *Connector) SubmitOrder(ctx context.Context, order *types.Order) (*types.ConnectorResponse, error) {
	if order == nil {
		return nil, connector.ErrNilOrder
	}
	traceID := order.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	now := c.now()
	logger := log.With().
		Str("component", "rta_connector").
		Str("model_order_id", order.ModelOrderID).
		Str("trace_id", traceID).
		Logger()

	resp := &types.ConnectorResponse{Connector: types.ConnectorRTA, SubmittedAt: now, TraceID: traceID}

	if result := c.ValidateOrder(order); !result.IsValid {
		logger.Warn().Strs("errors", result.Errors).Msg("order failed transfer agent validation")
		resp.ErrorCode = connector.RTAValidationFailed
		resp.Error = strings.Join(result.Errors, "; ")
		return resp, nil
	}
	if !c.IsAvailable(ctx) {
		resp.ErrorCode = connector.RTAUnavailable
		resp.Error = "transfer agent is unavailable"
		return resp, nil
	}

	e := &entry{refNo: c.refs.Next(), modelOrderID: order.ModelOrderID, status: types.StatusPending, submittedAt: now}
	c.mu.Lock()
	c.byModelID[e.modelOrderID] = e
	c.byRef[e.refNo] = e
	c.mu.Unlock()

	logger.Info().Str("rta_ref_no", e.refNo).Msg("order handed to transfer agent")
	resp.Success = true
	resp.RTARefNo = e.refNo
	return resp, nil
}

func (c *Connector) lookup(orderID string) (*entry, bool) {
	if e, ok := c.byModelID[orderID]; ok {
		return e, true
	}
	e, ok := c.byRef[orderID]
	return e, ok
}

func (c *Connector) GetStatus(_ context.Context, orderID string) (types.OrderStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.lookup(orderID)
	if !ok {
		return types.StatusUnknown, fmt.Errorf("rta order %s: %w", orderID, connector.ErrOrderNotFound)
	}
	return e.status, nil
}

func (c *Connector) CancelOrder(_ context.Context, orderID, reason string) (*types.CancelResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(orderID)
	if !ok {
		return nil, fmt.Errorf("rta order %s: %w", orderID, connector.ErrOrderNotFound)
	}
	if e.status.IsTerminal() {
		return &types.CancelResponse{
			OrderID: orderID,
			Status:  e.status,
			Message: fmt.Sprintf("order cannot be cancelled in %s status", e.status),
		}, nil
	}
	e.status = types.StatusCancelled
	at := c.now()
	log.Info().Str("rta_ref_no", e.refNo).Str("reason", reason).Msg("transfer agent order cancelled")
	return &types.CancelResponse{Success: true, OrderID: orderID, Status: e.status, Message: "order cancelled", CancelledAt: &at}, nil
}

// UpdateStatus records a status reported by the order workflow.
func (c *Connector) UpdateStatus(_ context.Context, orderID string, status types.OrderStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(orderID)
	if !ok {
		return fmt.Errorf("rta order %s: %w", orderID, connector.ErrOrderNotFound)
	}
	e.status = status
	return nil
}
