// Package exchange implements the direct-exchange settlement channel.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/types"
)

const refPrefix = "EXCH"

var supportedTypes = map[types.TransactionType]string{
	types.Purchase:   "P",
	types.Redemption: "R",
	types.Switch:     "S",
}

// Options configures a Connector. Gateway defaults to a SimulatedGateway that
// always accepts, Logger to the global zerolog logger and Now to time.Now.
type Options struct {
	SupportedSchemes []string
	Gateway          Gateway
	Logger           *zerolog.Logger
	Now              func() time.Time
}

// Connector is the exchange settlement channel. Only whitelisted schemes and
// Purchase, Redemption and Switch transactions are eligible; full liquidation
// orders are routed elsewhere.
type Connector struct {
	db      *Database
	gateway Gateway
	schemes map[string]struct{}
	refs    *connector.RefGenerator
	logger  zerolog.Logger
	now     func() time.Time
}

var _ connector.Connector = (*Connector)(nil)

func NewConnector(gormDB *gorm.DB, opts Options) *Connector {
	c := &Connector{
		db:      NewDatabase(gormDB),
		gateway: opts.Gateway,
		schemes: make(map[string]struct{}, len(opts.SupportedSchemes)),
		refs:    connector.NewRefGenerator(refPrefix),
		logger:  log.Logger,
		now:     opts.Now,
	}
	for _, s := range opts.SupportedSchemes {
		c.schemes[s] = struct{}{}
	}
	if c.gateway == nil {
		c.gateway = NewSimulatedGateway(1)
	}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Connector) Type() types.ConnectorType {
	return types.ConnectorExchange
}

func (c *Connector) IsAvailable(ctx context.Context) bool {
	return c.gateway.Ping(ctx) == nil
}

// ValidateOrder checks the order against the exchange's scheme whitelist and
// supported transaction types.
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
		if _, ok := c.schemes[item.SchemeName]; !ok {
			result.AddError(fmt.Sprintf("Item %d: scheme %q is not supported on the exchange", i+1, item.SchemeName))
		}
		if _, ok := supportedTypes[item.TransactionType]; !ok {
			result.AddError(fmt.Sprintf("Item %d: transaction type %q is not supported on the exchange", i+1, item.TransactionType))
		}
	}
	return result
}

// SubmitOrder validates, records and places the order, and writes one audit
// record for the attempt. Business and transport failures are returned as a
// response with Success false.
func (c *Connector) SubmitOrder(ctx context.Context, order *types.Order) (*types.ConnectorResponse, error) {
	if order == nil {
		return nil, connector.ErrNilOrder
	}

	traceID := order.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	now := c.now()
	logger := c.logger.With().
		Str("component", "exchange_connector").
		Str("model_order_id", order.ModelOrderID).
		Str("trace_id", traceID).
		Logger()

	if result := c.ValidateOrder(order); !result.IsValid {
		logger.Warn().Strs("errors", result.Errors).Msg("order failed exchange validation")
		c.audit(auditValidationFailed, order, "", "", traceID, now)
		return c.failure(traceID, now, connector.ExchangeValidationFailed, strings.Join(result.Errors, "; ")), nil
	}

	orderID := uuid.NewString()
	refNo := c.refs.Next()
	payload := c.buildPayload(order, orderID, refNo, traceID, now)

	entry := &BookEntry{
		OrderID:       orderID,
		ExchangeRefNo: refNo,
		ModelOrderID:  order.ModelOrderID,
		ClientID:      order.ClientID,
		Status:        types.StatusPending,
		TraceID:       traceID,
		IPAddress:     order.IPAddress,
		SubmittedAt:   now,
	}
	if err := c.db.CreateEntry(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("failed to record exchange order")
		c.audit(auditFailed, order, orderID, refNo, traceID, now)
		return c.failure(traceID, now, connector.ExchangeBookWriteFailed, "failed to record order: "+err.Error()), nil
	}

	if err := c.gateway.Place(ctx, payload); err != nil {
		code := connector.ExchangeGatewayRejected
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			code = connector.ExchangeGatewayTimeout
		}
		logger.Error().Err(err).Str("error_code", code).Str("exchange_ref_no", refNo).Msg("exchange placement failed")

		// The caller's context may already be done; the rejection still has to land.
		if dbErr := c.db.MarkRejected(context.WithoutCancel(ctx), orderID, code, err.Error()); dbErr != nil {
			logger.Error().Err(dbErr).Msg("failed to mark exchange order rejected")
		}
		c.audit(auditFailed, order, orderID, refNo, traceID, now)
		return c.failure(traceID, now, code, err.Error()), nil
	}

	c.audit(auditSubmitted, order, orderID, refNo, traceID, now)
	logger.Info().Str("exchange_ref_no", refNo).Msg("order submitted to exchange")

	return &types.ConnectorResponse{
		Success:       true,
		Connector:     types.ConnectorExchange,
		ExchangeRefNo: refNo,
		SubmittedAt:   now,
		TraceID:       traceID,
	}, nil
}

func (c *Connector) GetStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	entry, err := c.db.FindEntry(ctx, orderID)
	if err != nil {
		return types.StatusUnknown, err
	}
	return entry.Status, nil
}

// CancelOrder cancels any order that has not reached Executed or Settled.
func (c *Connector) CancelOrder(ctx context.Context, orderID, reason string) (*types.CancelResponse, error) {
	entry, err := c.db.FindEntry(ctx, orderID)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With().
		Str("component", "exchange_connector").
		Str("order_id", entry.OrderID).
		Str("exchange_ref_no", entry.ExchangeRefNo).
		Str("trace_id", entry.TraceID).
		Logger()

	if entry.Status.IsTerminal() {
		logger.Warn().Stringer("status", entry.Status).Msg("cancel rejected for terminal order")
		return cancelRejected(orderID, entry.Status), nil
	}

	at := c.now()
	cancelled, err := c.db.MarkCancelled(ctx, entry.OrderID, reason, at)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel exchange order %s: %w", orderID, err)
	}
	if !cancelled {
		// The workflow moved the order on after it was read.
		current, err := c.db.FindEntry(ctx, entry.ExchangeRefNo)
		if err != nil {
			return nil, err
		}
		logger.Warn().Stringer("status", current.Status).Msg("cancel lost to a status update")
		return cancelRejected(orderID, current.Status), nil
	}

	logger.Info().Str("reason", reason).Msg("exchange order cancelled")
	return &types.CancelResponse{
		Success:     true,
		OrderID:     orderID,
		Status:      types.StatusCancelled,
		Message:     "order cancelled",
		CancelledAt: &at,
	}, nil
}

func cancelRejected(orderID string, status types.OrderStatus) *types.CancelResponse {
	return &types.CancelResponse{
		Success: false,
		OrderID: orderID,
		Status:  status,
		Message: fmt.Sprintf("order cannot be cancelled in %s status", status),
	}
}

// UpdateStatus records a status reported by the order workflow.
func (c *Connector) UpdateStatus(ctx context.Context, orderID string, status types.OrderStatus) error {
	entry, err := c.db.FindEntry(ctx, orderID)
	if err != nil {
		return err
	}
	return c.db.UpdateStatus(ctx, entry.OrderID, status)
}

func (c *Connector) buildPayload(order *types.Order, orderID, refNo, traceID string, at time.Time) Payload {
	date, clock := connector.Stamps(at)
	legs := make([]PayloadLeg, 0, len(order.CartItems))
	for _, item := range order.CartItems {
		legs = append(legs, PayloadLeg{
			SchemeCode: item.SchemeName,
			BuySell:    supportedTypes[item.TransactionType],
			Amount:     item.Amount,
			Units:      item.Units,
		})
	}
	return Payload{
		OrderRef:        refNo,
		MemberOrderID:   orderID,
		ModelOrderID:    order.ModelOrderID,
		ClientCode:      order.ClientID,
		TransactionMode: string(order.TransactionMode),
		EUIN:            order.EUIN,
		Legs:            legs,
		IPAddress:       order.IPAddress,
		Date:            date,
		Time:            clock,
		TraceID:         traceID,
	}
}

func (c *Connector) failure(traceID string, at time.Time, code, message string) *types.ConnectorResponse {
	return &types.ConnectorResponse{
		Success:     false,
		Connector:   types.ConnectorExchange,
		SubmittedAt: at,
		TraceID:     traceID,
		Error:       message,
		ErrorCode:   code,
	}
}
