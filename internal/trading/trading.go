// Package trading is the submitting side of the routing core: it runs
// pre-flight validation against catalog data, submits through the routing hub
// and keeps an idempotent record of every accepted order.
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/catalog"
	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/metrics"
	"github.com/ksred/klear-mf/internal/routing"
	"github.com/ksred/klear-mf/internal/types"
	"github.com/ksred/klear-mf/internal/validation"
)

var (
	ErrIdempotencyConflict   = errors.New("idempotency key belongs to another distributor")
	ErrIdempotencyInProgress = errors.New("an order with this idempotency key is still being submitted")
	ErrSubmissionNotFound    = errors.New("order not found")
)

// ValidationError carries the full pre-flight result of a blocked order.
type ValidationError struct {
	Result types.ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order failed validation with %d error(s)", len(e.Result.Errors))
}

// statusUpdater is implemented by connectors that accept workflow status
// updates.
type statusUpdater interface {
	UpdateStatus(ctx context.Context, orderID string, status types.OrderStatus) error
}

// Service handles order validation, submission and follow-up operations
type Service struct {
	db      *Database
	catalog *catalog.Catalog
	hub     *routing.Hub
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a new trading service. m may be nil.
func NewService(gormDB *gorm.DB, cat *catalog.Catalog, hub *routing.Hub, m *metrics.Metrics) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		catalog: cat,
		hub:     hub,
		metrics: m,
		now:     time.Now,
	}
}

// Validate runs every pre-flight rule for the order. The returned error is
// only set when reference data could not be loaded.
func (s *Service) Validate(ctx context.Context, req *OrderRequest) (types.ValidationResult, error) {
	ids := make([]string, 0, len(req.CartItems))
	for _, item := range req.CartItems {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.GetMany(ctx, ids)
	if err != nil {
		return types.ValidationResult{}, fmt.Errorf("load products: %w", err)
	}

	return validation.Order(validation.OrderCheck{
		CartItems:          req.CartItems,
		Products:           products,
		Nominees:           req.Nominees,
		OptOutOfNomination: req.OptOutOfNomination,
		EUIN:               req.EUIN,
		MarketValues:       req.MarketValues,
		AsOf:               s.now(),
	}), nil
}

// Submit validates the order and dispatches it through the routing hub. A
// live idempotency key returns the stored submission without resubmitting;
// the key is reserved before dispatch so a concurrent retry gets
// ErrIdempotencyInProgress instead of a second order.
// Channel rejections are stored and returned as a submission with Success
// false; a blocked order returns *ValidationError and no connector being
// available returns the hub's *routing.NoConnectorError.
func (s *Service) Submit(ctx context.Context, req *OrderRequest, distributorID, idempotencyKey string) (*Submission, error) {
	record, err := s.db.GetIdempotencyRecord(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if record != nil && record.ExpiresAt.After(s.now()) {
		return s.replay(ctx, record, distributorID)
	}

	logger := log.With().
		Str("component", "trading").
		Str("model_order_id", req.ModelOrderID).
		Str("distributor_id", distributorID).
		Logger()

	result, err := s.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		s.metrics.ObserveValidationBlocked()
		logger.Info().Strs("errors", result.Errors).Msg("order blocked by pre-flight validation")
		return nil, &ValidationError{Result: result}
	}

	// Concurrent retries race here; only the reservation holder dispatches.
	held, reserved, err := s.db.ReserveIdempotencyKey(ctx, idempotencyKey, distributorID, s.now())
	if err != nil {
		return nil, err
	}
	if !reserved {
		return s.replay(ctx, held, distributorID)
	}

	order := req.Order
	if order.TraceID == "" {
		order.TraceID = uuid.NewString()
	}

	resp, err := s.hub.Submit(ctx, &order)
	if err != nil {
		if relErr := s.db.ReleaseIdempotencyKey(context.WithoutCancel(ctx), idempotencyKey); relErr != nil {
			logger.Error().Err(relErr).Msg("failed to release idempotency key")
		}
		return nil, err
	}

	submission := &Submission{
		OrderID:       uuid.NewString(),
		ModelOrderID:  order.ModelOrderID,
		ClientID:      order.ClientID,
		DistributorID: distributorID,
		TraceID:       resp.TraceID,
		Connector:     resp.Connector,
		RefNo:         resp.RefNo(),
		Success:       resp.Success,
		Status:        types.StatusPending,
		ErrorCode:     resp.ErrorCode,
		Error:         resp.Error,
		Warnings:      result.Warnings,
		SubmittedAt:   resp.SubmittedAt,
	}
	if !resp.Success {
		submission.Status = types.StatusRejected
	}

	if err := s.db.CreateSubmissionWithIdempotency(context.WithoutCancel(ctx), submission, idempotencyKey); err != nil {
		// The channel already holds the order; the ref lets operations reconcile.
		logger.Error().Err(err).
			Str("trace_id", submission.TraceID).
			Str("ref_no", submission.RefNo).
			Msg("failed to store submission")
		return nil, err
	}

	logger.Info().
		Str("order_id", submission.OrderID).
		Str("trace_id", submission.TraceID).
		Str("connector", string(submission.Connector)).
		Bool("success", submission.Success).
		Msg("order submitted")
	return submission, nil
}

// replay answers a request whose idempotency key is already held.
func (s *Service) replay(ctx context.Context, record *IdempotencyRecord, distributorID string) (*Submission, error) {
	if record.DistributorID != distributorID {
		return nil, ErrIdempotencyConflict
	}
	if record.ResourceID == "" {
		return nil, ErrIdempotencyInProgress
	}
	existing, err := s.db.GetSubmission(ctx, record.ResourceID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrSubmissionNotFound
	}
	return existing, nil
}

// Status refreshes the stored status from the channel that holds the order.
func (s *Service) Status(ctx context.Context, orderID, distributorID string) (*Submission, error) {
	submission, err := s.lookup(ctx, orderID, distributorID)
	if err != nil {
		return nil, err
	}
	if !submission.Success {
		return submission, nil
	}

	conn, ok := s.hub.Connector(submission.Connector)
	if !ok {
		return submission, nil
	}
	status, err := conn.GetStatus(ctx, submission.RefNo)
	if err != nil {
		return nil, fmt.Errorf("get status from %s: %w", submission.Connector, err)
	}
	if status != submission.Status {
		if err := s.db.UpdateStatus(ctx, submission.OrderID, status); err != nil {
			return nil, err
		}
		submission.Status = status
	}
	return submission, nil
}

// Cancel asks the holding channel to cancel the order. Terminal orders and
// orders no channel accepted come back with Success false.
func (s *Service) Cancel(ctx context.Context, orderID, distributorID, reason string) (*types.CancelResponse, error) {
	submission, err := s.lookup(ctx, orderID, distributorID)
	if err != nil {
		return nil, err
	}
	if !submission.Success {
		return &types.CancelResponse{
			OrderID: orderID,
			Status:  submission.Status,
			Message: "order was not accepted by a channel",
		}, nil
	}

	conn, ok := s.hub.Connector(submission.Connector)
	if !ok {
		return nil, fmt.Errorf("%w: %s", connector.ErrNoAvailableConnector, submission.Connector)
	}
	resp, err := conn.CancelOrder(ctx, submission.RefNo, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel on %s: %w", submission.Connector, err)
	}
	if resp.Success {
		if err := s.db.UpdateStatus(ctx, submission.OrderID, resp.Status); err != nil {
			return nil, err
		}
	}
	resp.OrderID = orderID
	return resp, nil
}

// UpdateStatus applies a status reported by the external order workflow to
// the channel book and the stored submission.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status types.OrderStatus) (*Submission, error) {
	submission, err := s.db.GetSubmission(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}

	if conn, ok := s.hub.Connector(submission.Connector); ok && submission.Success {
		if updater, ok := conn.(statusUpdater); ok {
			if err := updater.UpdateStatus(ctx, submission.RefNo, status); err != nil {
				return nil, err
			}
		}
	}
	if err := s.db.UpdateStatus(ctx, orderID, status); err != nil {
		return nil, err
	}
	submission.Status = status
	return submission, nil
}

func (s *Service) lookup(ctx context.Context, orderID, distributorID string) (*Submission, error) {
	submission, err := s.db.GetSubmissionForDistributor(ctx, orderID, distributorID)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}
	return submission, nil
}
