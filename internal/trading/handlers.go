package trading

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-mf/internal/auth"
	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/types"
	"github.com/ksred/klear-mf/pkg/middleware"
	"github.com/ksred/klear-mf/pkg/response"
)

// SubmissionView is the API shape of a stored submission.
type SubmissionView struct {
	*Submission
	ConnectorResponse *types.ConnectorResponse `json:"connector_response"`
}

func view(s *Submission) SubmissionView {
	return SubmissionView{Submission: s, ConnectorResponse: s.Response()}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type statusRequest struct {
	Status types.OrderStatus `json:"status" binding:"required"`
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ValidateOrderHandler runs pre-flight validation without submitting
func (h *GinHandlers) ValidateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.Validate(c.Request.Context(), &req)
		if err != nil {
			response.InternalError(c, "Failed to load product data")
			return
		}
		response.OK(c, result)
	}
}

// SubmitOrderHandler validates and routes a new order.
// Requires an Idempotency-Key header.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.TraceID == "" {
			req.TraceID = c.GetString(middleware.ContextTraceID)
		}
		if req.IPAddress == "" {
			req.IPAddress = c.ClientIP()
		}

		submission, err := h.service.Submit(c.Request.Context(), &req, auth.DistributorID(c), idempotencyKey)
		var validationErr *ValidationError
		switch {
		case err == nil:
			response.Success(c, view(submission))
		case errors.As(err, &validationErr):
			response.ValidationFailed(c, err.Error(), validationErr.Result)
		case errors.Is(err, ErrIdempotencyConflict), errors.Is(err, ErrIdempotencyInProgress):
			response.Conflict(c, err.Error())
		case errors.Is(err, connector.ErrNoAvailableConnector):
			response.ServiceUnavailable(c, "No settlement channel is available for this order")
		default:
			response.InternalError(c, "Failed to submit order")
		}
	}
}

// GetOrderStatusHandler returns the submission with a refreshed channel status
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		submission, err := h.service.Status(c.Request.Context(), c.Param("order_id"), auth.DistributorID(c))
		if errors.Is(err, ErrSubmissionNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, view(submission))
	}
}

// CancelOrderHandler asks the holding channel to cancel the order
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}

		resp, err := h.service.Cancel(c.Request.Context(), c.Param("order_id"), auth.DistributorID(c), req.Reason)
		if errors.Is(err, ErrSubmissionNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, resp)
	}
}

// UpdateStatusHandler applies a status reported by the order workflow.
// Internal only.
func (h *GinHandlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		submission, err := h.service.UpdateStatus(c.Request.Context(), c.Param("order_id"), req.Status)
		if errors.Is(err, ErrSubmissionNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, view(submission))
	}
}
