package exchange

import (
	"time"

	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/types"
)

const (
	auditSubmitted        = "EXCHANGE_ORDER_SUBMITTED"
	auditFailed           = "EXCHANGE_ORDER_FAILED"
	auditValidationFailed = "EXCHANGE_ORDER_VALIDATION_FAILED"
)

// audit writes the per-attempt audit record. Field names are part of the
// record's contract with downstream log consumers.
func (c *Connector) audit(event string, order *types.Order, orderID, refNo, traceID string, at time.Time) {
	date, clock := connector.Stamps(at)
	c.logger.Info().
		Str("event", event).
		Str("orderId", orderID).
		Str("modelOrderId", order.ModelOrderID).
		Str("exchangeRefNo", refNo).
		Str("ipAddress", order.IPAddress).
		Str("date", date).
		Str("time", clock).
		Str("traceId", traceID).
		Str("timestamp", at.UTC().Format(time.RFC3339Nano)).
		Msg("exchange audit")
}
