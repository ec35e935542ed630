// Package routing selects the settlement channel for each order and
// dispatches it there.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/metrics"
	"github.com/ksred/klear-mf/internal/types"
)

const (
	defaultProbeTimeout  = 2 * time.Second
	defaultSubmitTimeout = 10 * time.Second
)

// NoConnectorError is returned when neither a rule nor the default connector
// yields an available channel. It unwraps to connector.ErrNoAvailableConnector.
type NoConnectorError struct {
	TraceID       string
	ConfigVersion int64
}

func (e *NoConnectorError) Error() string {
	return fmt.Sprintf("no available connector for trace %s (config version %d)", e.TraceID, e.ConfigVersion)
}

func (e *NoConnectorError) Unwrap() error {
	return connector.ErrNoAvailableConnector
}

// Options configures a Hub. DB enables decision recording; Metrics and Logger
// are optional.
type Options struct {
	ProbeTimeout  time.Duration
	SubmitTimeout time.Duration
	DB            *gorm.DB
	Metrics       *metrics.Metrics
	Logger        *zerolog.Logger
}

// Hub routes orders to connectors. The routing config is held behind a single
// atomic pointer: UpdateConfig swaps the whole snapshot and every selection
// reads exactly one snapshot. Writers are serialized by mu so the active
// version only moves forward.
type Hub struct {
	connectors    map[types.ConnectorType]connector.Connector
	config        atomic.Pointer[Config]
	mu            sync.Mutex
	version       int64
	db            *Database
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	probeTimeout  time.Duration
	submitTimeout time.Duration
}

func NewHub(cfg *Config, connectors []connector.Connector, opts Options) (*Hub, error) {
	h := &Hub{
		connectors:    make(map[types.ConnectorType]connector.Connector, len(connectors)),
		metrics:       opts.Metrics,
		logger:        log.Logger,
		probeTimeout:  opts.ProbeTimeout,
		submitTimeout: opts.SubmitTimeout,
	}
	for _, c := range connectors {
		h.connectors[c.Type()] = c
	}
	if opts.DB != nil {
		h.db = NewDatabase(opts.DB)
	}
	if opts.Logger != nil {
		h.logger = *opts.Logger
	}
	if h.probeTimeout <= 0 {
		h.probeTimeout = defaultProbeTimeout
	}
	if h.submitTimeout <= 0 {
		h.submitTimeout = defaultSubmitTimeout
	}
	if _, err := h.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return h, nil
}

// UpdateConfig validates cfg and atomically replaces the active snapshot.
// cfg itself is not retained. It returns the new version.
func (h *Hub) UpdateConfig(cfg *Config) (int64, error) {
	if cfg == nil {
		return 0, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	snapshot, err := NewConfig(cfg.Rules, cfg.DefaultConnector)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.version++
	snapshot.Version = h.version
	h.config.Store(snapshot)
	h.metrics.SetConfigVersion(snapshot.Version)
	h.mu.Unlock()

	h.logger.Info().
		Int64("config_version", snapshot.Version).
		Int("rules", len(snapshot.Rules)).
		Str("default_connector", string(snapshot.DefaultConnector)).
		Msg("routing config updated")
	return snapshot.Version, nil
}

// Config returns the active snapshot. Callers must treat it as read-only.
func (h *Hub) Config() *Config {
	return h.config.Load()
}

// Connector returns the registered connector of the given type.
func (h *Hub) Connector(t types.ConnectorType) (connector.Connector, bool) {
	c, ok := h.connectors[t]
	return c, ok
}

// Select evaluates the rules against the order and returns the chosen
// connector. A matched rule gets one availability probe of its preferred
// connector and, if that is unavailable, one of its fallback; when neither is
// available evaluation continues with the next rule. The default connector is
// tried last. Each connector is probed at most once per selection. A done
// ctx returns ctx.Err() rather than a routing failure.
func (h *Hub) Select(ctx context.Context, order *types.Order) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	cfg := h.config.Load()
	probed := make(map[types.ConnectorType]bool, len(h.connectors))

	available := func(t types.ConnectorType) bool {
		if up, ok := probed[t]; ok {
			return up
		}
		up := h.probe(ctx, t)
		probed[t] = up
		return up
	}

	decide := func(t types.ConnectorType, outcome Outcome, rule *Rule, reason string) Decision {
		return Decision{
			Connector:     t,
			Outcome:       outcome,
			Reason:        reason,
			Rule:          rule,
			TraceID:       order.TraceID,
			ConfigVersion: cfg.Version,
		}
	}

	for i := range cfg.Rules {
		rule := cfg.Rules[i]
		if !rule.Matches(order) {
			continue
		}
		if available(rule.PreferredConnector) {
			return decide(rule.PreferredConnector, OutcomeSelected, &rule,
				fmt.Sprintf("rule %s matched; preferred connector %s available", rule.describe(), rule.PreferredConnector)), nil
		}
		if rule.FallbackConnector != "" && available(rule.FallbackConnector) {
			return decide(rule.FallbackConnector, OutcomeFallbackSelected, &rule,
				fmt.Sprintf("rule %s matched; preferred connector %s unavailable, fallback %s available",
					rule.describe(), rule.PreferredConnector, rule.FallbackConnector)), nil
		}
		h.logger.Debug().
			Str("trace_id", order.TraceID).
			Str("rule", rule.describe()).
			Msg("matched rule has no available connector, continuing")
	}

	if cfg.DefaultConnector != "" && available(cfg.DefaultConnector) {
		return decide(cfg.DefaultConnector, OutcomeDefaultSelected, nil,
			fmt.Sprintf("no rule yielded an available connector; default connector %s available", cfg.DefaultConnector)), nil
	}

	// Probes fail once ctx is done; that is not a routing outcome.
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	return Decision{}, &NoConnectorError{TraceID: order.TraceID, ConfigVersion: cfg.Version}
}

// Submit routes the order and dispatches it to the selected connector. The
// caller's order is not modified; a trace id is generated on a copy when the
// order has none. Business failures come back as a response with Success
// false. The only routing failure returned as an error is a *NoConnectorError.
func (h *Hub) Submit(ctx context.Context, order *types.Order) (*types.ConnectorResponse, error) {
	if order == nil {
		return nil, connector.ErrNilOrder
	}

	routed := *order
	if routed.TraceID == "" {
		routed.TraceID = uuid.NewString()
	}
	logger := h.logger.With().
		Str("component", "routing_hub").
		Str("trace_id", routed.TraceID).
		Str("model_order_id", routed.ModelOrderID).
		Logger()

	decision, err := h.Select(ctx, &routed)
	var noConn *NoConnectorError
	switch {
	case errors.As(err, &noConn):
		logger.Error().Err(err).Msg("no connector available for order")
		h.metrics.ObserveNoConnector()
		h.record(ctx, &routed, Decision{Outcome: OutcomeNoConnector, Reason: err.Error(), TraceID: routed.TraceID,
			ConfigVersion: noConn.ConfigVersion}, nil)
		return nil, err
	case err != nil:
		logger.Warn().Err(err).Msg("routing abandoned")
		return nil, err
	}

	logger.Info().
		Str("connector", string(decision.Connector)).
		Str("outcome", string(decision.Outcome)).
		Str("reason", decision.Reason).
		Int64("config_version", decision.ConfigVersion).
		Msg("routing decision")
	h.metrics.ObserveDecision(string(decision.Connector), string(decision.Outcome))

	conn := h.connectors[decision.Connector]
	submitCtx, cancel := context.WithTimeout(ctx, h.submitTimeout)
	start := time.Now()
	resp, err := conn.SubmitOrder(submitCtx, &routed)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("submit to %s: %w", decision.Connector, err)
	}

	resp.TraceID = routed.TraceID
	h.metrics.ObserveSubmission(string(decision.Connector), resp.Success, time.Since(start).Seconds())
	h.record(ctx, &routed, decision, resp)

	if !resp.Success {
		logger.Warn().
			Str("connector", string(decision.Connector)).
			Str("error_code", resp.ErrorCode).
			Str("error", resp.Error).
			Msg("connector rejected order")
	}
	return resp, nil
}

func (h *Hub) probe(ctx context.Context, t types.ConnectorType) bool {
	c, ok := h.connectors[t]
	if !ok {
		h.logger.Warn().Str("connector", string(t)).Msg("routing references an unregistered connector")
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()
	return c.IsAvailable(probeCtx)
}

// record stores the decision and dispatch result. Failures are logged and
// never affect the submission.
func (h *Hub) record(ctx context.Context, order *types.Order, decision Decision, resp *types.ConnectorResponse) {
	if h.db == nil {
		return
	}
	rec := &DecisionRecord{
		TraceID:       decision.TraceID,
		ModelOrderID:  order.ModelOrderID,
		ClientID:      order.ClientID,
		Connector:     decision.Connector,
		Outcome:       decision.Outcome,
		Reason:        decision.Reason,
		ConfigVersion: decision.ConfigVersion,
	}
	if resp != nil {
		rec.Success = resp.Success
		rec.RefNo = resp.RefNo()
		rec.ErrorCode = resp.ErrorCode
		rec.Error = resp.Error
	}
	if err := h.db.CreateDecision(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Error().Err(err).Str("trace_id", decision.TraceID).Msg("failed to record routing decision")
	}
}

func (r Rule) describe() string {
	s := fmt.Sprintf("priority=%d", r.Priority)
	if r.Scheme != "" {
		s += fmt.Sprintf(" scheme=%q", r.Scheme)
	}
	if r.TransactionType != "" {
		s += fmt.Sprintf(" transaction_type=%q", r.TransactionType)
	}
	return s
}
