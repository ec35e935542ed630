package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrGatewayDown    = errors.New("exchange gateway is down")
	ErrOrderNotPlaced = errors.New("exchange did not accept the order")
)

// Gateway is the transport to the exchange platform.
type Gateway interface {
	Place(ctx context.Context, payload Payload) error
	Ping(ctx context.Context) error
}

// SimulatedGateway stands in for the exchange platform. It adds a random
// latency between MinLatency and MaxLatency and accepts orders with
// probability SuccessRate.
type SimulatedGateway struct {
	ID          string
	Name        string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1

	down atomic.Bool
}

func NewSimulatedGateway(successRate float64) *SimulatedGateway {
	return &SimulatedGateway{
		ID:          "BSE-STAR",
		Name:        "Exchange Order Platform",
		MinLatency:  5,
		MaxLatency:  30,
		SuccessRate: successRate,
	}
}

// SetDown toggles the gateway's reachability.
func (g *SimulatedGateway) SetDown(down bool) {
	g.down.Store(down)
}

func (g *SimulatedGateway) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.down.Load() {
		return ErrGatewayDown
	}
	return nil
}

func (g *SimulatedGateway) Place(ctx context.Context, payload Payload) error {
	logger := log.With().
		Str("gateway_id", g.ID).
		Str("order_ref", payload.OrderRef).
		Str("trace_id", payload.TraceID).
		Int("legs", len(payload.Legs)).
		Logger()

	if g.down.Load() {
		return ErrGatewayDown
	}

	latency := g.MinLatency
	if g.MaxLatency > g.MinLatency {
		latency += rand.Intn(g.MaxLatency - g.MinLatency + 1)
	}
	logger.Debug().Int("latency_ms", latency).Msg("simulated network latency")

	timer := time.NewTimer(time.Duration(latency) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if rand.Float64() > g.SuccessRate {
		logger.Warn().
			Float64("success_rate", g.SuccessRate).
			Msg("order placement failed due to success rate threshold")
		return fmt.Errorf("%w on %s", ErrOrderNotPlaced, g.ID)
	}

	logger.Debug().Msg("order accepted by exchange")
	return nil
}
