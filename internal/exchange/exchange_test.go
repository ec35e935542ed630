package exchange

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/types"
)

type stubGateway struct {
	mu       sync.Mutex
	payloads []Payload
	placeErr error
	block    bool
	down     bool
}

func (g *stubGateway) Place(ctx context.Context, payload Payload) error {
	g.mu.Lock()
	g.payloads = append(g.payloads, payload)
	placeErr, block := g.placeErr, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return placeErr
}

func (g *stubGateway) Ping(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return ErrGatewayDown
	}
	return nil
}

func (g *stubGateway) placed() []Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Payload(nil), g.payloads...)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&BookEntry{}))
	return db
}

func newTestConnector(t *testing.T, gw Gateway, out *bytes.Buffer) *Connector {
	t.Helper()
	lg := zerolog.Nop()
	if out != nil {
		lg = zerolog.New(out)
	}
	return NewConnector(newTestDB(t), Options{
		SupportedSchemes: []string{"Alpha Growth", "Beta Debt"},
		Gateway:          gw,
		Logger:           &lg,
		Now:              func() time.Time { return time.Date(2024, 1, 5, 14, 3, 9, 0, time.UTC) },
	})
}

func testOrder(id string) *types.Order {
	return &types.Order{
		ModelOrderID:       id,
		ClientID:           "CL001",
		TransactionMode:    types.ModeDemat,
		IPAddress:          "10.1.2.3",
		TraceID:            "trace-" + id,
		OptOutOfNomination: true,
		CartItems: []types.CartItem{
			{ProductID: "1", SchemeName: "Alpha Growth", TransactionType: types.Purchase, Amount: decimal.NewFromInt(5000)},
			{ProductID: "2", SchemeName: "Beta Debt", TransactionType: types.Redemption, Amount: decimal.NewFromInt(1200)},
		},
	}
}

func auditRecords(t *testing.T, buf *bytes.Buffer, event string) []map[string]interface{} {
	t.Helper()
	var records []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		if rec["event"] == event {
			records = append(records, rec)
		}
	}
	return records
}

func TestConnector_ValidateOrder(t *testing.T) {
	c := newTestConnector(t, &stubGateway{}, nil)

	t.Run("valid order", func(t *testing.T) {
		result := c.ValidateOrder(testOrder("M1"))
		assert.True(t, result.IsValid)
	})

	t.Run("missing model order id", func(t *testing.T) {
		order := testOrder("")
		result := c.ValidateOrder(order)
		assert.Equal(t, []string{"Model order ID is required"}, result.Errors)
	})

	t.Run("empty cart", func(t *testing.T) {
		order := testOrder("M1")
		order.CartItems = nil
		result := c.ValidateOrder(order)
		assert.Equal(t, []string{"Cart cannot be empty"}, result.Errors)
	})

	t.Run("scheme outside whitelist", func(t *testing.T) {
		order := testOrder("M1")
		order.CartItems[1].SchemeName = "Gamma Liquid"
		result := c.ValidateOrder(order)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], `"Gamma Liquid" is not supported`)
	})

	t.Run("full liquidation is not exchange eligible", func(t *testing.T) {
		for _, tt := range []types.TransactionType{types.FullRedemption, types.FullSwitch} {
			order := testOrder("M1")
			order.CartItems[0].TransactionType = tt
			result := c.ValidateOrder(order)
			require.Len(t, result.Errors, 1, tt)
			assert.Contains(t, result.Errors[0], "transaction type")
		}
	})

	t.Run("nil order", func(t *testing.T) {
		assert.False(t, c.ValidateOrder(nil).IsValid)
	})
}

func TestConnector_SubmitOrder(t *testing.T) {
	t.Run("successful submission", func(t *testing.T) {
		gw := &stubGateway{}
		var buf bytes.Buffer
		c := newTestConnector(t, gw, &buf)

		resp, err := c.SubmitOrder(context.Background(), testOrder("M100"))

		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, types.ConnectorExchange, resp.Connector)
		assert.True(t, strings.HasPrefix(resp.ExchangeRefNo, "EXCH20240105"))
		assert.Empty(t, resp.RTARefNo)
		assert.Equal(t, "trace-M100", resp.TraceID)

		payloads := gw.placed()
		require.Len(t, payloads, 1)
		assert.Equal(t, "05012024", payloads[0].Date)
		assert.Equal(t, "140309", payloads[0].Time)
		assert.Equal(t, "10.1.2.3", payloads[0].IPAddress)
		assert.Equal(t, "trace-M100", payloads[0].TraceID)
		assert.Equal(t, resp.ExchangeRefNo, payloads[0].OrderRef)
		require.Len(t, payloads[0].Legs, 2)
		assert.Equal(t, "P", payloads[0].Legs[0].BuySell)
		assert.Equal(t, "R", payloads[0].Legs[1].BuySell)

		status, err := c.GetStatus(context.Background(), "M100")
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, status)

		status, err = c.GetStatus(context.Background(), resp.ExchangeRefNo)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, status)
	})

	t.Run("writes one audit record", func(t *testing.T) {
		var buf bytes.Buffer
		c := newTestConnector(t, &stubGateway{}, &buf)

		resp, err := c.SubmitOrder(context.Background(), testOrder("M101"))
		require.NoError(t, err)

		records := auditRecords(t, &buf, auditSubmitted)
		require.Len(t, records, 1)
		rec := records[0]
		assert.NotEmpty(t, rec["orderId"])
		assert.Equal(t, "M101", rec["modelOrderId"])
		assert.Equal(t, resp.ExchangeRefNo, rec["exchangeRefNo"])
		assert.Equal(t, "10.1.2.3", rec["ipAddress"])
		assert.Equal(t, "05012024", rec["date"])
		assert.Equal(t, "140309", rec["time"])
		assert.Equal(t, "trace-M101", rec["traceId"])
		assert.Equal(t, "2024-01-05T14:03:09Z", rec["timestamp"])
	})

	t.Run("generates a trace id when absent", func(t *testing.T) {
		c := newTestConnector(t, &stubGateway{}, nil)
		order := testOrder("M102")
		order.TraceID = ""

		resp, err := c.SubmitOrder(context.Background(), order)

		require.NoError(t, err)
		assert.NotEmpty(t, resp.TraceID)
		assert.Empty(t, order.TraceID)
	})

	t.Run("validation failure is a response not an error", func(t *testing.T) {
		gw := &stubGateway{}
		c := newTestConnector(t, gw, nil)
		order := testOrder("M103")
		order.CartItems[0].SchemeName = "Unknown Fund"

		resp, err := c.SubmitOrder(context.Background(), order)

		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, connector.ExchangeValidationFailed, resp.ErrorCode)
		assert.True(t, strings.HasPrefix(resp.ErrorCode, "EXCH-VAL-"))
		assert.Contains(t, resp.Error, "Unknown Fund")
		assert.Empty(t, resp.ExchangeRefNo)
		assert.Empty(t, gw.placed())
	})

	t.Run("gateway rejection marks the order rejected", func(t *testing.T) {
		c := newTestConnector(t, &stubGateway{placeErr: errors.New("member limit breached")}, nil)

		resp, err := c.SubmitOrder(context.Background(), testOrder("M104"))

		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, connector.ExchangeGatewayRejected, resp.ErrorCode)
		assert.Contains(t, resp.Error, "member limit breached")

		status, err := c.GetStatus(context.Background(), "M104")
		require.NoError(t, err)
		assert.Equal(t, types.StatusRejected, status)
	})

	t.Run("deadline while placing", func(t *testing.T) {
		c := newTestConnector(t, &stubGateway{block: true}, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		resp, err := c.SubmitOrder(ctx, testOrder("M105"))

		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, connector.ExchangeGatewayTimeout, resp.ErrorCode)

		status, err := c.GetStatus(context.Background(), "M105")
		require.NoError(t, err)
		assert.Equal(t, types.StatusRejected, status)
	})

	t.Run("nil order is a programmer error", func(t *testing.T) {
		c := newTestConnector(t, &stubGateway{}, nil)
		resp, err := c.SubmitOrder(context.Background(), nil)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, connector.ErrNilOrder)
	})
}

func TestConnector_SubmitOrder_ConcurrentReferencesAreDistinct(t *testing.T) {
	c := newTestConnector(t, &stubGateway{}, nil)

	const n = 100
	refs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.SubmitOrder(context.Background(), testOrder(fmt.Sprintf("C%03d", i)))
			if assert.NoError(t, err) && assert.True(t, resp.Success, resp.Error) {
				refs[i] = resp.ExchangeRefNo
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, ref := range refs {
		require.NotEmpty(t, ref)
		require.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}
}

func TestConnector_CancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order is cancelled", func(t *testing.T) {
		c := newTestConnector(t, &stubGateway{}, nil)
		_, err := c.SubmitOrder(ctx, testOrder("X1"))
		require.NoError(t, err)

		resp, err := c.CancelOrder(ctx, "X1", "client request")

		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, types.StatusCancelled, resp.Status)
		require.NotNil(t, resp.CancelledAt)

		status, err := c.GetStatus(ctx, "X1")
		require.NoError(t, err)
		assert.Equal(t, types.StatusCancelled, status)
	})

	t.Run("authorized order is cancelled", func(t *testing.T) {
		c := newTestConnector(t, &stubGateway{}, nil)
		_, err := c.SubmitOrder(ctx, testOrder("X2"))
		require.NoError(t, err)
		require.NoError(t, c.UpdateStatus(ctx, "X2", types.StatusAuthorized))

		resp, err := c.CancelOrder(ctx, "X2", "")
		require.NoError(t, err)
		assert.True(t, resp.Success)
	})

	for _, terminal := range []types.OrderStatus{types.StatusExecuted, types.StatusSettled} {
		t.Run(terminal.String()+" order cannot be cancelled", func(t *testing.T) {
			c := newTestConnector(t, &stubGateway{}, nil)
			_, err := c.SubmitOrder(ctx, testOrder("T1"))
			require.NoError(t, err)
			require.NoError(t, c.UpdateStatus(ctx, "T1", terminal))

			resp, err := c.CancelOrder(ctx, "T1", "too late")

			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, terminal, resp.Status)

			status, err := c.GetStatus(ctx, "T1")
			require.NoError(t, err)
			assert.Equal(t, terminal, status)
		})
	}

	t.Run("execution landing after the read wins", func(t *testing.T) {
		db := newTestDB(t)
		lg := zerolog.Nop()
		c := NewConnector(db, Options{SupportedSchemes: []string{"Alpha Growth", "Beta Debt"}, Gateway: &stubGateway{}, Logger: &lg})
		_, err := c.SubmitOrder(ctx, testOrder("R1"))
		require.NoError(t, err)

		// Executes the order right after the first book read inside CancelOrder.
		var armed atomic.Bool
		armed.Store(true)
		require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:execute_after_read", func(tx *gorm.DB) {
			if !armed.CompareAndSwap(true, false) {
				return
			}
			tx.Session(&gorm.Session{NewDB: true}).Model(&BookEntry{}).
				Where("model_order_id = ?", "R1").
				Update("status", types.StatusExecuted)
		}))

		resp, err := c.CancelOrder(ctx, "R1", "client request")

		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, types.StatusExecuted, resp.Status)
		assert.Nil(t, resp.CancelledAt)

		status, err := c.GetStatus(ctx, "R1")
		require.NoError(t, err)
		assert.Equal(t, types.StatusExecuted, status)
	})

	t.Run("unknown order", func(t *testing.T) {
		c := newTestConnector(t, &stubGateway{}, nil)
		resp, err := c.CancelOrder(ctx, "nope", "")
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, connector.ErrOrderNotFound)
	})
}

func TestConnector_IsAvailable(t *testing.T) {
	gw := &stubGateway{}
	c := newTestConnector(t, gw, nil)

	assert.True(t, c.IsAvailable(context.Background()))

	gw.mu.Lock()
	gw.down = true
	gw.mu.Unlock()
	assert.False(t, c.IsAvailable(context.Background()))
	assert.Equal(t, types.ConnectorExchange, c.Type())
}

func TestSimulatedGateway(t *testing.T) {
	t.Run("always accepts at full success rate", func(t *testing.T) {
		gw := NewSimulatedGateway(1)
		gw.MinLatency, gw.MaxLatency = 0, 1
		require.NoError(t, gw.Place(context.Background(), Payload{OrderRef: "R1"}))
	})

	t.Run("never accepts at zero success rate", func(t *testing.T) {
		gw := NewSimulatedGateway(0)
		gw.MinLatency, gw.MaxLatency = 0, 0
		assert.ErrorIs(t, gw.Place(context.Background(), Payload{OrderRef: "R1"}), ErrOrderNotPlaced)
	})

	t.Run("down gateway fails ping and place", func(t *testing.T) {
		gw := NewSimulatedGateway(1)
		gw.SetDown(true)
		assert.ErrorIs(t, gw.Ping(context.Background()), ErrGatewayDown)
		assert.ErrorIs(t, gw.Place(context.Background(), Payload{}), ErrGatewayDown)
	})

	t.Run("honours context deadline", func(t *testing.T) {
		gw := NewSimulatedGateway(1)
		gw.MinLatency, gw.MaxLatency = 500, 500
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, gw.Place(ctx, Payload{}), context.DeadlineExceeded)
	})
}
