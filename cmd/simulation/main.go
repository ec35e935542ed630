package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-mf/internal/catalog"
	"github.com/ksred/klear-mf/internal/config"
	"github.com/ksred/klear-mf/internal/database"
	"github.com/ksred/klear-mf/internal/server"
	"github.com/ksred/klear-mf/internal/trading"
	"github.com/ksred/klear-mf/internal/types"
)

const (
	minOrders     = 20
	maxOrders     = 150
	numWorkers    = 5
	serverPort    = "8089"
	serverAddress = "http://localhost:" + serverPort
	outageEvery   = 750 * time.Millisecond
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate returns min, max, mean, median, p95 and p99 of the recorded durations
func (rs *routeStats) calculate() (lo, hi, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	lo = rs.durations[0]
	hi = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]
	return
}

// envelope is the standard API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient drives the order routing API over HTTP
type simulationClient struct {
	baseURL  string
	token    string
	opsToken string
	client   *http.Client
	stats    map[string]*routeStats
}

func newSimulationClient(cfg config.Config) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 15 * time.Second},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"submit":    {name: "Submit Order"},
			"status":    {name: "Order Status"},
			"decisions": {name: "Routing Decisions"},
		},
	}

	var err error
	if sc.token, err = sc.authenticate(cfg.APIKey, cfg.APISecret); err != nil {
		return nil, fmt.Errorf("failed to authenticate distributor: %w", err)
	}
	if sc.opsToken, err = sc.authenticate(cfg.InternalAPIKey, cfg.InternalAPISecret); err != nil {
		return nil, fmt.Errorf("failed to authenticate operations: %w", err)
	}
	return sc, nil
}

// do sends a JSON request and decodes the envelope. Any status outside
// 200-201 is returned as an error together with the decoded envelope.
func (sc *simulationClient) do(stat, method, path, token string, body interface{}, headers map[string]string) (*envelope, int, error) {
	start := time.Now()
	var (
		status int
		err    error
	)
	defer func() {
		sc.stats[stat].addDuration(time.Since(start), err != nil)
	}()

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			err = marshalErr
			return nil, 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, status, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Int("status", status).Str("response", string(respBody)).Msg("API response")

	var env envelope
	if err = json.Unmarshal(respBody, &env); err != nil {
		return nil, status, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if status != http.StatusOK && status != http.StatusCreated {
		err = fmt.Errorf("%s %s failed with status %d: %s", method, path, status, string(respBody))
		return &env, status, err
	}
	return &env, status, nil
}

func (sc *simulationClient) authenticate(key, secret string) (string, error) {
	env, _, err := sc.do("auth", http.MethodPost, "/api/v1/auth/token", "",
		map[string]string{"api_key": key, "api_secret": secret}, nil)
	if err != nil {
		return "", err
	}
	var token struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(env.Data, &token); err != nil {
		return "", err
	}
	return token.Token, nil
}

// submitOrder places an order and returns the stored submission. A 503 is
// reported as errNoChannel.
func (sc *simulationClient) submitOrder(req *trading.OrderRequest) (*trading.Submission, error) {
	env, status, err := sc.do("submit", http.MethodPost, "/api/v1/orders", sc.token, req,
		map[string]string{"Idempotency-Key": uuid.NewString()})
	if status == http.StatusServiceUnavailable {
		return nil, errNoChannel
	}
	if err != nil {
		return nil, err
	}
	var submission trading.Submission
	if err := json.Unmarshal(env.Data, &submission); err != nil {
		return nil, err
	}
	if submission.OrderID == "" {
		return nil, fmt.Errorf("no order ID in response: %s", string(env.Data))
	}
	return &submission, nil
}

func (sc *simulationClient) getOrder(orderID string) (*trading.Submission, error) {
	env, _, err := sc.do("status", http.MethodGet, "/api/v1/orders/"+orderID, sc.token, nil, nil)
	if err != nil {
		return nil, err
	}
	var submission trading.Submission
	if err := json.Unmarshal(env.Data, &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

type decision struct {
	Connector types.ConnectorType `json:"connector"`
	Outcome   string              `json:"outcome"`
	Reason    string              `json:"reason"`
}

func (sc *simulationClient) decisions(traceID string) ([]decision, error) {
	env, _, err := sc.do("decisions", http.MethodGet, "/api/v1/internal/routing/decisions/"+traceID, sc.opsToken, nil, nil)
	if err != nil {
		return nil, err
	}
	var out []decision
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range []string{"auth", "submit", "status", "decisions"} {
		stats := sc.stats[key]
		lo, hi, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			lo.Round(time.Millisecond),
			hi.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

var errNoChannel = errors.New("no settlement channel available")

// summary collects results from all workers
type summary struct {
	mu          sync.Mutex
	submissions []*trading.Submission
	noChannel   int
	failed      int
	byConnector map[types.ConnectorType]int
	byType      map[types.TransactionType]int
	total       decimal.Decimal
}

func (s *summary) add(req *trading.OrderRequest, sub *trading.Submission, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, errNoChannel):
		s.noChannel++
		return
	case err != nil:
		s.failed++
		return
	}
	s.submissions = append(s.submissions, sub)
	s.byConnector[sub.Connector]++
	for _, item := range req.CartItems {
		s.byType[item.TransactionType]++
		s.total = s.total.Add(item.Amount)
	}
}

// randomOrder builds a valid single-item order for one of the demo products.
// Redemptions carry a market value so pre-flight checks pass.
func randomOrder(workerID, n int, products []types.Product) *trading.OrderRequest {
	product := products[rand.Intn(len(products))]
	txTypes := []types.TransactionType{types.Purchase, types.Purchase, types.Redemption, types.FullRedemption}
	txType := txTypes[rand.Intn(len(txTypes))]

	amount := product.MinInvestment.Mul(decimal.NewFromInt(int64(rand.Intn(4) + 1)))
	if product.MaxInvestment != nil && amount.GreaterThan(*product.MaxInvestment) {
		amount = *product.MaxInvestment
	}

	req := &trading.OrderRequest{
		Order: types.Order{
			ModelOrderID:       fmt.Sprintf("MO-%d-%d-%s", workerID, n, uuid.NewString()[:8]),
			ClientID:           fmt.Sprintf("CLIENT_%d", workerID),
			TransactionMode:    types.ModeDemat,
			OptOutOfNomination: true,
			CartItems: []types.CartItem{{
				ProductID:       product.ProductID,
				SchemeName:      product.SchemeName,
				TransactionType: txType,
				Amount:          amount,
				CloseAc:         txType.IsFullLiquidation(),
			}},
		},
	}
	if txType == types.Redemption {
		req.MarketValues = map[string]decimal.Decimal{product.ProductID: amount.Mul(decimal.NewFromInt(2))}
	}
	return req
}

// submitOrders runs as a worker goroutine
func submitOrders(workerID, numOrders int, sc *simulationClient, products []types.Product, results *summary) {
	for i := 0; i < numOrders; i++ {
		req := randomOrder(workerID, i, products)
		item := req.CartItems[0]

		sub, err := sc.submitOrder(req)
		results.add(req, sub, err)
		if err != nil {
			log.Warn().Err(err).
				Int("worker_id", workerID).
				Str("scheme", item.SchemeName).
				Str("transaction_type", string(item.TransactionType)).
				Msg("Order not submitted")
			continue
		}

		log.Info().
			Int("worker_id", workerID).
			Str("order_id", sub.OrderID).
			Str("scheme", item.SchemeName).
			Str("transaction_type", string(item.TransactionType)).
			Str("connector", string(sub.Connector)).
			Str("ref_no", sub.RefNo).
			Bool("success", sub.Success).
			Msg("Order submitted")

		time.Sleep(time.Duration(rand.Intn(150)) * time.Millisecond)
	}
}

// toggleOutages flips the exchange gateway up and down until ctx is done
func toggleOutages(ctx context.Context, srv *server.Server) {
	ticker := time.NewTicker(outageEvery)
	defer ticker.Stop()
	down := false
	for {
		select {
		case <-ctx.Done():
			srv.Gateway.SetDown(false)
			return
		case <-ticker.C:
			down = !down
			srv.Gateway.SetDown(down)
			log.Info().Bool("exchange_down", down).Msg("Exchange gateway toggled")
		}
	}
}

func startServer(ctx context.Context, cfg config.Config) (*server.Server, *http.Server, error) {
	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	srv, err := server.New(ctx, cfg, db)
	if err != nil {
		return nil, nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	return srv, httpServer, nil
}

// main starts an in-process API and drives concurrent distributors against it
// while the exchange gateway flaps.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.DBPath = ":memory:"
	cfg.Port = serverPort
	cfg.SeedProducts = true
	cfg.OrderRatePerMinute = 60000
	cfg.OrderRateBurst = 1000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, httpServer, err := startServer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	time.Sleep(500 * time.Millisecond)

	sc, err := newSimulationClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	outageCtx, stopOutages := context.WithCancel(ctx)
	go toggleOutages(outageCtx, srv)

	products := catalog.DemoProducts()
	results := &summary{
		byConnector: make(map[types.ConnectorType]int),
		byType:      make(map[types.TransactionType]int),
	}
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			submitOrders(workerID, targetOrders/numWorkers, sc, products, results)
		}(i)
	}
	wg.Wait()
	stopOutages()

	// Reference numbers must never repeat across channels.
	refs := make(map[string]string, len(results.submissions))
	duplicates := 0
	statuses := make(map[string]int)
	outcomes := make(map[string]int)
	for _, sub := range results.submissions {
		if sub.RefNo != "" {
			if other, ok := refs[sub.RefNo]; ok {
				duplicates++
				log.Error().Str("ref_no", sub.RefNo).Str("order_id", sub.OrderID).Str("other_order_id", other).Msg("Duplicate reference number")
			}
			refs[sub.RefNo] = sub.OrderID
		}

		if current, err := sc.getOrder(sub.OrderID); err == nil {
			statuses[current.Status.String()]++
		}
		if list, err := sc.decisions(sub.TraceID); err == nil && len(list) > 0 {
			outcomes[list[0].Outcome]++
		}
	}
	duration := time.Since(start)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 ORDER ROUTING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
📊 Order Statistics
------------------
Submitted:          %d
No Channel (503):   %d
Failed Requests:    %d
Duplicate Refs:     %d
Total Amount:       ₹%s
Duration:           %v
`, len(results.submissions), results.noChannel, results.failed, duplicates,
		results.total.StringFixed(2), duration.Round(time.Millisecond))

	printDistribution("🔀 Connector Distribution", results.byConnector)
	printDistribution("🔁 Routing Outcomes", outcomes)
	printDistribution("📈 Transaction Types", results.byType)
	printDistribution("📉 Order Status", statuses)
	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("submitted", len(results.submissions)).
		Int("no_channel", results.noChannel).
		Int("duplicate_refs", duplicates).
		Int64("config_version", srv.Hub.Config().Version).
		Dur("duration", duration).
		Msg("Simulation completed")

	sc.printPerformanceStats()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	srv.Stop()
}

// printDistribution prints counts with a simple ASCII bar chart
func printDistribution[K ~string](title string, counts map[K]int) {
	fmt.Printf("\n%s\n%s\n", title, strings.Repeat("-", 20))
	maxCount := 0
	keys := make([]string, 0, len(counts))
	for k, count := range counts {
		keys = append(keys, string(k))
		if count > maxCount {
			maxCount = count
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		count := counts[K(k)]
		bar := strings.Repeat("█", int(float64(count)/float64(maxCount)*20))
		fmt.Printf("%-18s: %s (%d)\n", k, bar, count)
	}
}
