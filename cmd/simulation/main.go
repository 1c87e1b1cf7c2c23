package main

import (
	"bytes"
	"encoding/json"
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
	"github.com/tallyr/holdings-api/internal/accounts"
	"github.com/tallyr/holdings-api/internal/auth"
	"github.com/tallyr/holdings-api/internal/config"
	"github.com/tallyr/holdings-api/internal/corporate"
	"github.com/tallyr/holdings-api/internal/database"
	"github.com/tallyr/holdings-api/internal/ledger"
	"github.com/tallyr/holdings-api/internal/lots"
	"github.com/tallyr/holdings-api/internal/positions"
	"github.com/tallyr/holdings-api/internal/pricing"
	"github.com/tallyr/holdings-api/internal/snapshot"
	"github.com/tallyr/holdings-api/pkg/middleware"
)

const (
	minTrades     = 15
	maxTrades     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the holdings API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"account":   {name: "Create Account"},
			"price":     {name: "Add Price"},
			"record":    {name: "Record Transaction"},
			"positions": {name: "List Positions"},
			"gains":     {name: "Realized Gains"},
			"snapshot":  {name: "Compute Snapshot"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// doJSON sends an authenticated JSON request and decodes the envelope's
// data field into out.
func (sc *simulationClient) doJSON(method, path, statsKey string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statsKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	if method == "POST" {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statsKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statsKey].failures++
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// createAccount opens a new account and returns its ID
func (sc *simulationClient) createAccount(name string) (string, error) {
	var account accounts.Account
	err := sc.doJSON("POST", "/api/v1/accounts", "account", map[string]string{
		"name":          name,
		"base_currency": "USD",
	}, &account)
	if err != nil {
		return "", err
	}
	if account.AccountID == "" {
		return "", fmt.Errorf("no account ID in response")
	}
	return account.AccountID, nil
}

// addPrice seeds one price observation through the internal ingestion route
func (sc *simulationClient) addPrice(symbol string, price float64) error {
	return sc.doJSON("POST", "/api/v1/internal/prices", "price", map[string]interface{}{
		"symbol":   symbol,
		"price":    price,
		"currency": "USD",
	}, nil)
}

// recordTransaction posts one trade and returns the engine's result
func (sc *simulationClient) recordTransaction(accountID, symbol, side string, quantity, price float64) (*lots.TradeResult, error) {
	var result lots.TradeResult
	err := sc.doJSON("POST", fmt.Sprintf("/api/v1/accounts/%s/transactions", accountID), "record", map[string]interface{}{
		"symbol":     symbol,
		"side":       side,
		"quantity":   quantity,
		"price":      price,
		"fee":        1.5,
		"trade_date": time.Now().Format("2006-01-02"),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// listPositions fetches the account's freshly recomputed positions
func (sc *simulationClient) listPositions(accountID string) ([]positions.Position, error) {
	var out []positions.Position
	err := sc.doJSON("GET", fmt.Sprintf("/api/v1/accounts/%s/positions", accountID), "positions", nil, &out)
	return out, err
}

// realizedGains fetches the account's realized gains
func (sc *simulationClient) realizedGains(accountID string) ([]lots.RealizedGain, error) {
	var out []lots.RealizedGain
	err := sc.doJSON("GET", fmt.Sprintf("/api/v1/accounts/%s/gains", accountID), "gains", nil, &out)
	return out, err
}

// computeSnapshot triggers an on-demand snapshot for today
func (sc *simulationClient) computeSnapshot(accountID string) (*snapshot.PortfolioSnapshot, error) {
	var out snapshot.PortfolioSnapshot
	err := sc.doJSON("POST", fmt.Sprintf("/api/v1/internal/snapshots/%s", accountID), "snapshot", map[string]string{}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// tradeRecord captures one recorded buy for the sell phase
type tradeRecord struct {
	symbol   string
	quantity float64
	price    float64
}

// main runs the holdings simulation
// It starts a local API server and simulates a portfolio being traded by
// multiple concurrent workers, then reads back positions, realized gains,
// and an end-of-day snapshot
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	accountID, err := simClient.createAccount("Simulation Portfolio")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create account")
	}
	log.Info().Str("account_id", accountID).Msg("Account created")

	// Seed a valuation price for every symbol
	for _, symbol := range symbols {
		price := float64(rand.Intn(900) + 100)
		if err := simClient.addPrice(symbol, price); err != nil {
			log.Fatal().Err(err).Str("symbol", symbol).Msg("Failed to seed price")
		}
	}

	// Generate random number of buys to record
	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Msg("Starting simulation")

	tradesChan := make(chan tradeRecord, targetTrades)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			recordBuysHTTP(workerID, targetTrades/numWorkers, accountID, simClient, tradesChan)
		}(i)
	}

	// Wait for all buys to be recorded
	wg.Wait()
	close(tradesChan)

	// Tally holdings per symbol for the sell phase
	holdings := make(map[string]float64)
	buyCount := 0
	for trade := range tradesChan {
		holdings[trade.symbol] += trade.quantity
		buyCount++
	}
	log.Info().Int("buys_recorded", buyCount).Msg("All buys recorded")

	stats := struct {
		Buys        int
		Sells       int
		FailedSells int
		TotalGain   float64
		StartTime   time.Time
	}{Buys: buyCount, StartTime: time.Now()}

	// Sell roughly half of each holding
	for symbol, held := range holdings {
		quantity := held / 2
		if quantity <= 0 {
			continue
		}
		price := float64(rand.Intn(900) + 100)
		result, err := simClient.recordTransaction(accountID, symbol, "SELL", quantity, price)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Failed to record sell")
			stats.FailedSells++
			continue
		}
		stats.Sells++
		gain, _ := result.TotalGain.Float64()
		stats.TotalGain += gain
		log.Info().
			Str("symbol", symbol).
			Float64("quantity", quantity).
			Int("lots_touched", len(result.RealizedGains)).
			Str("realized_gain", result.TotalGain.String()).
			Msg("Sell recorded")
	}

	// Read back derived state
	portfolio, err := simClient.listPositions(accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list positions")
	}
	gains, err := simClient.realizedGains(accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch realized gains")
	}
	snap, err := simClient.computeSnapshot(accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute snapshot")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("HOLDINGS SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Trade Statistics
----------------
Buys Recorded:    %d
Sells Recorded:   %d
Failed Sells:     %d
Realized Gain:    $%.2f
Snapshot Total:   $%s (%s)
Duration:         %v

Position Distribution
---------------------
`, stats.Buys, stats.Sells, stats.FailedSells, stats.TotalGain,
		snap.TotalValue.StringFixed(2), snap.Status,
		duration.Round(time.Millisecond))

	// Print position distribution with simple ASCII bar chart
	maxValue := decimal.Zero
	for i := range portfolio {
		if portfolio[i].MarketValue.GreaterThan(maxValue) {
			maxValue = portfolio[i].MarketValue
		}
	}
	for i := range portfolio {
		barLength := 0
		if maxValue.IsPositive() {
			barLength = int(portfolio[i].MarketValue.Div(maxValue).Mul(decimal.NewFromInt(20)).IntPart())
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-6s: %s ($%s)\n", portfolio[i].Symbol, bar, portfolio[i].MarketValue.StringFixed(2))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("positions", len(portfolio)).
		Int("realized_gain_rows", len(gains)).
		Str("snapshot_status", snap.Status).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// recordBuysHTTP generates and submits random buys to the API
// Runs as a worker goroutine, sending recorded trades to tradesChan
func recordBuysHTTP(workerID, numTrades int, accountID string, simClient *simulationClient, tradesChan chan<- tradeRecord) {
	for i := 0; i < numTrades; i++ {
		symbol := symbols[rand.Intn(len(symbols))]
		quantity := float64(rand.Intn(100) + 1)
		price := float64(rand.Intn(900) + 100)

		result, err := simClient.recordTransaction(accountID, symbol, "BUY", quantity, price)
		if err != nil {
			log.Error().Err(err).
				Str("worker_id", fmt.Sprintf("%d", workerID)).
				Str("symbol", symbol).
				Msg("Failed to record buy")
			continue
		}

		tradesChan <- tradeRecord{symbol: symbol, quantity: quantity, price: price}
		log.Info().
			Str("worker_id", fmt.Sprintf("%d", workerID)).
			Str("transaction_id", result.Transaction.TransactionID).
			Str("symbol", symbol).
			Float64("quantity", quantity).
			Float64("price", price).
			Msg("Buy recorded")

		// Random sleep between trades
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// startServer initializes and starts the holdings API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg := config.Default()
	cfg.Database.Path = "simulation.db"

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.GetTokenExpiry())
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	accountsService := accounts.NewService(db)
	ledgerService := ledger.NewService(db)
	lotsService := lots.NewService(db)
	pricingService := pricing.NewService(db, cfg.Pricing.GetStalenessWindow())
	positionsService := positions.NewService(db, lotsService, pricingService)
	corporateService := corporate.NewService(db, lotsService)
	rebuilder := corporate.NewRebuilder(db, lotsService, positionsService)
	snapshotService := snapshot.NewService(db, accountsService, lotsService, ledgerService, pricingService, corporateService)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	accountsHandlers := accounts.NewGinHandlers(accountsService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService, func(accountID, ownerID string) error {
		_, err := accountsService.Authorize(accountID, ownerID)
		return err
	})
	lotsHandlers := lots.NewGinHandlers(lotsService, accountsService)
	pricingHandlers := pricing.NewGinHandlers(pricingService)
	positionsHandlers := positions.NewGinHandlers(positionsService, accountsService)
	corporateHandlers := corporate.NewGinHandlers(corporateService, rebuilder)
	snapshotHandlers := snapshot.NewGinHandlers(snapshotService, accountsService)

	// Setup routes
	setupRoutes(router, cfg.Auth.JWTSecret,
		authHandlers, accountsHandlers, ledgerHandlers, lotsHandlers,
		pricingHandlers, positionsHandlers, corporateHandlers, snapshotHandlers)

	// Start the server
	return router.Run(":" + cfg.Server.Port)
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	accountsHandlers *accounts.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	lotsHandlers *lots.GinHandlers,
	pricingHandlers *pricing.GinHandlers,
	positionsHandlers *positions.GinHandlers,
	corporateHandlers *corporate.GinHandlers,
	snapshotHandlers *snapshot.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Account-scoped routes
		accts := v1.Group("/accounts")
		accts.Use(middleware.JWTAuth(jwtSecret))
		{
			accts.POST("", accountsHandlers.CreateAccountHandler())
			accts.GET("", accountsHandlers.ListAccountsHandler())
			accts.GET("/:account_id", accountsHandlers.GetAccountHandler())
			accts.POST("/:account_id/deactivate", accountsHandlers.DeactivateAccountHandler())

			accts.POST("/:account_id/transactions", lotsHandlers.RecordTransactionHandler())
			accts.GET("/:account_id/transactions", ledgerHandlers.StreamTransactionsHandler())

			accts.GET("/:account_id/lots/:symbol", lotsHandlers.GetOpenLotsHandler())
			accts.GET("/:account_id/gains", lotsHandlers.GetRealizedGainsHandler())

			accts.GET("/:account_id/positions", positionsHandlers.ListPositionsHandler())
			accts.GET("/:account_id/positions/:symbol", positionsHandlers.GetPositionHandler())

			accts.GET("/:account_id/snapshots", snapshotHandlers.ListSnapshotsHandler())
			accts.GET("/:account_id/snapshots/:date", snapshotHandlers.GetSnapshotHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/prices", pricingHandlers.AddPriceHandler())
			internal.POST("/fx-rates", pricingHandlers.AddFxRateHandler())
			internal.GET("/prices/:symbol", pricingHandlers.GetPriceHandler())

			internal.POST("/corporate-actions", corporateHandlers.CreateActionHandler())
			internal.GET("/corporate-actions/:action_id", corporateHandlers.GetActionHandler())
			internal.POST("/corporate-actions/:action_id/apply", corporateHandlers.ApplyActionHandler())

			internal.POST("/rebuild/:account_id", corporateHandlers.RebuildAccountHandler())
			internal.POST("/snapshots/:account_id", snapshotHandlers.ComputeSnapshotHandler())
		}
	}
}
