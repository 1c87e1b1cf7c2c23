package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

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

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the holdings API server with graceful shutdown
// support. It sets up all required services, database connections, and API
// routes.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.GetTokenExpiry())
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	accountsService := accounts.NewService(db)
	accountsHandlers := accounts.NewGinHandlers(accountsService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService, func(accountID, ownerID string) error {
		_, err := accountsService.Authorize(accountID, ownerID)
		return err
	})

	lotsService := lots.NewService(db)
	lotsHandlers := lots.NewGinHandlers(lotsService, accountsService)

	pricingService := pricing.NewService(db, cfg.Pricing.GetStalenessWindow())
	pricingHandlers := pricing.NewGinHandlers(pricingService)

	positionsService := positions.NewService(db, lotsService, pricingService)
	positionsHandlers := positions.NewGinHandlers(positionsService, accountsService)

	corporateService := corporate.NewService(db, lotsService)
	rebuilder := corporate.NewRebuilder(db, lotsService, positionsService)
	corporateHandlers := corporate.NewGinHandlers(corporateService, rebuilder)

	snapshotService := snapshot.NewService(db, accountsService, lotsService, ledgerService, pricingService, corporateService)
	snapshotHandlers := snapshot.NewGinHandlers(snapshotService, accountsService)

	// Create and start snapshot processor
	snapshotProcessor := snapshot.NewProcessor(snapshotService, accountsService, cfg.Snapshot.GetInterval())
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go snapshotProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret,
		authHandlers, accountsHandlers, ledgerHandlers, lotsHandlers,
		pricingHandlers, positionsHandlers, corporateHandlers, snapshotHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Account routes: Protected by JWT authentication, ownership-checked
// - Internal routes: Protected by internal network authentication
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

		// Internal routes (should be protected by internal network)
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
