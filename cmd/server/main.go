package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/config"
	"github.com/smarttransit/tourism-booking-core/internal/database"
	"github.com/smarttransit/tourism-booking-core/internal/events"
	"github.com/smarttransit/tourism-booking-core/internal/handlers"
	"github.com/smarttransit/tourism-booking-core/internal/middleware"
	"github.com/smarttransit/tourism-booking-core/internal/models"
	"github.com/smarttransit/tourism-booking-core/internal/services"
	"github.com/smarttransit/tourism-booking-core/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting tourism booking core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.WithField("driver", cfg.Database.Driver).Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Repositories
	slotRepository := database.NewSlotRepository(db)
	bookingRepository := database.NewBookingRepository(db)
	paymentRepository := database.NewPaymentRepository(db)
	commissionRepository := database.NewCommissionRepository(db)
	paymentAuditRepository := database.NewPaymentAuditRepository(db, logger)

	// Search cache
	var searchCache services.SearchCache = services.NoopSearchCache{}
	if cfg.Redis.URL != "" {
		redisClient, err := services.NewRedisClient(context.Background(), cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, availability search cache disabled")
		} else {
			defer redisClient.Close()
			searchCache = services.NewRedisSearchCache(redisClient, cfg.Redis.SearchCacheTTL, logger)
			logger.Info("✓ Availability search cache enabled")
		}
	}

	// Domain events
	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.WithField("topic", cfg.Kafka.Topic).Info("✓ Domain event publishing enabled")
	}
	defer publisher.Close()

	// Payment gateways
	gateways := services.NewGatewayRegistry()
	gateways.Register(services.NewPayableGateway(cfg.Payment.Payable, logger))
	if cfg.Payment.Stripe.SecretKey != "" {
		gateways.Register(services.NewStripeGateway(cfg.Payment.Stripe, logger))
	}
	if err := gateways.SetDefault(models.GatewayName(cfg.Payment.DefaultGateway)); err != nil {
		logger.Fatalf("Failed to select default payment gateway: %v", err)
	}
	logger.WithField("gateways", gateways.Names()).Info("Payment gateways registered")

	// Services
	availabilityConfig := services.DefaultAvailabilityConfig()
	availabilityConfig.DefaultCurrency = cfg.Payment.DefaultCurrency
	availabilityService := services.NewAvailabilityService(slotRepository, searchCache, availabilityConfig, logger)

	commissionService := services.NewCommissionLedgerService(
		commissionRepository,
		bookingRepository,
		publisher,
		services.CommissionConfig{
			DefaultRate: cfg.Commission.DefaultRate,
			Currency:    cfg.Payment.DefaultCurrency,
		},
		logger,
	)

	bookingService := services.NewBookingService(
		bookingRepository,
		paymentRepository,
		availabilityService,
		commissionService,
		publisher,
		services.BookingConfig{
			ReferencePrefix: cfg.Booking.ReferencePrefix,
			MaxParticipants: cfg.Booking.MaxParticipants,
		},
		logger,
	)

	paymentLedger := services.NewPaymentLedgerService(
		paymentRepository,
		bookingRepository,
		paymentAuditRepository,
		gateways,
		bookingService,
		publisher,
		logger,
	)
	bookingService.SetRefunder(paymentLedger)

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)

	// Handlers
	availabilityHandler := handlers.NewAvailabilityHandler(availabilityService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentLedger, bookingService, logger)
	commissionHandler := handlers.NewCommissionHandler(commissionService, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.AuthMiddleware(jwtService, logger)
	staffOnly := middleware.RequireRole(middleware.RoleOperator, middleware.RoleAdmin)
	adminOnly := middleware.RequireRole(middleware.RoleAdmin)

	v1 := router.Group("/api/v1")
	{
		// Public search
		v1.GET("/availability", availabilityHandler.Search)
		v1.GET("/slots/:id", availabilityHandler.GetSlot)

		// Gateways call back without a bearer token
		v1.POST("/payments/webhook/:gateway", paymentHandler.Webhook)

		slots := v1.Group("/slots")
		slots.Use(auth, staffOnly)
		{
			slots.POST("", availabilityHandler.CreateSlot)
			slots.DELETE("/:id", availabilityHandler.DeleteSlot)
			slots.POST("/block", availabilityHandler.Block)
			slots.POST("/unblock", availabilityHandler.Unblock)
		}

		bookings := v1.Group("/bookings")
		bookings.Use(auth)
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("", bookingHandler.ListMyBookings)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/confirm", bookingHandler.ConfirmPayment)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
			bookings.POST("/:id/complete", staffOnly, bookingHandler.CompleteBooking)
			bookings.GET("/:id/payments", paymentHandler.ListBookingPayments)
		}

		payments := v1.Group("/payments")
		payments.Use(auth)
		{
			payments.POST("", paymentHandler.InitiatePayment)
			payments.GET("/:id", paymentHandler.GetTransaction)
			payments.POST("/:id/verify", paymentHandler.VerifyPayment)
			payments.POST("/:id/refund", adminOnly, paymentHandler.RefundPayment)
			payments.GET("/:id/audit", adminOnly, paymentHandler.ListAudit)
		}

		commissions := v1.Group("/commissions")
		commissions.Use(auth)
		{
			commissions.GET("", middleware.RequireRole(middleware.RoleAgent), commissionHandler.ListMyCommissions)
			commissions.POST("/payouts", middleware.RequireRole(middleware.RoleAgent), commissionHandler.RequestPayout)
			commissions.GET("/bookings/:id", commissionHandler.GetBookingCommission)
			commissions.GET("/payouts/:id", commissionHandler.GetPayout)
			commissions.POST("/payouts/:id/processing", adminOnly, commissionHandler.MarkPayoutProcessing)
			commissions.POST("/payouts/:id/settle", adminOnly, commissionHandler.SettlePayout)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
