// Package main runs the event check-in HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eventgate/backend/config"
	"github.com/eventgate/backend/internal/attendance"
	"github.com/eventgate/backend/internal/auth"
	"github.com/eventgate/backend/internal/clock"
	"github.com/eventgate/backend/internal/events"
	"github.com/eventgate/backend/internal/middleware"
	"github.com/eventgate/backend/internal/models"
	"github.com/eventgate/backend/internal/realtime"
	"github.com/eventgate/backend/internal/registrations"
	"github.com/eventgate/backend/internal/roles"
	"github.com/eventgate/backend/internal/store"
	"github.com/eventgate/backend/internal/store/postgres"
	"github.com/eventgate/backend/internal/store/sqlite"
	"github.com/eventgate/backend/internal/verification"
	"github.com/eventgate/backend/pkg/database"
	"github.com/eventgate/backend/pkg/queue"
	"github.com/eventgate/backend/pkg/redis"
	"github.com/eventgate/backend/pkg/response"
	"github.com/eventgate/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer st.Close()

	clk := clock.Real()

	var (
		broker  realtime.Broker = realtime.NewLocalBroker()
		revoker auth.Revoker    = auth.NewMemoryRevoker(clk)
		jobs    registrations.JobQueue
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		broker = realtime.NewRedisBroker(rdb.Client, logger)
		revoker = auth.NewRedisRevoker(rdb.Client, clk)
		jobs = queue.NewQueue(rdb.Client, logger)
	} else {
		logger.Info("redis disabled, using in-process broker and revocation")
	}

	var s3Client *storage.S3
	if cfg.AWS.TicketsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			TicketsBucket:        cfg.AWS.TicketsBucket,
			Endpoint:             cfg.AWS.Endpoint,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	hub := realtime.NewHub(broker, logger)

	// Events
	directory := events.NewDirectory(st, broker, clk, cfg.Events.Location, logger)
	eventHandler := events.NewHandler(directory, logger)

	// Registrations
	ledger := registrations.NewLedger(st, jobs, broker, clk, logger)
	var images registrations.ImageURLs
	if s3Client != nil {
		directory.SetImageRemover(s3Client)
		images = s3Client
	}
	registrationHandler := registrations.NewHandler(ledger, st, images, logger)

	// Attendance and scanning sessions
	gate := attendance.NewGate(st, broker, clk, logger)
	attendanceHandler := attendance.NewHandler(gate, logger)
	sessions := verification.NewManager(gate, clk, verification.Options{
		Debounce:    cfg.Session.ScanDebounce,
		RecentLimit: cfg.Session.RecentLimit,
	}, logger)
	verificationHandler := verification.NewHandler(sessions, logger)

	// Auth
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.TTL, clk)
	authService := auth.NewService(st, jwtService, revoker, broker, sessions, clk, auth.Config{
		Whitelist:      roles.NewWhitelist(cfg.Roles.AdminEmails...),
		ResolveTimeout: cfg.Roles.ResolveTimeout,
		IdleTimeout:    cfg.Session.IdleTimeout,
	}, logger)
	defer authService.Close()
	authHandler := auth.NewHandler(authService, logger)

	wsAuthenticate := func(token string) (string, models.Role, error) {
		p, err := authService.Authenticate(context.Background(), token)
		if err != nil {
			return "", "", err
		}
		return p.UserID, p.Role, nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public: event listing, registration and ticket display
	router.GET("/events", eventHandler.List)
	router.GET("/events/:id", eventHandler.Get)
	router.POST("/events/:id/register", registrationHandler.Register)
	router.GET("/tickets/:id", registrationHandler.Ticket)
	router.GET("/tickets/:id/qr.png", registrationHandler.QRCode)
	router.GET("/tickets/:id/image-url", registrationHandler.ImageURL)

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(authService))
	{
		api.GET("/auth/me", authHandler.Me)
		api.POST("/auth/logout", authHandler.Logout)

		// Users (admin only)
		api.GET("/users", middleware.RequireRole(models.RoleAdmin), authHandler.ListUsers)
		api.PATCH("/users/:id/role", middleware.RequireRole(models.RoleAdmin), authHandler.UpdateRole)

		// Event management
		api.POST("/events", middleware.RequireRole(models.RoleAdmin), eventHandler.Create)
		api.PATCH("/events/:id", middleware.RequireRole(models.RoleAdmin), eventHandler.Update)
		api.DELETE("/events/:id", middleware.RequireRole(models.RoleAdmin), eventHandler.Delete)
		api.GET("/events/:id/stats", middleware.RequireRole(models.RoleOfficer), eventHandler.Stats)
		api.GET("/events/:id/registrations", middleware.RequireRole(models.RoleOfficer), registrationHandler.ListForEvent)
		api.GET("/events/:id/registrations/lookup", middleware.RequireRole(models.RoleOfficer), registrationHandler.Lookup)

		// Check-in
		staff := api.Group("", middleware.RequireRole(models.RoleOfficer))
		staff.POST("/tickets/:id/redeem", attendanceHandler.Redeem)
		staff.POST("/attendance/resolve", attendanceHandler.Resolve)
		staff.POST("/scan-sessions", verificationHandler.Start)
		staff.GET("/scan-sessions/:id", verificationHandler.Get)
		staff.POST("/scan-sessions/:id/scan", verificationHandler.Scan)
		staff.POST("/scan-sessions/:id/manual", verificationHandler.Manual)
		staff.DELETE("/scan-sessions/:id", verificationHandler.End)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, wsAuthenticate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("db_driver", cfg.Database.Driver),
			zap.Bool("redis", cfg.Redis.Enabled),
			zap.Bool("ticket_images", s3Client != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped", zap.Int("open_scan_sessions", sessions.Count()))
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Store, error) {
	if cfg.Driver == "sqlite" {
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLite store opened", zap.String("path", cfg.SQLitePath))
		return st, nil
	}
	pool, err := database.NewPostgresPool(ctx, cfg.URL, cfg.MaxConns, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return postgres.New(pool), nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
