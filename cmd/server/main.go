package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-damage-issues/internal/auth"
	"github.com/pesio-ai/be-damage-issues/internal/client"
	"github.com/pesio-ai/be-damage-issues/internal/config"
	"github.com/pesio-ai/be-damage-issues/internal/database"
	"github.com/pesio-ai/be-damage-issues/internal/handler"
	"github.com/pesio-ai/be-damage-issues/internal/logger"
	"github.com/pesio-ai/be-damage-issues/internal/middleware"
	"github.com/pesio-ai/be-damage-issues/internal/repository"
	"github.com/pesio-ai/be-damage-issues/internal/service"
	"github.com/pesio-ai/be-damage-issues/internal/workflow"
	"github.com/pesio-ai/be-damage-issues/migrations"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Damage Issues Service")

	threshold, err := decimal.NewFromString(cfg.Workflow.OperationThreshold)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.Workflow.OperationThreshold).Msg("Invalid operation threshold")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if cfg.Database.AutoMigrate {
		scripts, err := migrations.All()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load migrations")
		}
		sqls := make([]string, 0, len(scripts))
		for _, s := range scripts {
			sqls = append(sqls, s.SQL)
		}
		if err := db.Migrate(ctx, sqls...); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Int("scripts", len(scripts)).Msg("Schema migrations applied")
	}

	// Initialize repositories
	stepsRepo := repository.NewApprovalStepsRepository(db)
	documentRepo := repository.NewDocumentRepository(db, stepsRepo)
	auditRepo := repository.NewApprovalAuditRepository(db)

	// Notifications are optional; without NATS events are dropped
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = client.Connect(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer natsConn.Drain()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, notifications disabled")
	}
	publisher := client.NewNotificationPublisher(natsConn, cfg.NATS.SubjectPrefix, log.Logger)

	// Initialize services
	engine := workflow.NewEngine(
		workflow.WithThreshold(threshold),
		workflow.WithLogger(log.Logger),
	)
	log.Info().Str("operation_threshold", engine.Router().Threshold().String()).Msg("Workflow engine ready")
	documentService := service.NewDocumentService(documentRepo, auditRepo, engine, publisher, log)
	workflowService := service.NewWorkflowService(documentRepo, auditRepo, engine, publisher, log)

	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(documentService, workflowService, log)
	mux := http.NewServeMux()
	httpHandler.Routes(mux)

	// Apply middleware
	var h http.Handler = mux
	h = auth.HTTPMiddleware(validator, "/health")(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcHandler := handler.NewGRPCHandler(documentService, workflowService, log.Logger)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryServerInterceptor(validator)))
	handler.RegisterDamageWorkflowServiceServer(grpcServer, grpcHandler)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
