package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"teamsync/internal/auth"
	"teamsync/internal/config"
	"teamsync/internal/db"
	"teamsync/internal/handlers"
	"teamsync/internal/middleware"
	"teamsync/internal/observability"
	"teamsync/internal/rabbitmq"
	"teamsync/internal/repositories"
	"teamsync/internal/telemetry"
	"teamsync/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := config.Load("config")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := config.Parse(v)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing.OTLPEndpoint, "teamsync", cfg.Server.Environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	if cfg.AMQP.URL != "" {
		publisher, err := observability.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Printf("ws event publishing disabled: %v", err)
		} else {
			observability.SetPublisher(publisher)
			defer publisher.Close()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer auditPublisher.Close()
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.channels", "teamsync", cfg.Server.Environment)

	validator := auth.NewValidator(cfg.Auth.JWTSecret)

	channelRepo := repositories.NewChannelRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	hub.StartCleanup(ctx, cfg.Cleanup.Interval, cfg.Cleanup.IdleAge, channelRepo)

	syncWS := ws.NewSyncHandler(hub, channelRepo, messageRepo, validator, audit)
	channelHandler := handlers.NewChannelHandler(channelRepo, messageRepo, audit)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("teamsync"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/channels", authMiddleware, channelHandler.ListChannels)
	router.POST("/channels", authMiddleware, channelHandler.CreateChannel)
	router.GET("/channels/:channel_id/messages", authMiddleware, channelHandler.GetHistory)

	router.GET("/ws", syncWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.Server.Environment != "production")

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
